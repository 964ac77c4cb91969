package netdemoinspect

import (
	"fmt"
	"sort"

	"netsync/client/internal/netdemo"
	"netsync/client/internal/protocol"
)

// Snapshot describes one full state snapshot in the recording.
type Snapshot struct {
	Tick       int   `json:"tick"`
	Offset     int64 `json:"offset"`
	Compressed int   `json:"compressed"`
	Size       int   `json:"size"`
}

// Line is one record of the timeline.
type Line struct {
	Offset int64  `json:"offset"`
	Tick   int    `json:"tick"`
	Kind   string `json:"kind"`
	Detail string `json:"detail,omitempty"`
}

// MessageCount tallies one message type.
type MessageCount struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

// Report is the decoded view of a netdemo.
type Report struct {
	Path      string            `json:"path"`
	Version   uint16            `json:"version"`
	Session   string            `json:"session"`
	CreatedAt string            `json:"created_at,omitempty"`
	FirstTick int               `json:"first_tick"`
	LastTick  int               `json:"last_tick"`
	Records   int               `json:"records"`
	Reindexed bool              `json:"reindexed,omitempty"`
	Truncated bool              `json:"truncated,omitempty"`
	Messages  []MessageCount    `json:"messages"`
	Undecoded int               `json:"undecoded,omitempty"`
	Maps      []netdemo.MapMark `json:"maps,omitempty"`
	Snapshots []Snapshot        `json:"snapshots,omitempty"`
	Timeline  []Line            `json:"timeline,omitempty"`
}

// Inspect loads the netdemo at path. Up to timeline records are listed
// individually; zero omits the timeline.
func Inspect(path string, timeline int) (Report, error) {
	demo, err := netdemo.Open(path)
	if err != nil {
		return Report{}, err
	}
	report := Report{
		Path:      path,
		Version:   demo.Header.Version,
		Session:   demo.Index.Session,
		CreatedAt: demo.Index.CreatedAt,
		FirstTick: demo.Index.FirstTick,
		LastTick:  demo.Index.LastTick,
		Records:   len(demo.Records),
		Reindexed: demo.Reindexed,
		Truncated: demo.Truncated,
		Maps:      demo.Index.Maps,
	}

	codec := protocol.NewServerCodec()
	counts := make(map[string]int)
	for _, record := range demo.Records {
		//1.- Messages are tallied by type; the other records carry their own detail.
		var detail string
		switch record.Kind {
		case netdemo.KindMessage:
			msg, _, err := codec.Decode(record.Payload)
			if err != nil {
				report.Undecoded++
				detail = err.Error()
				break
			}
			name := codec.Name(msg.Type)
			counts[name]++
			detail = fmt.Sprintf("%s (%d bytes)", name, len(msg.Payload))
		case netdemo.KindMapChange:
			detail = string(record.Payload)
		case netdemo.KindSnapshot:
			snap := Snapshot{Tick: record.Tick, Offset: record.Offset, Compressed: len(record.Payload)}
			if state, err := netdemo.DecodeSnapshot(record); err == nil {
				snap.Size = len(state)
			}
			report.Snapshots = append(report.Snapshots, snap)
			detail = fmt.Sprintf("%d bytes", snap.Size)
		}
		if len(report.Timeline) < timeline {
			report.Timeline = append(report.Timeline, Line{
				Offset: record.Offset,
				Tick:   record.Tick,
				Kind:   record.Kind.String(),
				Detail: detail,
			})
		}
	}

	//2.- Busiest message types first.
	for name, count := range counts {
		report.Messages = append(report.Messages, MessageCount{Name: name, Count: count})
	}
	sort.Slice(report.Messages, func(i, j int) bool {
		if report.Messages[i].Count == report.Messages[j].Count {
			return report.Messages[i].Name < report.Messages[j].Name
		}
		return report.Messages[i].Count > report.Messages[j].Count
	})
	return report, nil
}

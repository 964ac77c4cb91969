package main

import (
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"netsync/client/internal/config"
	"netsync/client/tools/netdemo_catalog"
)

func main() {
	root := flag.String("dir", config.DefaultNetDemoDir, "directory containing netdemos")
	jsonFlag := flag.Bool("json", false, "emit JSON instead of human-readable output")
	tickRate := flag.Float64("tickrate", config.DefaultTickRate, "server ticks per second used for durations")
	flag.Parse()

	entries, skipped, err := netdemocatalog.List(*root)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	for _, skip := range skipped {
		fmt.Fprintf(os.Stderr, "skipped %s: %s\n", skip.Path, skip.Error)
	}

	if *jsonFlag {
		payload, err := netdemocatalog.MarshalEntries(entries)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		fmt.Println(string(payload))
		return
	}

	now := time.Now()
	for _, entry := range entries {
		fmt.Printf("%s (%s, %s)\n", entry.Path, humanize.Bytes(uint64(entry.Size)), humanize.RelTime(entry.Modified, now, "ago", "from now"))
		fmt.Printf("  session: %s\n", entry.Session)
		fmt.Printf("  ticks: %d-%d (%s)\n", entry.FirstTick, entry.LastTick, entry.Duration(*tickRate).Round(time.Second))
		fmt.Printf("  records: %s, messages: %s, snapshots: %d\n",
			humanize.Comma(int64(entry.Records)), humanize.Comma(int64(entry.Messages)), entry.Snapshots)
		if len(entry.Maps) > 0 {
			fmt.Printf("  maps: %s\n", strings.Join(entry.Maps, ", "))
		}
		if entry.Truncated {
			fmt.Printf("  truncated: last record was cut short\n")
		} else if entry.Reindexed {
			fmt.Printf("  reindexed: trailer missing\n")
		}
	}
	fmt.Printf("%d netdemos, %s\n", len(entries), humanize.Bytes(netdemocatalog.TotalSize(entries)))
}

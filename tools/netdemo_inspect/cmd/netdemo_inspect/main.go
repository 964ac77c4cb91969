package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"

	"github.com/dustin/go-humanize"

	"netsync/client/tools/netdemo_inspect"
)

func main() {
	path := flag.String("file", "", "Path to a netdemo")
	timeline := flag.Int("timeline", 0, "number of records to list individually")
	jsonFlag := flag.Bool("json", false, "emit JSON instead of human-readable output")
	flag.Parse()

	if *path == "" {
		fmt.Fprintln(os.Stderr, "file flag is required")
		os.Exit(1)
	}

	report, err := netdemoinspect.Inspect(*path, *timeline)
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(2)
	}

	if *jsonFlag {
		//1.- Render the report as JSON so callers can pipe the output elsewhere.
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(report); err != nil {
			fmt.Fprintln(os.Stderr, "encode error:", err)
			os.Exit(3)
		}
		return
	}

	fmt.Printf("%s (format %d)\n", report.Path, report.Version)
	fmt.Printf("  session: %s\n", report.Session)
	if report.CreatedAt != "" {
		fmt.Printf("  created: %s\n", report.CreatedAt)
	}
	fmt.Printf("  ticks: %d-%d, records: %s\n", report.FirstTick, report.LastTick, humanize.Comma(int64(report.Records)))
	if report.Truncated {
		fmt.Println("  truncated: last record was cut short")
	}
	if report.Reindexed {
		fmt.Println("  reindexed: trailer missing")
	}
	for _, mark := range report.Maps {
		fmt.Printf("  map %s at tick %d\n", mark.Name, mark.Tick)
	}
	for _, snap := range report.Snapshots {
		fmt.Printf("  snapshot at tick %d: %s (%s stored)\n", snap.Tick,
			humanize.Bytes(uint64(snap.Size)), humanize.Bytes(uint64(snap.Compressed)))
	}
	fmt.Println("  messages:")
	for _, count := range report.Messages {
		fmt.Printf("    %-20s %s\n", count.Name, humanize.Comma(int64(count.Count)))
	}
	if report.Undecoded > 0 {
		fmt.Printf("    %-20s %d\n", "undecoded", report.Undecoded)
	}
	for _, line := range report.Timeline {
		fmt.Printf("  @%-8d tick %-6d %-9s %s\n", line.Offset, line.Tick, line.Kind, line.Detail)
	}
}

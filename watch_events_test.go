package main

import (
	"context"
	"testing"
	"time"

	"netsync/client/internal/events"
	"netsync/client/internal/logging"
)

type countingPoller struct {
	calls chan struct{}
}

func (p *countingPoller) RecheckResources(context.Context) ([]string, error) {
	select {
	case p.calls <- struct{}{}:
	default:
	}
	return []string{"maps.wad"}, nil
}

func TestWatchEventsPollsWithoutDownloadEvents(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stream := events.NewStream(events.Config{})
	sub, err := stream.Subscribe(ctx, "watcher", 1)
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	defer sub.Close()

	//1.- Flood the subscriber so any need_download event would be dropped.
	for i := 0; i < 8; i++ {
		if _, err := stream.Publish(events.Envelope{Kind: events.KindSnapshotReady, WorldIndex: i + 1}); err != nil {
			t.Fatalf("Publish: %v", err)
		}
	}

	poller := &countingPoller{calls: make(chan struct{}, 1)}
	done := make(chan struct{})
	go func() {
		watchEvents(ctx, poller, sub, logging.NewTestLogger(), 5*time.Millisecond)
		close(done)
	}()

	for i := 0; i < 2; i++ {
		select {
		case <-poller.calls:
		case <-time.After(2 * time.Second):
			t.Fatalf("resource poll %d never ran", i+1)
		}
	}
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("watcher did not stop with its context")
	}
}

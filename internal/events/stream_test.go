package events

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestStreamDeliverAndAck(t *testing.T) {
	//1.- Arrange a stream and subscribe the game layer.
	stream := NewStream(Config{Retain: 8})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sub, err := stream.Subscribe(ctx, "game", 4)
	if err != nil {
		t.Fatalf("subscribe failed: %v", err)
	}

	//2.- Publish a connection, a map change and a snapshot notification.
	published := []Envelope{
		{Kind: KindConnected, Address: "127.0.0.1:10666"},
		{Kind: KindMapChange, Map: "MAP01"},
		{Kind: KindSnapshotReady, WorldIndex: 41},
	}
	for _, event := range published {
		if _, err := stream.Publish(event); err != nil {
			t.Fatalf("publish %s failed: %v", event.Kind, err)
		}
	}

	//3.- Assert sequential delivery and sequential acknowledgement.
	for i, want := range published {
		select {
		case env := <-sub.Events():
			if env.Sequence != uint64(i+1) || env.Kind != want.Kind {
				t.Fatalf("expected %s #%d, got %s #%d", want.Kind, i+1, env.Kind, env.Sequence)
			}
			if err := sub.Ack(env.Sequence); err != nil {
				t.Fatalf("ack failed: %v", err)
			}
		case <-time.After(time.Second):
			t.Fatalf("timeout waiting for event %d", i+1)
		}
	}
}

func TestStreamResendsUnackedEventsOnResubscribe(t *testing.T) {
	//1.- Establish the stream and initial subscription.
	stream := NewStream(Config{})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sub, err := stream.Subscribe(ctx, "bravo", 2)
	if err != nil {
		t.Fatalf("subscribe failed: %v", err)
	}

	//2.- Publish two events and ack only the first.
	if _, err := stream.Publish(Envelope{Kind: KindDisconnected, Reason: "timeout"}); err != nil {
		t.Fatalf("publish first failed: %v", err)
	}
	if _, err := stream.Publish(Envelope{Kind: KindNeedDownload, Resource: "maps.wad"}); err != nil {
		t.Fatalf("publish second failed: %v", err)
	}

	env := <-sub.Events()
	if env.Kind != KindDisconnected {
		t.Fatalf("expected disconnect first, got %s", env.Kind)
	}
	if err := sub.Ack(env.Sequence); err != nil {
		t.Fatalf("ack first failed: %v", err)
	}

	//3.- Read the second event without acking and close the subscription.
	<-sub.Events()
	sub.Close()

	//4.- Re-subscribe and ensure the unacked event is replayed.
	ctx2, cancel2 := context.WithCancel(context.Background())
	defer cancel2()

	replay, err := stream.Subscribe(ctx2, "bravo", 2)
	if err != nil {
		t.Fatalf("resubscribe failed: %v", err)
	}

	select {
	case env := <-replay.Events():
		if env.Kind != KindNeedDownload || env.Resource != "maps.wad" {
			t.Fatalf("expected replay of need_download, got %+v", env)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for replayed event")
	}
}

func TestStreamRejectsOutOfOrderAck(t *testing.T) {
	stream := NewStream(Config{})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sub, err := stream.Subscribe(ctx, "charlie", 2)
	if err != nil {
		t.Fatalf("subscribe failed: %v", err)
	}
	for _, index := range []int{10, 11} {
		if _, err := stream.Publish(Envelope{Kind: KindSnapshotReady, WorldIndex: index}); err != nil {
			t.Fatalf("publish failed: %v", err)
		}
	}

	first := <-sub.Events()
	second := <-sub.Events()

	//1.- Acking the second sequence before the first must fail.
	if err := sub.Ack(second.Sequence); !errors.Is(err, ErrOutOfOrderAck) {
		t.Fatalf("expected out of order error, got %v", err)
	}
	if err := sub.Ack(first.Sequence); err != nil {
		t.Fatalf("ack first failed: %v", err)
	}
	if err := sub.Ack(second.Sequence); err != nil {
		t.Fatalf("ack second failed: %v", err)
	}
}

func TestPublishValidatesPayload(t *testing.T) {
	stream := NewStream(Config{})
	cases := []Envelope{
		{Kind: KindDisconnected},
		{Kind: KindNeedDownload},
		{Kind: Kind("weather")},
	}
	for _, event := range cases {
		if _, err := stream.Publish(event); err == nil {
			t.Fatalf("expected %+v to be rejected", event)
		}
	}
	if len(stream.Recent()) != 0 {
		t.Fatal("rejected events must not be retained")
	}
}

func TestRecentHonoursRetention(t *testing.T) {
	stream := NewStream(Config{Retain: 3})
	for i := 1; i <= 5; i++ {
		if _, err := stream.Publish(Envelope{Kind: KindSnapshotReady, WorldIndex: i}); err != nil {
			t.Fatalf("publish failed: %v", err)
		}
	}
	recent := stream.Recent()
	if len(recent) != 3 {
		t.Fatalf("expected 3 retained events, got %d", len(recent))
	}
	if recent[0].WorldIndex != 3 || recent[2].WorldIndex != 5 {
		t.Fatalf("unexpected retained window %+v", recent)
	}
}

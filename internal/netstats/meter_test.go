package netstats

import (
	"math"
	"testing"
	"time"
)

func TestMeterEnforcesOutboundBudget(t *testing.T) {
	current := time.Unix(0, 0)
	clock := func() time.Time { return current }
	meter := NewMeter(100, clock)

	if !meter.Allow(60) {
		t.Fatalf("expected initial burst to be allowed")
	}
	if meter.Allow(50) {
		t.Fatalf("expected payload to be throttled while tokens depleted")
	}
	current = current.Add(500 * time.Millisecond)
	if !meter.Allow(50) {
		t.Fatalf("expected payload to pass after partial refill")
	}
	if meter.Denied() != 1 {
		t.Fatalf("expected one denied payload, got %d", meter.Denied())
	}
	if meter.Allow(101) {
		t.Fatalf("expected payload above one second of budget to be refused")
	}

	meter.Reset()
	if meter.Denied() != 0 || !meter.Allow(100) {
		t.Fatalf("expected reset to refill the budget and clear denials")
	}
}

func TestMeterReportsThroughput(t *testing.T) {
	current := time.Unix(0, 0)
	clock := func() time.Time { return current }
	meter := NewMeter(0, clock)

	meter.Observe(Inbound, 40)
	current = current.Add(time.Second)
	meter.Observe(Inbound, 60)
	meter.Drop(Inbound)
	meter.Observe(Outbound, 10)
	current = current.Add(time.Second)

	usage := meter.Snapshot()
	in, ok := usage[Inbound]
	if !ok {
		t.Fatal("missing inbound usage")
	}
	if in.Bytes != 100 || in.Packets != 2 || in.Dropped != 1 {
		t.Fatalf("unexpected inbound counters %+v", in)
	}
	if math.Abs(in.BytesPerSecond-50) > 1e-9 {
		t.Fatalf("expected 50 B/s, got %f", in.BytesPerSecond)
	}
	if usage[Outbound].Bytes != 10 {
		t.Fatalf("unexpected outbound usage %+v", usage[Outbound])
	}

	meter.Reset()
	if len(meter.Snapshot()) != 0 {
		t.Fatal("expected reset to clear counters")
	}
}

func TestMessagesSortedBySize(t *testing.T) {
	meter := NewMeter(0, nil)
	meter.ObserveMessage("svc_moveplayer", 30)
	meter.ObserveMessage("svc_print", 5)
	meter.ObserveMessage("svc_moveplayer", 30)
	messages := meter.Messages()
	if len(messages) != 2 || messages[0].Name != "svc_moveplayer" || messages[0].Count != 2 || messages[0].Bytes != 60 {
		t.Fatalf("unexpected message usage %+v", messages)
	}
}

package bus

import (
	"context"
	"testing"
	"time"
)

func TestMemoryBusDeliversSignal(t *testing.T) {
	b := NewMemoryBus()
	defer b.Close()

	ctx := context.Background()

	ch, err := b.Subscribe(ctx, SignalPricesUpdated)
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}

	if err := b.Publish(ctx, SignalPricesUpdated); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}

	select {
	case <-ch:
	case <-time.After(time.Second):
		t.Fatal("expected a delivery")
	}
}

func TestMemoryBusCoalescesBurst(t *testing.T) {
	b := NewMemoryBus()
	defer b.Close()

	ctx := context.Background()

	ch, err := b.Subscribe(ctx, SignalPricesUpdated)
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}

	// Publish a burst before the subscriber drains anything.
	for i := 0; i < 10; i++ {
		if err := b.Publish(ctx, SignalPricesUpdated); err != nil {
			t.Fatalf("Publish() error = %v", err)
		}
	}

	// At least one delivery must be pending.
	select {
	case <-ch:
	default:
		t.Fatal("expected a pending delivery after burst")
	}

	// The burst coalesced into a single pending delivery.
	select {
	case <-ch:
		t.Fatal("expected burst to coalesce into one delivery")
	default:
	}
}

func TestMemoryBusIgnoresOtherSignals(t *testing.T) {
	b := NewMemoryBus()
	defer b.Close()

	ctx := context.Background()

	ch, err := b.Subscribe(ctx, SignalPricesUpdated)
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}

	if err := b.Publish(ctx, "something.else"); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}

	select {
	case <-ch:
		t.Fatal("unexpected delivery for unrelated signal")
	default:
	}
}

func TestMemoryBusSubscribeCancel(t *testing.T) {
	b := NewMemoryBus()
	defer b.Close()

	ctx, cancel := context.WithCancel(context.Background())

	ch, err := b.Subscribe(ctx, SignalPricesUpdated)
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}

	cancel()

	// Channel closes once the cancellation is observed.
	deadline := time.After(time.Second)
	for {
		select {
		case _, ok := <-ch:
			if !ok {
				return
			}
		case <-deadline:
			t.Fatal("channel not closed after context cancellation")
		}
	}
}

func TestMemoryBusClose(t *testing.T) {
	b := NewMemoryBus()

	ch, err := b.Subscribe(context.Background(), SignalPricesUpdated)
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}

	if err := b.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	select {
	case _, ok := <-ch:
		if ok {
			t.Fatal("expected closed channel, got delivery")
		}
	case <-time.After(time.Second):
		t.Fatal("channel not closed after bus close")
	}

	// Publish after close is a no-op.
	if err := b.Publish(context.Background(), SignalPricesUpdated); err != nil {
		t.Fatalf("Publish() after close error = %v", err)
	}
}

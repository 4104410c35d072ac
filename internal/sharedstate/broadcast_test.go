package sharedstate

import (
	"context"
	"testing"
	"time"
)

func TestJoinFirstSubscriberDrivesFetchRestJustAttach(t *testing.T) {
	b := NewBroadcaster()

	_, _, first1, _, leave1 := b.Join(context.Background(), "chan-1")
	if !first1 {
		t.Fatalf("expected first subscriber to be reported as first")
	}
	_, _, first2, _, leave2 := b.Join(context.Background(), "chan-1")
	if first2 {
		t.Fatalf("expected second subscriber to not be first")
	}
	leave1()
	leave2()
}

func TestFanoutDeliversToAllSubscribers(t *testing.T) {
	b := NewBroadcaster()

	sub1, fanout, first, _, leave1 := b.Join(context.Background(), "chan-1")
	if !first {
		t.Fatalf("expected first subscriber to be first")
	}
	defer leave1()
	sub2, _, _, _, leave2 := b.Join(context.Background(), "chan-1")
	defer leave2()

	if _, err := fanout.Write([]byte("hello")); err != nil {
		t.Fatalf("Write: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	got1, err := sub1.Next(ctx)
	if err != nil || string(got1) != "hello" {
		t.Fatalf("sub1 got %q err %v", got1, err)
	}
	got2, err := sub2.Next(ctx)
	if err != nil || string(got2) != "hello" {
		t.Fatalf("sub2 got %q err %v", got2, err)
	}
}

func TestLastLeaveCancelsFetchContext(t *testing.T) {
	b := NewBroadcaster()

	_, _, _, fetchCtx, leave1 := b.Join(context.Background(), "chan-1")
	_, _, _, _, leave2 := b.Join(context.Background(), "chan-1")

	select {
	case <-fetchCtx.Done():
		t.Fatalf("fetch context canceled before all subscribers left")
	default:
	}

	leave1()
	select {
	case <-fetchCtx.Done():
		t.Fatalf("fetch context canceled before last subscriber left")
	default:
	}

	leave2()
	select {
	case <-fetchCtx.Done():
	case <-time.After(time.Second):
		t.Fatalf("fetch context was not canceled after last subscriber left")
	}
}

func TestJoinAfterStreamEndsStartsFresh(t *testing.T) {
	b := NewBroadcaster()

	_, _, first, _, leave := b.Join(context.Background(), "chan-1")
	if !first {
		t.Fatalf("expected first join to be first")
	}
	leave()

	_, _, first2, _, leave2 := b.Join(context.Background(), "chan-1")
	defer leave2()
	if !first2 {
		t.Fatalf("expected a new first subscriber once the old stream was torn down")
	}
}

func TestRegistryAcquireReleaseTracksCount(t *testing.T) {
	r := NewRegistry(nil, 0)
	ctx := context.Background()

	if n, err := r.Acquire(ctx, "alice"); err != nil || n != 1 {
		t.Fatalf("Acquire #1 = %d, %v", n, err)
	}
	if n, err := r.Acquire(ctx, "alice"); err != nil || n != 2 {
		t.Fatalf("Acquire #2 = %d, %v", n, err)
	}
	if got := r.ActiveConnections(ctx, "alice"); got != 2 {
		t.Fatalf("ActiveConnections = %d", got)
	}

	r.Release(ctx, "alice")
	if got := r.ActiveConnections(ctx, "alice"); got != 1 {
		t.Fatalf("ActiveConnections after release = %d", got)
	}

	r.Release(ctx, "alice")
	if got := r.ActiveConnections(ctx, "alice"); got != 0 {
		t.Fatalf("ActiveConnections after second release = %d", got)
	}
}

func TestRegistryReleaseNeverGoesNegative(t *testing.T) {
	r := NewRegistry(nil, 0)
	ctx := context.Background()

	r.Release(ctx, "bob")
	r.Release(ctx, "bob")
	if got := r.ActiveConnections(ctx, "bob"); got != 0 {
		t.Fatalf("ActiveConnections = %d, want 0", got)
	}
}

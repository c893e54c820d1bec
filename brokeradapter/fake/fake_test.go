package fake_test

import (
	"context"
	"errors"
	"testing"

	"github.com/hahalml/kasocki/brokeradapter"
	"github.com/hahalml/kasocki/brokeradapter/fake"
)

func TestPollOne_TimesOutWhenEmpty(t *testing.T) {
	ctx := context.Background()
	b := fake.New(map[string]int32{"orders": 1})
	if err := b.Assign(ctx, []brokeradapter.Assignment{{Topic: "orders", Partition: 0, Offset: -1}}); err != nil {
		t.Fatalf("assign: %v", err)
	}

	_, err := b.PollOne(ctx)
	if !errors.Is(err, brokeradapter.ErrPollTimeout) {
		t.Fatalf("expected ErrPollTimeout, got %v", err)
	}
}

func TestPollOne_ServesInOffsetOrder(t *testing.T) {
	ctx := context.Background()
	b := fake.New(map[string]int32{"orders": 1})
	b.Produce("orders", 0, nil, []byte(`{"n":1}`))
	b.Produce("orders", 0, nil, []byte(`{"n":2}`))

	if err := b.Assign(ctx, []brokeradapter.Assignment{{Topic: "orders", Partition: 0, Offset: 0}}); err != nil {
		t.Fatalf("assign: %v", err)
	}

	rec1, err := b.PollOne(ctx)
	if err != nil {
		t.Fatalf("poll 1: %v", err)
	}
	rec2, err := b.PollOne(ctx)
	if err != nil {
		t.Fatalf("poll 2: %v", err)
	}

	if rec1.Offset != 0 || rec2.Offset != 1 {
		t.Errorf("got offsets %d, %d; want 0, 1", rec1.Offset, rec2.Offset)
	}
}

func TestAssign_LatestSkipsExisting(t *testing.T) {
	ctx := context.Background()
	b := fake.New(map[string]int32{"orders": 1})
	b.Produce("orders", 0, nil, []byte(`{"n":1}`))

	if err := b.Assign(ctx, []brokeradapter.Assignment{{Topic: "orders", Partition: 0, Offset: -1}}); err != nil {
		t.Fatalf("assign: %v", err)
	}

	if _, err := b.PollOne(ctx); !errors.Is(err, brokeradapter.ErrPollTimeout) {
		t.Fatalf("expected no pre-existing record to be served, got err=%v", err)
	}

	b.Produce("orders", 0, nil, []byte(`{"n":2}`))
	rec, err := b.PollOne(ctx)
	if err != nil {
		t.Fatalf("poll: %v", err)
	}
	if rec.Offset != 1 {
		t.Errorf("got offset %d, want 1 (the newly produced record)", rec.Offset)
	}
}

func TestDisconnect_Idempotent(t *testing.T) {
	ctx := context.Background()
	b := fake.New(nil)
	if err := b.Disconnect(ctx); err != nil {
		t.Fatalf("first disconnect: %v", err)
	}
	if err := b.Disconnect(ctx); err != nil {
		t.Fatalf("second disconnect: %v", err)
	}
	if !b.Closed() {
		t.Error("expected Closed() to be true")
	}
}

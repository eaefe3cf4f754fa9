package delivery

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"tvbot/internal/model"
	kit "tvbot/internal/transport"
	logx "tvbot/pkg/logx"
)

type fakeSender struct {
	mu       sync.Mutex
	sent     []kit.ChatTarget
	failures map[int64]int // remaining failures per chat id
	block    bool
	inFlight int32
	peak     int32
}

func (f *fakeSender) SendText(ctx context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error) {
	n := atomic.AddInt32(&f.inFlight, 1)
	defer atomic.AddInt32(&f.inFlight, -1)
	for {
		p := atomic.LoadInt32(&f.peak)
		if n <= p || atomic.CompareAndSwapInt32(&f.peak, p, n) {
			break
		}
	}
	if f.block {
		<-ctx.Done()
		return kit.MessageRef{}, ctx.Err()
	}
	time.Sleep(5 * time.Millisecond)

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failures[to.ChatID] > 0 {
		f.failures[to.ChatID]--
		return kit.MessageRef{}, errors.New("telegram: bad request")
	}
	f.sent = append(f.sent, to)
	return kit.MessageRef{ChatID: to.ChatID, MessageID: len(f.sent)}, nil
}

func idsOf(vs ...int64) []model.RecipientID {
	out := make([]model.RecipientID, len(vs))
	for i, v := range vs {
		out[i] = model.IntID(v)
	}
	return out
}

func TestDeliverFailureDoesNotAbortBatch(t *testing.T) {
	t.Parallel()
	fs := &fakeSender{failures: map[int64]int{2: 100}}
	b := NewBroadcaster(Config{RatePerSec: 1000, RetryMax: 1}, fs, logx.Nop())

	res := b.Deliver(context.Background(), "hi", idsOf(1, 2, 3))
	if len(res) != 3 {
		t.Fatalf("results = %d, want 3", len(res))
	}
	want := []bool{true, false, true}
	for i, r := range res {
		if r.Success != want[i] {
			t.Fatalf("result[%d] = %+v, want success=%v", i, r, want[i])
		}
	}
	if res[1].Err == "" {
		t.Fatal("failed result has empty Err")
	}
	if Successes(res) != 2 {
		t.Fatalf("Successes = %d, want 2", Successes(res))
	}
}

func TestDeliverRetriesTransientFailure(t *testing.T) {
	t.Parallel()
	fs := &fakeSender{failures: map[int64]int{7: 1}}
	b := NewBroadcaster(Config{RatePerSec: 1000, RetryMax: 2}, fs, logx.Nop())

	res := b.Deliver(context.Background(), "hi", idsOf(7))
	if !res[0].Success {
		t.Fatalf("result = %+v, want success after retry", res[0])
	}
}

func TestRateWaitOutsideSendTimeout(t *testing.T) {
	t.Parallel()
	fs := &fakeSender{}
	// burst 2, then one token every 500ms: the tail waits far past 100ms.
	b := NewBroadcaster(Config{RatePerSec: 2, Workers: 5, PerSendTimeout: 100 * time.Millisecond}, fs, logx.Nop())
	res := b.Deliver(context.Background(), "hi", idsOf(1, 2, 3, 4, 5))
	for _, r := range res {
		if !r.Success {
			t.Fatalf("%s failed: %s", r.RecipientID, r.Err)
		}
	}
	if len(fs.sent) != 5 {
		t.Fatalf("sent %d, want 5", len(fs.sent))
	}
}

func TestDeliverPerSendTimeout(t *testing.T) {
	t.Parallel()
	fs := &fakeSender{block: true}
	b := NewBroadcaster(Config{RatePerSec: 1000, PerSendTimeout: 50 * time.Millisecond}, fs, logx.Nop())

	start := time.Now()
	res := b.Deliver(context.Background(), "hi", idsOf(1, 2))
	if took := time.Since(start); took > 2*time.Second {
		t.Fatalf("Deliver took %v, want bounded by per-send timeout", took)
	}
	for _, r := range res {
		if r.Success {
			t.Fatalf("result = %+v, want failure", r)
		}
	}
}

func TestDeliverParallelKeepsOrder(t *testing.T) {
	t.Parallel()
	fs := &fakeSender{}
	b := NewBroadcaster(Config{RatePerSec: 1000, Workers: 3}, fs, logx.Nop())

	ids := idsOf(10, 11, 12, 13, 14, 15)
	res := b.Deliver(context.Background(), "hi", ids)
	for i, r := range res {
		if r.RecipientID.String() != ids[i].String() || !r.Success {
			t.Fatalf("result[%d] = %+v", i, r)
		}
	}
	if p := atomic.LoadInt32(&fs.peak); p > 3 {
		t.Fatalf("peak concurrency = %d, want <= 3", p)
	}
}

func TestChatTarget(t *testing.T) {
	t.Parallel()
	tests := []struct {
		id      model.RecipientID
		chatID  int64
		user    string
		wantErr bool
	}{
		{id: model.IntID(-1001234), chatID: -1001234},
		{id: model.StringID("555"), chatID: 555},
		{id: model.StringID("@news"), user: "@news"},
		{id: model.StringID("bob"), wantErr: true},
		{id: model.StringID("@"), wantErr: true},
	}
	for _, tt := range tests {
		got, err := ChatTarget(tt.id)
		if tt.wantErr {
			if !errors.Is(err, ErrBadRecipient) {
				t.Fatalf("ChatTarget(%s) err = %v, want ErrBadRecipient", tt.id, err)
			}
			continue
		}
		if err != nil || got.ChatID != tt.chatID || got.Username != tt.user {
			t.Fatalf("ChatTarget(%s) = %+v, %v", tt.id, got, err)
		}
	}
}

func TestDeliverBadRecipientReported(t *testing.T) {
	t.Parallel()
	fs := &fakeSender{}
	b := NewBroadcaster(Config{RatePerSec: 1000}, fs, logx.Nop())
	res := b.Deliver(context.Background(), "hi", []model.RecipientID{model.StringID("bob"), model.IntID(1)})
	if res[0].Success || !res[1].Success {
		t.Fatalf("results = %+v", res)
	}
}

package bot

import (
	"context"
	"strings"
	"testing"
	"time"

	"tvbot/internal/dispatch"
	"tvbot/internal/eventbus"
	logx "tvbot/pkg/logx"
)

func TestNotificationText(t *testing.T) {
	sent := notificationText(eventbus.Event{Type: dispatch.EventSent, Data: dispatch.EntryReport{ID: "e1", Recipients: 3, Successes: 2}})
	if !strings.Contains(sent, "<code>e1</code>") || !strings.Contains(sent, "2/3") {
		t.Fatalf("sent text = %q", sent)
	}
	deact := notificationText(eventbus.Event{Type: dispatch.EventNoRecipients, Data: dispatch.EntryReport{ID: "e2", Outcome: "deactivated"}})
	if !strings.Contains(deact, "deactivated") {
		t.Fatalf("deactivated text = %q", deact)
	}
	if got := notificationText(eventbus.Event{Type: dispatch.EventCycle, Data: dispatch.CycleReport{}}); got != "" {
		t.Fatalf("cycle events are not forwarded, got %q", got)
	}
	if got := notificationText(eventbus.Event{Type: dispatch.EventSent, Data: "junk"}); got != "" {
		t.Fatalf("unexpected payload produced %q", got)
	}
}

func TestNotifierSendsToEveryOwner(t *testing.T) {
	bus := eventbus.New()
	ad := newFakeAdapter()
	n := NewNotifier(bus, ad, func() []int64 { return []int64{1, 2} }, logx.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() { _ = n.Run(ctx); close(done) }()

	// Subscribe happens inside Run; publish until the first delivery shows up.
	deadline := time.After(5 * time.Second)
	for ad.count() == 0 {
		bus.Publish(eventbus.Event{Type: dispatch.EventSent, Time: time.Now(), Data: dispatch.EntryReport{ID: "e", Recipients: 1, Successes: 1}})
		select {
		case <-deadline:
			t.Fatal("no notification")
		case <-time.After(20 * time.Millisecond):
		}
	}
	cancel()
	<-done

	seen := map[int64]bool{}
	ad.mu.Lock()
	for _, m := range ad.sent {
		seen[m.to.ChatID] = true
	}
	ad.mu.Unlock()
	if !seen[1] || !seen[2] {
		t.Fatalf("owners notified = %v", seen)
	}
}

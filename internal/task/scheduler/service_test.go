package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	logx "tvbot/pkg/logx"
)

func TestParseScheduleVariants(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name     string
		raw      string
		kind     SpecKind
		duration time.Duration
	}{
		{name: "cron", raw: "0 */6 * * *", kind: SpecCron},
		{name: "descriptor", raw: "@hourly", kind: SpecCron},
		{name: "prefixed cron", raw: "cron:0 3 * * *", kind: SpecCron},
		{name: "duration", raw: "10m", kind: SpecInterval, duration: 10 * time.Minute},
		{name: "prefixed interval", raw: "every:45s", kind: SpecInterval, duration: 45 * time.Second},
		{name: "hhmm", raw: "01:30", kind: SpecInterval, duration: 90 * time.Minute},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseSchedule(tt.raw)
			if err != nil {
				t.Fatalf("ParseSchedule(%q) error: %v", tt.raw, err)
			}
			if got.Kind != tt.kind {
				t.Fatalf("Kind = %v, want %v", got.Kind, tt.kind)
			}
			if tt.kind == SpecInterval && got.Every != tt.duration {
				t.Fatalf("Every = %v, want %v", got.Every, tt.duration)
			}
		})
	}
}

func TestParseScheduleInvalid(t *testing.T) {
	t.Parallel()
	for _, raw := range []string{"", "not-a-schedule", "00:00", "01:75", "-5m", "cron:"} {
		if _, err := ParseSchedule(raw); err == nil {
			t.Errorf("ParseSchedule(%q) succeeded", raw)
		}
	}
}

func TestAddRejectsBadCron(t *testing.T) {
	s := New(Config{Enabled: true}, logx.Nop())
	if err := s.Add("x", "61 * * * *", 0, func(context.Context) error { return nil }); err == nil {
		t.Fatal("expected error for minute 61")
	}
	if err := s.Add("", "@hourly", 0, func(context.Context) error { return nil }); err == nil {
		t.Fatal("expected error for empty name")
	}
}

func TestIntervalJobRuns(t *testing.T) {
	s := New(Config{Enabled: true, Timezone: "UTC"}, logx.Nop())
	var runs atomic.Int32
	ran := make(chan struct{}, 8)
	if err := s.Add("tick", "1s", time.Second, func(context.Context) error {
		runs.Add(1)
		select {
		case ran <- struct{}{}:
		default:
		}
		return nil
	}); err != nil {
		t.Fatal(err)
	}
	s.Start(context.Background())
	defer s.Stop(context.Background())

	select {
	case <-ran:
	case <-time.After(5 * time.Second):
		t.Fatal("job never ran")
	}
	snap := s.Snapshot()
	if len(snap.Jobs) != 1 || snap.Jobs[0].Spec != "@every 1s" || snap.Timezone != "UTC" {
		t.Fatalf("snapshot = %+v", snap)
	}
}

func TestRunNowRecordsHistory(t *testing.T) {
	s := New(Config{HistorySize: 2}, logx.Nop())
	boom := errors.New("boom")
	calls := 0
	_ = s.Add("job", "@daily", 0, func(context.Context) error {
		calls++
		if calls == 2 {
			return boom
		}
		if calls == 3 {
			panic("bad")
		}
		return nil
	})

	ctx := context.Background()
	if err := s.RunNow(ctx, "job"); err != nil {
		t.Fatal(err)
	}
	if err := s.RunNow(ctx, "job"); !errors.Is(err, boom) {
		t.Fatalf("err = %v", err)
	}
	if err := s.RunNow(ctx, "job"); err == nil {
		t.Fatal("panic not reported")
	}
	if err := s.RunNow(ctx, "missing"); err == nil {
		t.Fatal("missing job ran")
	}

	h := s.Snapshot().History
	if len(h) != 2 || h[0].Err != "boom" || h[1].Err == "" {
		t.Fatalf("history = %+v", h)
	}
}

func TestOverlappingRunIsSkipped(t *testing.T) {
	s := New(Config{}, logx.Nop())
	release := make(chan struct{})
	started := make(chan struct{})
	_ = s.Add("slow", "@daily", 0, func(context.Context) error {
		close(started)
		<-release
		return nil
	})
	done := make(chan error, 1)
	go func() { done <- s.RunNow(context.Background(), "slow") }()
	<-started

	if err := s.RunNow(context.Background(), "slow"); err != nil {
		t.Fatal(err)
	}
	close(release)
	if err := <-done; err != nil {
		t.Fatal(err)
	}
	h := s.Snapshot().History
	if len(h) != 2 || !h[0].Skipped || h[1].Skipped {
		t.Fatalf("history = %+v", h)
	}
}

func TestRemove(t *testing.T) {
	s := New(Config{}, logx.Nop())
	_ = s.Add("a", "@hourly", 0, func(context.Context) error { return nil })
	if !s.Remove("a") || s.Remove("a") {
		t.Fatal("Remove did not report existence correctly")
	}
	if len(s.Snapshot().Jobs) != 0 {
		t.Fatal("job still listed")
	}
}

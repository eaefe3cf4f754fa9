package app

import (
	"errors"
	"testing"
	"time"

	"tvbot/internal/config"
	"tvbot/internal/dispatch"
)

func TestResolveMapsSections(t *testing.T) {
	cfg := &config.Config{}
	cfg.Telegram.Token = " 1:abc "
	cfg.Telegram.OwnerUserIDs = []int64{42, 7}
	cfg.Telegram.PollTimeout = "20s"
	cfg.Logging.Level = "debug"
	cfg.Logging.Telegram.Enabled = true
	cfg.Storage.Driver = "SQLite"
	cfg.Storage.Path = "x.db"
	cfg.Dispatch.Interval = "30s"
	cfg.Dispatch.Timezone = "UTC"
	cfg.Dispatch.MaxEmptyRetries = 3
	cfg.Delivery.ParseMode = "none"
	cfg.Delivery.Workers = 4
	cfg.Admin.Retention = "48h"
	cfg.Housekeeping.Enabled = true
	cfg.Housekeeping.BackupSpec = " 0 3 * * * "
	cfg.Notify.Enabled = true

	rt, err := Resolve(cfg)
	if err != nil {
		t.Fatal(err)
	}
	if rt.Telegram.Token != "1:abc" || rt.Telegram.PollTimeout != 20*time.Second {
		t.Errorf("telegram = %+v", rt.Telegram)
	}
	if rt.Log.Telegram.ChatID != 42 {
		t.Errorf("log chat defaults to first owner, got %d", rt.Log.Telegram.ChatID)
	}
	if rt.Storage.Driver != "sqlite" || rt.Storage.Path != "x.db" {
		t.Errorf("storage = %+v", rt.Storage)
	}
	if rt.Dispatch.Interval != 30*time.Second || rt.Dispatch.Tolerance != 60*time.Second ||
		rt.Dispatch.Location != time.UTC || rt.Dispatch.MaxEmptyRetries != 3 {
		t.Errorf("dispatch = %+v", rt.Dispatch)
	}
	if rt.Delivery.ParseMode != "" || rt.Delivery.Workers != 4 {
		t.Errorf("delivery = %+v", rt.Delivery)
	}
	if rt.Admin.Retention != 48*time.Hour || rt.Admin.Location != time.UTC {
		t.Errorf("admin = %+v", rt.Admin)
	}
	if !rt.Scheduler.Enabled || rt.Scheduler.Timezone != "UTC" || rt.CleanupSpec != "@hourly" || rt.BackupSpec != "0 3 * * *" {
		t.Errorf("housekeeping = %+v %q %q", rt.Scheduler, rt.CleanupSpec, rt.BackupSpec)
	}
	if rt.Ops.ReadTimeout != 10*time.Second || rt.Ops.WriteTimeout != 60*time.Second {
		t.Errorf("ops = %+v", rt.Ops)
	}
	if !rt.Notify || len(rt.Bot.Owners) != 2 {
		t.Errorf("notify/bot = %v %+v", rt.Notify, rt.Bot)
	}
}

func TestResolveRejectsBadValues(t *testing.T) {
	cfg := &config.Config{}
	cfg.Dispatch.Timezone = "Nowhere/Land"
	if _, err := Resolve(cfg); err == nil {
		t.Fatal("bad timezone accepted")
	}
	cfg = &config.Config{}
	cfg.Delivery.PerSendTimeout = "ten seconds"
	if _, err := Resolve(cfg); err == nil {
		t.Fatal("bad duration accepted")
	}
	cfg = &config.Config{}
	cfg.Dispatch.MaxEmptyRetries = 4 // 60s interval, 60s tolerance: due for 3 cycles
	if _, err := Resolve(cfg); err == nil {
		t.Fatal("max_empty_retries beyond the due window accepted")
	}
	cfg.Dispatch.MaxEmptyRetries = 3
	if _, err := Resolve(cfg); err != nil {
		t.Fatalf("max_empty_retries within the due window: %v", err)
	}
}

func TestParseMode(t *testing.T) {
	for in, want := range map[string]string{
		"":           "HTML",
		"html":       "HTML",
		"markdownv2": "MarkdownV2",
		"Markdown":   "Markdown",
		"none":       "",
	} {
		if got := parseMode(in); got != want {
			t.Errorf("parseMode(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestCheckDispatch(t *testing.T) {
	start := time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)
	interval := time.Minute

	if err := checkDispatch(dispatch.Status{State: "IDLE"}, interval, start, start.Add(2*time.Minute)); err != nil {
		t.Fatalf("fresh start: %v", err)
	}
	if err := checkDispatch(dispatch.Status{State: "IDLE"}, interval, start, start.Add(4*time.Minute)); !errors.Is(err, errStale) {
		t.Fatalf("no cycle yet: %v", err)
	}

	last := &dispatch.CycleReport{Now: start.Add(10 * time.Minute), Took: time.Second}
	st := dispatch.Status{State: "IDLE", LastCycle: last}
	if err := checkDispatch(st, interval, start, start.Add(11*time.Minute)); err != nil {
		t.Fatalf("recent cycle: %v", err)
	}
	if err := checkDispatch(st, interval, start, start.Add(20*time.Minute)); !errors.Is(err, errStale) {
		t.Fatalf("stale cycle: %v", err)
	}
	if err := checkDispatch(dispatch.Status{State: "DISPATCHING", LastCycle: last}, interval, start, start.Add(time.Hour)); err != nil {
		t.Fatalf("busy loop: %v", err)
	}

	last.Err = "store is corrupt"
	if err := checkDispatch(st, interval, start, start.Add(11*time.Minute)); err == nil {
		t.Fatal("failed cycle reported healthy")
	}
}

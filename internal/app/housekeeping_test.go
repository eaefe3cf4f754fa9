package app

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"tvbot/internal/admin"
	"tvbot/internal/dispatch"
	"tvbot/internal/model"
	"tvbot/internal/storage"
	"tvbot/internal/task/scheduler"
	logx "tvbot/pkg/logx"
)

func newHousekeepingApp(t *testing.T) (*App, storage.Store, string) {
	t.Helper()
	dir := t.TempDir()
	st, err := storage.Open(storage.Config{Dir: dir}, logx.Nop())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = st.Close() })

	disp := dispatch.New(dispatch.Config{Location: time.UTC}, dispatch.Deps{Recipients: st, Schedules: st, Log: logx.Nop()})
	backups := filepath.Join(dir, "backups")
	a := &App{
		log:   logx.Nop(),
		store: st,
		disp:  disp,
		admin: admin.New(admin.Config{Location: time.UTC, BackupDir: backups}, st, disp, logx.Nop()),
		sched: scheduler.New(scheduler.Config{Timezone: "UTC"}, logx.Nop()),
	}
	return a, st, backups
}

func TestHousekeepingJobs(t *testing.T) {
	a, st, backups := newHousekeepingApp(t)
	ctx := context.Background()

	doc := model.ScheduleDoc{Schedules: []model.ScheduleEntry{
		{ID: "old", Date: "2000-01-01", Hour: 9, Minute: 0, Time: "09:00", Message: "m", Active: true},
		{ID: "future", Date: "2999-01-01", Hour: 9, Minute: 0, Time: "09:00", Message: "m", Active: true},
	}}
	if err := st.SaveSchedules(ctx, doc); err != nil {
		t.Fatal(err)
	}

	if err := a.registerJobs(Runtime{CleanupSpec: "@hourly", BackupSpec: "@daily"}); err != nil {
		t.Fatal(err)
	}
	if err := a.sched.RunNow(ctx, jobCleanup); err != nil {
		t.Fatal(err)
	}
	got, err := st.LoadSchedules(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(got.Schedules) != 1 || got.Schedules[0].ID != "future" {
		t.Fatalf("after cleanup = %+v", got.Schedules)
	}

	if err := a.sched.RunNow(ctx, jobBackup); err != nil {
		t.Fatal(err)
	}
	files, err := os.ReadDir(backups)
	if err != nil || len(files) != 1 {
		t.Fatalf("backups = %v, %v", files, err)
	}

	if err := a.registerJobs(Runtime{CleanupSpec: "@hourly"}); err != nil {
		t.Fatal(err)
	}
	if err := a.sched.RunNow(ctx, jobBackup); err == nil {
		t.Fatal("backup job still registered")
	}
	if n := len(a.sched.Snapshot().Jobs); n != 1 {
		t.Fatalf("jobs = %d", n)
	}
}

func TestRegisterJobsRejectsBadSpec(t *testing.T) {
	a, _, _ := newHousekeepingApp(t)
	if err := a.registerJobs(Runtime{CleanupSpec: "every:banana"}); err == nil {
		t.Fatal("bad spec accepted")
	}
}

package storage

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"tvbot/internal/model"
	logx "tvbot/pkg/logx"
)

func sampleDocs() (model.RecipientDoc, model.ScheduleDoc) {
	users := model.RecipientDoc{Users: []model.Recipient{
		{ID: model.IntID(1001), Name: "alice", Active: true},
		{ID: model.StringID("@news"), Name: "channel", Active: false},
		{ID: model.StringID("42"), Name: "quoted digits", Active: true},
	}}
	schedules := model.ScheduleDoc{Schedules: []model.ScheduleEntry{
		{ID: "b", Date: "2025-03-01", Time: "20:00", Hour: 20, Message: "<b>News</b> & more", Active: true},
		{ID: "a", Date: "2025-03-01", Time: "21:00", Hour: 21, Message: "뉴스", Active: true, Sent: true, SentAt: "2025-03-01T21:00:00Z"},
	}}
	return users, schedules
}

func openBoth(t *testing.T) map[string]Store {
	t.Helper()
	out := map[string]Store{}
	for _, driver := range []string{"file", "sqlite"} {
		st, err := Open(Config{Driver: driver, Dir: t.TempDir()}, logx.Nop())
		if err != nil {
			t.Fatalf("Open(%s): %v", driver, err)
		}
		t.Cleanup(func() { _ = st.Close() })
		out[driver] = st
	}
	return out
}

func TestRoundTripKeepsOrderAndIDKinds(t *testing.T) {
	ctx := context.Background()
	for driver, st := range openBoth(t) {
		users, schedules := sampleDocs()
		if err := st.SaveRecipients(ctx, users); err != nil {
			t.Fatalf("%s SaveRecipients: %v", driver, err)
		}
		if err := st.SaveSchedules(ctx, schedules); err != nil {
			t.Fatalf("%s SaveSchedules: %v", driver, err)
		}

		gotU, err := st.LoadRecipients(ctx)
		if err != nil {
			t.Fatalf("%s LoadRecipients: %v", driver, err)
		}
		if len(gotU.Users) != 3 {
			t.Fatalf("%s users = %d, want 3", driver, len(gotU.Users))
		}
		for i, u := range gotU.Users {
			want := users.Users[i]
			if u.ID.String() != want.ID.String() || u.ID.Numeric() != want.ID.Numeric() || u.Name != want.Name || u.Active != want.Active {
				t.Fatalf("%s user[%d] = %+v, want %+v", driver, i, u, want)
			}
		}

		gotS, err := st.LoadSchedules(ctx)
		if err != nil {
			t.Fatalf("%s LoadSchedules: %v", driver, err)
		}
		if len(gotS.Schedules) != 2 || gotS.Schedules[0].ID != "b" || gotS.Schedules[1].ID != "a" {
			t.Fatalf("%s schedule order = %+v", driver, gotS.Schedules)
		}
		if gotS.Schedules[0] != schedules.Schedules[0] || gotS.Schedules[1] != schedules.Schedules[1] {
			t.Fatalf("%s schedules = %+v, want %+v", driver, gotS.Schedules, schedules.Schedules)
		}
	}
}

func TestMissingStoreIsEmpty(t *testing.T) {
	ctx := context.Background()
	for driver, st := range openBoth(t) {
		u, err := st.LoadRecipients(ctx)
		if err != nil || u.Users == nil || len(u.Users) != 0 {
			t.Fatalf("%s LoadRecipients = %+v, %v; want empty", driver, u, err)
		}
		s, err := st.LoadSchedules(ctx)
		if err != nil || s.Schedules == nil || len(s.Schedules) != 0 {
			t.Fatalf("%s LoadSchedules = %+v, %v; want empty", driver, s, err)
		}
	}
}

func TestSaveReplacesWholeState(t *testing.T) {
	ctx := context.Background()
	for driver, st := range openBoth(t) {
		_, schedules := sampleDocs()
		if err := st.SaveSchedules(ctx, schedules); err != nil {
			t.Fatal(err)
		}
		if err := st.SaveSchedules(ctx, model.ScheduleDoc{Schedules: schedules.Schedules[1:]}); err != nil {
			t.Fatal(err)
		}
		got, err := st.LoadSchedules(ctx)
		if err != nil {
			t.Fatal(err)
		}
		if len(got.Schedules) != 1 || got.Schedules[0].ID != "a" {
			t.Fatalf("%s after replace = %+v", driver, got.Schedules)
		}
	}
}

func TestFileCorruptIsError(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, DefaultSchedulesFile), []byte(`{"schedules": [`), 0o644); err != nil {
		t.Fatal(err)
	}
	st, err := Open(Config{Dir: dir}, logx.Nop())
	if err != nil {
		t.Fatal(err)
	}
	defer st.Close()

	_, err = st.LoadSchedules(context.Background())
	if !errors.Is(err, ErrCorrupt) {
		t.Fatalf("LoadSchedules err = %v, want ErrCorrupt", err)
	}
}

func TestFileCorruptTolerated(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, DefaultUsersFile)
	if err := os.WriteFile(path, []byte(`not json`), 0o644); err != nil {
		t.Fatal(err)
	}
	st, err := Open(Config{Dir: dir, TolerateCorrupt: true}, logx.Nop())
	if err != nil {
		t.Fatal(err)
	}
	defer st.Close()

	doc, err := st.LoadRecipients(context.Background())
	if err != nil {
		t.Fatalf("LoadRecipients: %v", err)
	}
	if len(doc.Users) != 0 {
		t.Fatalf("users = %d, want 0", len(doc.Users))
	}
	matches, _ := filepath.Glob(path + ".corrupt-*")
	if len(matches) != 1 {
		t.Fatalf("corrupt copies = %v, want one", matches)
	}
}

func TestFileFormat(t *testing.T) {
	dir := t.TempDir()
	st, err := Open(Config{Dir: dir}, logx.Nop())
	if err != nil {
		t.Fatal(err)
	}
	defer st.Close()

	_, schedules := sampleDocs()
	if err := st.SaveSchedules(context.Background(), schedules); err != nil {
		t.Fatal(err)
	}
	b, err := os.ReadFile(filepath.Join(dir, DefaultSchedulesFile))
	if err != nil {
		t.Fatal(err)
	}
	s := string(b)
	for _, want := range []string{"{\n  \"schedules\": [", "<b>News</b> & more", "뉴스"} {
		if !strings.Contains(s, want) {
			t.Fatalf("file missing %q:\n%s", want, s)
		}
	}
	leftovers, _ := filepath.Glob(filepath.Join(dir, ".*.tmp"))
	if len(leftovers) != 0 {
		t.Fatalf("temp files left behind: %v", leftovers)
	}
}

func TestAuditAppends(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	st, err := Open(Config{Dir: dir}, logx.Nop())
	if err != nil {
		t.Fatal(err)
	}
	if err := st.AppendAudit(ctx, AuditEntry{Action: "schedule.add", Target: "x"}); err != nil {
		t.Fatal(err)
	}
	if err := st.AppendAudit(ctx, AuditEntry{Action: "dispatch.sent", Target: "x", OK: 2}); err != nil {
		t.Fatal(err)
	}
	_ = st.Close()
	b, err := os.ReadFile(filepath.Join(dir, "tvbot.audit.jsonl"))
	if err != nil {
		t.Fatal(err)
	}
	if n := strings.Count(string(b), "\n"); n != 2 {
		t.Fatalf("audit lines = %d, want 2", n)
	}

	sq, err := Open(Config{Driver: "sqlite", Dir: t.TempDir()}, logx.Nop())
	if err != nil {
		t.Fatal(err)
	}
	defer sq.Close()
	if err := sq.AppendAudit(ctx, AuditEntry{Action: "backup", Ref: "r1"}); err != nil {
		t.Fatal(err)
	}
	n, err := sq.(*sqliteStore).CountAudit(ctx)
	if err != nil || n != 1 {
		t.Fatalf("CountAudit = %d, %v; want 1", n, err)
	}
}

func TestAuditHonorsCanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	for driver, st := range openBoth(t) {
		if err := st.AppendAudit(ctx, AuditEntry{Action: "schedule.add", Target: "x"}); err == nil {
			t.Errorf("%s: AppendAudit with canceled ctx succeeded", driver)
		}
	}
}

func TestClosedFileStore(t *testing.T) {
	st, err := Open(Config{Dir: t.TempDir()}, logx.Nop())
	if err != nil {
		t.Fatal(err)
	}
	_ = st.Close()
	if _, err := st.LoadSchedules(context.Background()); !errors.Is(err, ErrClosed) {
		t.Fatalf("LoadSchedules after Close err = %v, want ErrClosed", err)
	}
}

func TestUnknownDriver(t *testing.T) {
	if _, err := Open(Config{Driver: "mongo"}, logx.Nop()); err == nil {
		t.Fatal("expected error for unknown driver")
	}
	if ValidDriver("mongo") || !ValidDriver("SQLite") {
		t.Fatal("ValidDriver mismatch")
	}
}

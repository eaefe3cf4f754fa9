package logx

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestZeroLoggerIsSafe(t *testing.T) {
	var l Logger
	if !l.IsZero() {
		t.Fatal("zero logger not zero")
	}
	l.With(String("k", "v")).Error("dropped")
}

func TestWriterLoggerFields(t *testing.T) {
	var buf bytes.Buffer
	l := NewWriter(&buf, "info").With(String("comp", "test"))
	l.Debug("hidden")
	l.Warn("visible", Int("n", 3), Err(errors.New("boom")), Err(nil))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("lines = %q", lines)
	}
	var ev map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &ev); err != nil {
		t.Fatal(err)
	}
	if ev["message"] != "visible" || ev["comp"] != "test" || ev["n"] != float64(3) || ev["err"] != "boom" {
		t.Fatalf("event = %v", ev)
	}
	if c, _ := ev["caller"].(string); !strings.HasPrefix(c, "logx_test.go:") {
		t.Fatalf("caller = %v", ev["caller"])
	}
}

func TestValidLevel(t *testing.T) {
	for _, s := range []string{"", "debug", "Info", " warning ", "ERROR"} {
		if !ValidLevel(s) {
			t.Errorf("ValidLevel(%q) = false", s)
		}
	}
	if ValidLevel("loud") {
		t.Error("loud accepted")
	}
	if parseLevel("nope", zerolog.WarnLevel) != zerolog.WarnLevel {
		t.Error("default not used")
	}
}

func TestRenderEvent(t *testing.T) {
	got := renderEvent([]byte(`{"level":"warn","time":"x","message":"slow send","z":1,"chat":"42"}`))
	want := "[WARN] slow send\n- chat=42\n- z=1"
	if got != want {
		t.Fatalf("got %q want %q", got, want)
	}
	if got := renderEvent([]byte("not json")); got != "not json" {
		t.Fatalf("raw = %q", got)
	}
	if got := clip(strings.Repeat("a", 50), 20); len(got) != 20 || !strings.HasSuffix(got, "...") {
		t.Fatalf("clip = %q", got)
	}
}

type recSender struct {
	mu    sync.Mutex
	chats []int64
	texts []string
}

func (r *recSender) SendPlain(_ context.Context, chatID int64, text string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.chats = append(r.chats, chatID)
	r.texts = append(r.texts, text)
	return nil
}

func (r *recSender) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.texts)
}

func TestServiceForwardsWarningsToChat(t *testing.T) {
	rec := &recSender{}
	svc, log := New(Config{
		Level:    "debug",
		File:     FileConfig{Enabled: true, Path: t.TempDir() + "/tvbot.log"},
		Telegram: TelegramConfig{Enabled: true, ChatID: 42, MinLevel: "warn", RatePerSec: 10},
	}, rec)
	defer svc.Close()

	log.Info("not forwarded")
	log.Error("store failed", String("file", "users.json"))

	deadline := time.Now().Add(2 * time.Second)
	for rec.count() == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	if len(rec.texts) != 1 || rec.chats[0] != 42 || !strings.HasPrefix(rec.texts[0], "[ERROR] store failed") {
		t.Fatalf("sent = %v %q", rec.chats, rec.texts)
	}
}

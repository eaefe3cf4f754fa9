package adapter

import (
	"context"
	"errors"
	"strings"
	"testing"

	tele "gopkg.in/telebot.v4"

	kit "tvbot/internal/transport"
	logx "tvbot/pkg/logx"
)

func TestSplitTelegramTextShort(t *testing.T) {
	got := splitTelegramText("hello", 10, "")
	if len(got) != 1 || got[0] != "hello" {
		t.Fatalf("got %q", got)
	}
}

func TestSplitTelegramTextPrefersNewlines(t *testing.T) {
	s := strings.Repeat("a", 6) + "\n" + strings.Repeat("b", 6)
	got := splitTelegramText(s, 10, "")
	if len(got) != 2 || got[0] != "aaaaaa" || got[1] != "bbbbbb" {
		t.Fatalf("got %q", got)
	}
}

func TestSplitTelegramTextKeepsTagsWhole(t *testing.T) {
	s := "abcdefg <b>bold</b>"
	got := splitTelegramText(s, 10, "HTML")
	for _, c := range got {
		if strings.Count(c, "<") != strings.Count(c, ">") {
			t.Fatalf("chunk %q splits a tag (all %q)", c, got)
		}
	}
	if strings.Join(got, "") != s {
		t.Fatalf("chunks lost text: %q", got)
	}
}

func TestSplitTelegramTextRunes(t *testing.T) {
	s := strings.Repeat("📺", 25)
	got := splitTelegramText(s, 10, "")
	if len(got) != 3 {
		t.Fatalf("chunks = %d", len(got))
	}
	for _, c := range got {
		if !strings.HasPrefix(c, "📺") {
			t.Fatalf("chunk %q split a rune", c)
		}
	}
}

func TestRecipientOf(t *testing.T) {
	if r := recipientOf(kit.ChatTarget{Username: "@news"}); r.Recipient() != "@news" {
		t.Fatalf("username recipient = %q", r.Recipient())
	}
	r := recipientOf(kit.ChatTarget{ChatID: 42})
	if c, ok := r.(*tele.Chat); !ok || c.ID != 42 {
		t.Fatalf("chat recipient = %#v", r)
	}
}

func TestNewRequiresToken(t *testing.T) {
	if _, err := New(Config{}, logx.Nop()); err == nil {
		t.Fatal("empty token accepted")
	}
	a, err := New(Config{Token: "1:test", Offline: true}, logx.Nop())
	if err != nil {
		t.Fatal(err)
	}
	if a.bot == nil {
		t.Fatal("bot not created")
	}
}

func TestSendTextRejectsEmptyTarget(t *testing.T) {
	a, err := New(Config{Token: "1:test", Offline: true}, logx.Nop())
	if err != nil {
		t.Fatal(err)
	}
	if _, err := a.SendText(context.Background(), kit.ChatTarget{}, "hi", nil); !errors.Is(err, errNoTarget) {
		t.Fatalf("err = %v", err)
	}
}

func TestStopWithoutStart(t *testing.T) {
	a, err := New(Config{Token: "1:test", Offline: true}, logx.Nop())
	if err != nil {
		t.Fatal(err)
	}
	if err := a.Stop(context.Background()); err != nil {
		t.Fatal(err)
	}
}

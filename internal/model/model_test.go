package model

import (
	"encoding/json"
	"testing"
	"time"
)

func TestRecipientIDKeepsJSONKind(t *testing.T) {
	t.Parallel()
	in := `{"users":[{"id":123456789,"name":"a","active":true},{"id":"@news","name":"b","active":false}]}`
	var doc RecipientDoc
	if err := json.Unmarshal([]byte(in), &doc); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if !doc.Users[0].ID.Numeric() || doc.Users[1].ID.Numeric() {
		t.Fatalf("kinds = %v/%v, want numeric/string", doc.Users[0].ID.Numeric(), doc.Users[1].ID.Numeric())
	}
	out, err := json.Marshal(doc)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	if string(out) != in {
		t.Fatalf("Marshal = %s, want %s", out, in)
	}
}

func TestRecipientIDRejectsFraction(t *testing.T) {
	t.Parallel()
	var id RecipientID
	if err := json.Unmarshal([]byte(`1.5`), &id); err == nil {
		t.Fatal("expected error for fractional id")
	}
	if err := json.Unmarshal([]byte(`null`), &id); err == nil {
		t.Fatal("expected error for null id")
	}
}

func TestParseRecipientID(t *testing.T) {
	t.Parallel()
	id, err := ParseRecipientID(" 42 ")
	if err != nil || !id.Numeric() || id.String() != "42" {
		t.Fatalf("ParseRecipientID(42) = %v numeric=%v err=%v", id, id.Numeric(), err)
	}
	id, err = ParseRecipientID("@chan")
	if err != nil || id.Numeric() {
		t.Fatalf("ParseRecipientID(@chan) numeric=%v err=%v", id.Numeric(), err)
	}
	if _, err := ParseRecipientID("  "); err == nil {
		t.Fatal("expected error for blank id")
	}
}

func TestActiveKeepsOrder(t *testing.T) {
	t.Parallel()
	doc := RecipientDoc{Users: []Recipient{
		{ID: IntID(3), Active: true},
		{ID: IntID(1), Active: false},
		{ID: IntID(2), Active: true},
	}}
	got := doc.Active()
	if len(got) != 2 || got[0].String() != "3" || got[1].String() != "2" {
		t.Fatalf("Active = %v, want [3 2]", got)
	}
	if doc.Index(IntID(2)) != 2 || doc.Index(IntID(9)) != -1 {
		t.Fatal("Index mismatch")
	}
}

func TestInstantAndMarkSent(t *testing.T) {
	t.Parallel()
	e := ScheduleEntry{ID: "x", Date: "2025-03-01", Time: "20:00", Active: true, EmptyRetries: 2}
	at, err := e.Instant(time.UTC)
	if err != nil {
		t.Fatalf("Instant: %v", err)
	}
	if want := time.Date(2025, 3, 1, 20, 0, 0, 0, time.UTC); !at.Equal(want) {
		t.Fatalf("Instant = %v, want %v", at, want)
	}
	e.MarkSent(at)
	if !e.Sent || e.Pending() || e.EmptyRetries != 0 || e.SentAt == "" {
		t.Fatalf("MarkSent left %+v", e)
	}
	if _, err := (ScheduleEntry{Date: "2025-13-01", Time: "20:00"}).Instant(time.UTC); err == nil {
		t.Fatal("expected error for month 13")
	}
}

func TestCloneIsIndependent(t *testing.T) {
	t.Parallel()
	doc := ScheduleDoc{Schedules: []ScheduleEntry{{ID: "a"}}}
	cp := doc.Clone()
	cp.Schedules[0].Sent = true
	if doc.Schedules[0].Sent {
		t.Fatal("Clone shares backing array")
	}
}

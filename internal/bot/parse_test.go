package bot

import (
	"reflect"
	"testing"
)

func TestTokenize(t *testing.T) {
	cases := []struct {
		in   string
		want []string
	}{
		{"", nil},
		{"  /stats  ", []string{"/stats"}},
		{`/addschedule 2024-03-11 20:30 "CH 1" 'Evening News'`, []string{"/addschedule", "2024-03-11", "20:30", "CH 1", "Evening News"}},
		{`/renameuser 5 it\'s\ me`, []string{"/renameuser", "5", "it's me"}},
		{`/x "" b`, []string{"/x", "", "b"}},
		{`/x "unterminated quote`, []string{"/x", "unterminated quote"}},
		{"/x\ta\nb", []string{"/x", "a", "b"}},
		{`/x a"b c"d`, []string{"/x", "ab cd"}},
	}
	for _, c := range cases {
		if got := tokenize(c.in); !reflect.DeepEqual(got, c.want) {
			t.Errorf("tokenize(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}

func TestCommandWord(t *testing.T) {
	cases := map[string]string{
		"/stats":        "stats",
		"/Stats@tv_bot": "stats",
		"/sendnow@bot":  "sendnow",
		"/":             "",
		"stats":         "",
		"/@bot":         "",
	}
	for in, want := range cases {
		got, ok := commandWord(in)
		if got != want || ok != (want != "") {
			t.Errorf("commandWord(%q) = %q, %v; want %q", in, got, ok, want)
		}
	}
}

func TestSplitFlags(t *testing.T) {
	pos, flags := splitFlags([]string{"a", "--page", "2", "--confirm", "--k=v", "b", "--", "--raw"})
	if want := []string{"a", "b", "--raw"}; !reflect.DeepEqual(pos, want) {
		t.Fatalf("pos = %q, want %q", pos, want)
	}
	want := map[string]string{"page": "2", "confirm": "true", "k": "v"}
	if !reflect.DeepEqual(flags, want) {
		t.Fatalf("flags = %v, want %v", flags, want)
	}
}

func TestSplitFlagsKeepsSingleDash(t *testing.T) {
	pos, flags := splitFlags([]string{"-5", "x"})
	if !reflect.DeepEqual(pos, []string{"-5", "x"}) || len(flags) != 0 {
		t.Fatalf("pos=%q flags=%v", pos, flags)
	}
}

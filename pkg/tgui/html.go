package tgui

import (
	"html"
	"strings"
)

// ParseModeHTML is the Telegram parse mode every helper here targets.
const ParseModeHTML = "HTML"

// H is HTML that is already safe for ParseMode="HTML". Build it with the
// helpers below; converting user text directly skips escaping.
type H string

func (h H) String() string { return string(h) }

// Esc escapes user text.
func Esc(s string) H { return H(html.EscapeString(s)) }

// Raw marks s as safe without escaping.
func Raw(s string) H { return H(s) }

// Tag wraps inner in <name>…</name>.
func Tag(name string, inner H) H {
	var b strings.Builder
	b.Grow(len(inner) + 2*len(name) + 5)
	b.WriteString("<" + name + ">")
	b.WriteString(string(inner))
	b.WriteString("</" + name + ">")
	return H(b.String())
}

func B(s string) H    { return Tag("b", Esc(s)) }
func I(s string) H    { return Tag("i", Esc(s)) }
func Code(s string) H { return Tag("code", Esc(s)) }

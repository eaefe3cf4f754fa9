package tgui

import (
	"fmt"
	"strings"
)

// Card renders a titled block of lines, the shape used by most admin replies:
//
//	<b>Title</b>
//	key: <code>value</code>
//	...
type Card struct {
	title H
	lines []H
}

func NewCard(title string) *Card { return &Card{title: B(title)} }

// KV appends "key: <code>value</code>".
func (c *Card) KV(key string, value any) *Card {
	c.lines = append(c.lines, Esc(key)+": "+Code(fmt.Sprint(value)))
	return c
}

// Line appends an already-safe line.
func (c *Card) Line(h H) *Card {
	c.lines = append(c.lines, h)
	return c
}

// Text appends an escaped plain line.
func (c *Card) Text(s string) *Card { return c.Line(Esc(s)) }

func (c *Card) Len() int { return len(c.lines) }

func (c *Card) String() string {
	var b strings.Builder
	b.WriteString(c.title.String())
	for _, l := range c.lines {
		b.WriteString("\n")
		b.WriteString(l.String())
	}
	return b.String()
}

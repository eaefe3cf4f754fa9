package adapter

import (
	"context"
	"errors"
	"strings"

	tele "gopkg.in/telebot.v4"

	kit "tvbot/internal/transport"
)

// textLimit stays under Telegram's 4096 so entities survive the split.
const textLimit = 4000

var errNoTarget = errors.New("telegram: empty chat target")

type username string

func (u username) Recipient() string { return string(u) }

func recipientOf(to kit.ChatTarget) tele.Recipient {
	if to.Username != "" {
		return username(to.Username)
	}
	return &tele.Chat{ID: to.ChatID}
}

// SendText delivers text, split into several messages when it is too long.
// The reference points at the first message.
func (a *Adapter) SendText(ctx context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if to.ChatID == 0 && to.Username == "" {
		return kit.MessageRef{}, errNoTarget
	}
	var o kit.SendOptions
	if opt != nil {
		o = *opt
	}
	sendOpt := &tele.SendOptions{
		ParseMode:             o.ParseMode,
		DisableWebPagePreview: o.DisablePreview,
		ThreadID:              to.ThreadID,
	}
	rcpt := recipientOf(to)

	var ref kit.MessageRef
	for i, part := range splitTelegramText(text, textLimit, o.ParseMode) {
		msg, err := call(ctx, func() (*tele.Message, error) { return a.bot.Send(rcpt, part, sendOpt) })
		if err != nil {
			return ref, err
		}
		if i > 0 || msg == nil {
			continue
		}
		ref = kit.MessageRef{ChatID: to.ChatID, ThreadID: to.ThreadID, MessageID: msg.ID}
		if msg.Chat != nil {
			ref.ChatID = msg.Chat.ID
		}
	}
	return ref, nil
}

// SendPlain is the log sink's entry point.
func (a *Adapter) SendPlain(ctx context.Context, chatID int64, text string) error {
	_, err := a.SendText(ctx, kit.ChatTarget{ChatID: chatID}, text, &kit.SendOptions{DisablePreview: true})
	return err
}

// splitTelegramText cuts s into parts of at most limit runes. A cut lands
// after a newline when one sits in the last two thirds of the window, and
// in HTML mode never inside a tag.
func splitTelegramText(s string, limit int, parseMode string) []string {
	if limit <= 0 {
		limit = textLimit
	}
	rest := []rune(s)
	if len(rest) <= limit {
		return []string{s}
	}
	html := strings.EqualFold(parseMode, "HTML")

	var parts []string
	for len(rest) > 0 {
		cut := len(rest)
		if cut > limit {
			cut = cutPoint(rest[:limit], html)
		}
		parts = append(parts, strings.TrimRight(string(rest[:cut]), "\n"))
		rest = rest[cut:]
		for len(rest) > 0 && rest[0] == '\n' {
			rest = rest[1:]
		}
	}
	return parts
}

func cutPoint(win []rune, html bool) int {
	cut := len(win)
	for i := len(win) - 1; i >= len(win)/3; i-- {
		if win[i] == '\n' {
			cut = i + 1
			break
		}
	}
	if !html {
		return cut
	}
	open, closed := -1, -1
	for i, r := range win[:cut] {
		switch r {
		case '<':
			open = i
		case '>':
			closed = i
		}
	}
	if open > closed && open > 0 {
		return open
	}
	return cut
}

// Package transport holds the chat-platform types shared by the Telegram
// adapter, the admin bot and delivery.
package transport

import (
	"context"
	"strconv"
)

type UpdateKind string

const UpdateMessage UpdateKind = "message"

// Update is one inbound event. Only text messages are forwarded.
type Update struct {
	Kind    UpdateKind
	Message *Message
}

type Message struct {
	ID           int
	ChatID       int64
	ThreadID     int
	FromID       int64
	FromUsername string
	Text         string
}

// ChatTarget is a numeric chat or a public "@channel". Username takes
// precedence.
type ChatTarget struct {
	ChatID   int64
	Username string
	ThreadID int
}

func (t ChatTarget) String() string {
	if t.Username == "" {
		return strconv.FormatInt(t.ChatID, 10)
	}
	return t.Username
}

// MessageRef identifies a sent message.
type MessageRef struct {
	ChatID    int64
	ThreadID  int
	MessageID int
}

type SendOptions struct {
	ParseMode      string
	DisablePreview bool
}

type Sender interface {
	SendText(ctx context.Context, to ChatTarget, text string, opt *SendOptions) (MessageRef, error)
}

// Adapter is a Sender that can also poll for updates.
type Adapter interface {
	Sender
	Start(ctx context.Context, out chan<- Update) error
	Stop(ctx context.Context) error
}

type BotCommand struct {
	Command     string
	Description string
}

// CommandMenuUpdater is implemented by adapters with a command menu.
type CommandMenuUpdater interface {
	UpdateMenuCommands(ctx context.Context, cmds []BotCommand) error
}

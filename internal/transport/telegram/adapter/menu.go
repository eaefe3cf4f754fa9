package adapter

import (
	"context"
	"hash/fnv"

	tele "gopkg.in/telebot.v4"

	kit "tvbot/internal/transport"
	logx "tvbot/pkg/logx"
)

const (
	maxMenuCommands  = 100
	maxMenuDescRunes = 256
)

// UpdateMenuCommands publishes the command menu. An unchanged menu is not
// sent again.
func (a *Adapter) UpdateMenuCommands(ctx context.Context, cmds []kit.BotCommand) error {
	menu := make([]tele.Command, 0, min(len(cmds), maxMenuCommands))
	h := fnv.New64a()
	for _, c := range cmds {
		if c.Command == "" || len(menu) == maxMenuCommands {
			continue
		}
		desc := c.Description
		if desc == "" {
			desc = c.Command
		}
		if r := []rune(desc); len(r) > maxMenuDescRunes {
			desc = string(r[:maxMenuDescRunes])
		}
		menu = append(menu, tele.Command{Text: c.Command, Description: desc})
		h.Write([]byte(c.Command + "\x00" + desc + "\x00"))
	}
	sum := h.Sum64()

	a.mu.Lock()
	same := sum == a.menu
	a.mu.Unlock()
	if same {
		return nil
	}
	if _, err := call(ctx, func() (struct{}, error) { return struct{}{}, a.bot.SetCommands(menu) }); err != nil {
		return err
	}
	a.mu.Lock()
	a.menu = sum
	a.mu.Unlock()
	a.log.Info("menu commands updated", logx.Int("count", len(menu)))
	return nil
}

package bot

import (
	"strings"

	"tvbot/pkg/tgui"
)

// helpText renders the command list, or one command's usage when args names one.
// Non-owners only see public commands.
func (m *Manager) helpText(args []string, owner bool) string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if len(args) > 0 {
		name := strings.ToLower(strings.TrimPrefix(args[0], "/"))
		c := m.commands[name]
		if c == nil || (!c.Public && !owner) {
			return "❓ " + tgui.B("Unknown command").String() + "\nTry " + tgui.Code("/help").String()
		}
		card := tgui.NewCard("/" + c.Name)
		card.Text(c.Description)
		if c.Usage != "" {
			card.Line("usage: " + tgui.Code(c.Usage))
		}
		if len(c.Aliases) > 0 {
			card.Line("aliases: " + tgui.Code(strings.Join(c.Aliases, ", ")))
		}
		return card.String()
	}

	card := tgui.NewCard("📺 TV schedule bot")
	for _, c := range m.ordered {
		if !c.Public && !owner {
			continue
		}
		card.Line(tgui.Code("/"+c.Name) + " " + tgui.Esc(c.Description))
	}
	if !owner {
		card.Line(tgui.I("Admin commands are limited to the bot owners."))
	}
	return card.String()
}

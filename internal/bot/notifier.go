package bot

import (
	"context"
	"fmt"
	"time"

	"tvbot/internal/dispatch"
	"tvbot/internal/eventbus"
	kit "tvbot/internal/transport"
	logx "tvbot/pkg/logx"
	"tvbot/pkg/tgui"
)

// Notifier reports dispatch outcomes to the owners' private chats.
type Notifier struct {
	bus    eventbus.Bus
	sender kit.Sender
	owners func() []int64
	log    logx.Logger
}

func NewNotifier(bus eventbus.Bus, sender kit.Sender, owners func() []int64, log logx.Logger) *Notifier {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Notifier{bus: bus, sender: sender, owners: owners, log: log.With(logx.String("comp", "bot.notifier"))}
}

// Run forwards events until ctx is done.
func (n *Notifier) Run(ctx context.Context) error {
	ch, unsubscribe := n.bus.Subscribe(64, dispatch.EventSent, dispatch.EventNoRecipients, dispatch.EventSaveFailed)
	defer unsubscribe()
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-ch:
			if !ok {
				return nil
			}
			text := notificationText(ev)
			if text == "" {
				continue
			}
			for _, id := range n.owners() {
				sctx, cancel := context.WithTimeout(ctx, 15*time.Second)
				_, err := n.sender.SendText(sctx, kit.ChatTarget{ChatID: id}, text, &kit.SendOptions{ParseMode: tgui.ParseModeHTML, DisablePreview: true})
				cancel()
				if err != nil {
					n.log.Warn("owner notification failed", logx.Int64("owner", id), logx.String("event", ev.Type), logx.Err(err))
				}
			}
		}
	}
}

func notificationText(ev eventbus.Event) string {
	er, ok := ev.Data.(dispatch.EntryReport)
	if !ok {
		return ""
	}
	switch ev.Type {
	case dispatch.EventSent:
		return fmt.Sprintf("📤 %s sent to %d/%d recipients", tgui.Code(er.ID), er.Successes, er.Recipients)
	case dispatch.EventNoRecipients:
		if er.Outcome == "deactivated" {
			return fmt.Sprintf("⏸ %s deactivated: no active recipients", tgui.Code(er.ID))
		}
		return fmt.Sprintf("⚠️ %s is due but there are no active recipients", tgui.Code(er.ID))
	case dispatch.EventSaveFailed:
		return fmt.Sprintf("❌ %s was delivered but could not be marked sent; it may be sent again once the store recovers", tgui.Code(er.ID))
	}
	return ""
}

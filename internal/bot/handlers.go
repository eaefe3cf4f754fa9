package bot

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"tvbot/internal/admin"
	"tvbot/internal/delivery"
	"tvbot/internal/dispatch"
	"tvbot/internal/model"
	"tvbot/pkg/tgui"
)

// Admin is the admin surface the commands drive. *admin.Service satisfies it.
type Admin interface {
	AddRecipient(ctx context.Context, actor admin.Actor, id model.RecipientID, name string) (model.Recipient, error)
	RemoveRecipient(ctx context.Context, actor admin.Actor, id model.RecipientID) (model.Recipient, error)
	ToggleRecipient(ctx context.Context, actor admin.Actor, id model.RecipientID) (model.Recipient, error)
	RenameRecipient(ctx context.Context, actor admin.Actor, id model.RecipientID, name string) (model.Recipient, error)
	ListRecipients(ctx context.Context) ([]model.Recipient, error)

	AddSchedule(ctx context.Context, actor admin.Actor, in admin.NewSchedule) (model.ScheduleEntry, error)
	RemoveSchedule(ctx context.Context, actor admin.Actor, id string) (model.ScheduleEntry, error)
	ToggleSchedule(ctx context.Context, actor admin.Actor, id string) (model.ScheduleEntry, error)
	ResetSent(ctx context.Context, actor admin.Actor, id string) (model.ScheduleEntry, error)
	ListSchedules(ctx context.Context) ([]model.ScheduleEntry, error)
	Upcoming(ctx context.Context, days int) ([]model.ScheduleEntry, error)

	PurgeSent(ctx context.Context, actor admin.Actor) (int, error)
	ClearSchedules(ctx context.Context, actor admin.Actor) (int, error)
	Cleanup(ctx context.Context, actor admin.Actor) ([]model.ScheduleEntry, error)
	SendNow(ctx context.Context, actor admin.Actor, id string) (dispatch.EntryReport, error)
	Backup(ctx context.Context, actor admin.Actor) (string, error)
	Stats(ctx context.Context) (admin.Stats, error)
}

const pageSize = 15

func actorOf(req *Request) admin.Actor {
	return admin.Actor{ID: req.FromID, Username: req.From}
}

func pageIndex(req *Request) int {
	n, err := strconv.Atoi(req.Flag("page", "1"))
	if err != nil || n < 1 {
		return 0
	}
	return n - 1
}

func needArgs(req *Request, n int, usage string) error {
	if len(req.Args) < n {
		return usagef("usage: %s", usage)
	}
	return nil
}

func parseRecipient(s string) (model.RecipientID, error) {
	id, err := model.ParseRecipientID(s)
	if err != nil {
		return model.RecipientID{}, usagef("%v", err)
	}
	return id, nil
}

// parseClock reads "HH:MM".
func parseClock(s string) (int, int, error) {
	h, m, ok := strings.Cut(s, ":")
	if !ok {
		return 0, 0, usagef("time %q is not HH:MM", s)
	}
	hour, err1 := strconv.Atoi(h)
	minute, err2 := strconv.Atoi(m)
	if err1 != nil || err2 != nil {
		return 0, 0, usagef("time %q is not HH:MM", s)
	}
	return hour, minute, nil
}

func entryLine(e model.ScheduleEntry) tgui.H {
	state := "⏳"
	switch {
	case e.Sent:
		state = "✅"
	case !e.Active:
		state = "⏸"
	}
	line := tgui.Raw(state+" ") + tgui.B(e.Date+" "+e.Time) + " " + tgui.Esc(strings.TrimSpace(e.Channel+" "+e.ProgramName))
	return line + "\n   " + tgui.Code(e.ID)
}

func recipientLine(r model.Recipient) tgui.H {
	state := "🟢"
	if !r.Active {
		state = "⚪"
	}
	return tgui.Raw(state+" ") + tgui.Code(r.ID.String()) + " " + tgui.Esc(r.Name)
}

// Commands builds the owner command set on top of a.
func Commands(a Admin, loc *time.Location) []Command {
	if loc == nil {
		loc = time.Local
	}
	return []Command{
		{
			Name:        "stats",
			Description: "store totals and dispatch status",
			Usage:       "/stats",
			Handle: func(ctx context.Context, req *Request) error {
				st, err := a.Stats(ctx)
				if err != nil {
					return err
				}
				card := tgui.NewCard("📊 Stats").
					KV("schedules", st.Schedules).
					KV("pending", st.Pending).
					KV("sent", st.Sent).
					KV("inactive", st.Inactive).
					KV("recipients", fmt.Sprintf("%d active / %d", st.ActiveRecipients, st.Recipients)).
					KV("dispatch", st.Dispatch.State).
					KV("cycles", st.Dispatch.Cycles).
					KV("failed cycles", st.Dispatch.Failures)
				if last := st.Dispatch.LastCycle; last != nil {
					card.KV("last cycle", last.Now.In(loc).Format("2006-01-02 15:04:05"))
					if last.Err != "" {
						card.KV("last error", tgui.TruncRunes(last.Err, 200))
					}
				}
				return req.Reply(ctx, card.String())
			},
		},
		{
			Name:        "users",
			Description: "list recipients",
			Usage:       "/users [--page N]",
			Handle: func(ctx context.Context, req *Request) error {
				users, err := a.ListRecipients(ctx)
				if err != nil {
					return err
				}
				p := tgui.Paginate(users, pageIndex(req), pageSize)
				card := tgui.NewCard("👥 Recipients")
				for _, u := range p.Items {
					card.Line(recipientLine(u))
				}
				card.Line(tgui.I(p.Label()))
				return req.Reply(ctx, card.String())
			},
		},
		{
			Name:        "adduser",
			Description: "add a recipient by chat id or @channel",
			Usage:       "/adduser <id|@name> [name]",
			Handle: func(ctx context.Context, req *Request) error {
				if err := needArgs(req, 1, "/adduser <id|@name> [name]"); err != nil {
					return err
				}
				id, err := parseRecipient(req.Args[0])
				if err != nil {
					return err
				}
				if _, err := delivery.ChatTarget(id); err != nil {
					return usagef("%q is neither a chat id nor an @username", id.String())
				}
				r, err := a.AddRecipient(ctx, actorOf(req), id, strings.Join(req.Args[1:], " "))
				if err != nil {
					return err
				}
				return req.Reply(ctx, "✅ added "+recipientLine(r).String())
			},
		},
		{
			Name:        "rmuser",
			Description: "remove a recipient",
			Usage:       "/rmuser <id>",
			Handle: func(ctx context.Context, req *Request) error {
				if err := needArgs(req, 1, "/rmuser <id>"); err != nil {
					return err
				}
				id, err := parseRecipient(req.Args[0])
				if err != nil {
					return err
				}
				r, err := a.RemoveRecipient(ctx, actorOf(req), id)
				if err != nil {
					return err
				}
				return req.Reply(ctx, "🗑 removed "+recipientLine(r).String())
			},
		},
		{
			Name:        "toggleuser",
			Description: "activate or deactivate a recipient",
			Usage:       "/toggleuser <id>",
			Handle: func(ctx context.Context, req *Request) error {
				if err := needArgs(req, 1, "/toggleuser <id>"); err != nil {
					return err
				}
				id, err := parseRecipient(req.Args[0])
				if err != nil {
					return err
				}
				r, err := a.ToggleRecipient(ctx, actorOf(req), id)
				if err != nil {
					return err
				}
				return req.Reply(ctx, recipientLine(r).String())
			},
		},
		{
			Name:        "renameuser",
			Description: "rename a recipient",
			Usage:       "/renameuser <id> <name>",
			Handle: func(ctx context.Context, req *Request) error {
				if err := needArgs(req, 2, "/renameuser <id> <name>"); err != nil {
					return err
				}
				id, err := parseRecipient(req.Args[0])
				if err != nil {
					return err
				}
				r, err := a.RenameRecipient(ctx, actorOf(req), id, strings.Join(req.Args[1:], " "))
				if err != nil {
					return err
				}
				return req.Reply(ctx, "✏️ "+recipientLine(r).String())
			},
		},
		{
			Name:        "schedules",
			Aliases:     []string{"list"},
			Description: "list all schedule entries",
			Usage:       "/schedules [--page N]",
			Handle: func(ctx context.Context, req *Request) error {
				list, err := a.ListSchedules(ctx)
				if err != nil {
					return err
				}
				p := tgui.Paginate(list, pageIndex(req), pageSize)
				card := tgui.NewCard("🗓 Schedules")
				for _, e := range p.Items {
					card.Line(entryLine(e))
				}
				card.Line(tgui.I(p.Label()))
				return req.Reply(ctx, card.String())
			},
		},
		{
			Name:        "upcoming",
			Description: "pending entries for the next days",
			Usage:       "/upcoming [days]",
			Handle: func(ctx context.Context, req *Request) error {
				days := 0
				if len(req.Args) > 0 {
					n, err := strconv.Atoi(req.Args[0])
					if err != nil || n < 0 {
						return usagef("days must be a non-negative number")
					}
					days = n
				}
				list, err := a.Upcoming(ctx, days)
				if err != nil {
					return err
				}
				p := tgui.Paginate(list, pageIndex(req), pageSize)
				card := tgui.NewCard("⏭ Upcoming")
				for _, e := range p.Items {
					card.Line(entryLine(e))
				}
				if p.Total == 0 {
					card.Text("nothing scheduled")
				} else {
					card.Line(tgui.I(p.Label()))
				}
				return req.Reply(ctx, card.String())
			},
		},
		{
			Name:        "addschedule",
			Aliases:     []string{"add"},
			Description: "schedule an announcement",
			Usage:       `/addschedule <YYYY-MM-DD> <HH:MM> <channel> <program> [message]`,
			Handle: func(ctx context.Context, req *Request) error {
				const usage = `/addschedule <YYYY-MM-DD> <HH:MM> <channel> <program> [message]`
				if err := needArgs(req, 4, usage); err != nil {
					return err
				}
				hour, minute, err := parseClock(req.Args[1])
				if err != nil {
					return err
				}
				e, err := a.AddSchedule(ctx, actorOf(req), admin.NewSchedule{
					Date:    req.Args[0],
					Hour:    hour,
					Minute:  minute,
					Channel: req.Args[2],
					Program: req.Args[3],
					Message: strings.Join(req.Args[4:], " "),
				})
				if err != nil {
					return err
				}
				card := tgui.NewCard("✅ Scheduled").
					KV("id", e.ID).
					KV("at", e.Date+" "+e.Time).
					Line(tgui.Esc(e.Message))
				return req.Reply(ctx, card.String())
			},
		},
		{
			Name:        "rmschedule",
			Description: "remove a schedule entry",
			Usage:       "/rmschedule <id>",
			Handle: func(ctx context.Context, req *Request) error {
				if err := needArgs(req, 1, "/rmschedule <id>"); err != nil {
					return err
				}
				e, err := a.RemoveSchedule(ctx, actorOf(req), req.Args[0])
				if err != nil {
					return err
				}
				return req.Reply(ctx, "🗑 removed\n"+entryLine(e).String())
			},
		},
		{
			Name:        "toggleschedule",
			Description: "activate or deactivate an entry",
			Usage:       "/toggleschedule <id>",
			Handle: func(ctx context.Context, req *Request) error {
				if err := needArgs(req, 1, "/toggleschedule <id>"); err != nil {
					return err
				}
				e, err := a.ToggleSchedule(ctx, actorOf(req), req.Args[0])
				if err != nil {
					return err
				}
				return req.Reply(ctx, entryLine(e).String())
			},
		},
		{
			Name:        "resetsent",
			Description: "allow a sent entry to be dispatched again",
			Usage:       "/resetsent <id>",
			Handle: func(ctx context.Context, req *Request) error {
				if err := needArgs(req, 1, "/resetsent <id>"); err != nil {
					return err
				}
				e, err := a.ResetSent(ctx, actorOf(req), req.Args[0])
				if err != nil {
					return err
				}
				return req.Reply(ctx, "↩️ reset\n"+entryLine(e).String())
			},
		},
		{
			Name:        "sendnow",
			Description: "broadcast an entry immediately",
			Usage:       "/sendnow <id>",
			Timeout:     5 * time.Minute,
			Handle: func(ctx context.Context, req *Request) error {
				if err := needArgs(req, 1, "/sendnow <id>"); err != nil {
					return err
				}
				rep, err := a.SendNow(ctx, actorOf(req), req.Args[0])
				if errors.Is(err, dispatch.ErrNoRecipients) {
					return usagef("no active recipients; entry left unsent")
				}
				if err != nil {
					return err
				}
				return req.Reply(ctx, fmt.Sprintf("📤 sent to %d/%d recipients", rep.Successes, rep.Recipients))
			},
		},
		{
			Name:        "purgesent",
			Description: "delete entries already sent",
			Usage:       "/purgesent",
			Handle: func(ctx context.Context, req *Request) error {
				n, err := a.PurgeSent(ctx, actorOf(req))
				if err != nil {
					return err
				}
				return req.Reply(ctx, fmt.Sprintf("🧹 removed %d sent entries", n))
			},
		},
		{
			Name:        "cleanup",
			Description: "delete old and malformed entries",
			Usage:       "/cleanup",
			Handle: func(ctx context.Context, req *Request) error {
				removed, err := a.Cleanup(ctx, actorOf(req))
				if err != nil {
					return err
				}
				return req.Reply(ctx, fmt.Sprintf("🧹 removed %d entries", len(removed)))
			},
		},
		{
			Name:        "clearschedules",
			Description: "delete every schedule entry",
			Usage:       "/clearschedules --confirm",
			Handle: func(ctx context.Context, req *Request) error {
				if req.Flag("confirm", "") != "true" {
					return usagef("this deletes every entry; repeat with --confirm")
				}
				n, err := a.ClearSchedules(ctx, actorOf(req))
				if err != nil {
					return err
				}
				return req.Reply(ctx, fmt.Sprintf("🧹 removed %d entries", n))
			},
		},
		{
			Name:        "backup",
			Description: "write a backup of both stores",
			Usage:       "/backup",
			Handle: func(ctx context.Context, req *Request) error {
				path, err := a.Backup(ctx, actorOf(req))
				if err != nil {
					return err
				}
				return req.Reply(ctx, "💾 backup written to "+tgui.Code(path).String())
			},
		},
	}
}

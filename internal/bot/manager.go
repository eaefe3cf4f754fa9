// Package bot is the Telegram control surface: it routes owner commands to the
// admin service and forwards dispatch events back to the owners.
package bot

import (
	"context"
	"runtime"
	"runtime/debug"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	kit "tvbot/internal/transport"
	rtsup "tvbot/internal/runtime/supervisor"
	logx "tvbot/pkg/logx"
	"tvbot/pkg/tgui"
)

type HandlerFunc func(ctx context.Context, req *Request) error

// Command is one slash command. All commands are owner-only except help.
type Command struct {
	Name        string
	Aliases     []string
	Description string
	Usage       string
	Public      bool
	Timeout     time.Duration
	Handle      HandlerFunc
}

type Request struct {
	Chat    kit.ChatTarget
	FromID  int64
	From    string
	Command string
	Args    []string
	Flags   map[string]string
	ReqID   string
	Logger  logx.Logger

	sender kit.Sender
}

// Reply sends an HTML message back to the chat the command came from.
func (r *Request) Reply(ctx context.Context, html string) error {
	_, err := r.sender.SendText(ctx, r.Chat, html, &kit.SendOptions{ParseMode: tgui.ParseModeHTML, DisablePreview: true})
	return err
}

// Flag returns the named flag or def.
func (r *Request) Flag(name, def string) string {
	if v, ok := r.Flags[name]; ok {
		return v
	}
	return def
}

// Manager routes incoming messages to commands on a bounded worker pool.
type Manager struct {
	mu       sync.RWMutex
	commands map[string]*Command // name and aliases
	ordered  []*Command
	owners   []int64

	log     logx.Logger
	adapter kit.Adapter
	timeout time.Duration

	jobs    chan func()
	workers int
}

type Config struct {
	Owners  []int64
	Workers int           // 0 means max(2, NumCPU)
	Queue   int           // 0 means 256
	Timeout time.Duration // default per-command timeout; 0 means 30s
}

func NewManager(cfg Config, adapter kit.Adapter, log logx.Logger) *Manager {
	if log.IsZero() {
		log = logx.Nop()
	}
	if cfg.Workers <= 0 {
		cfg.Workers = runtime.NumCPU()
		if cfg.Workers < 2 {
			cfg.Workers = 2
		}
	}
	if cfg.Queue <= 0 {
		cfg.Queue = 256
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &Manager{
		commands: map[string]*Command{},
		owners:   append([]int64(nil), cfg.Owners...),
		log:      log.With(logx.String("comp", "bot")),
		adapter:  adapter,
		timeout:  cfg.Timeout,
		jobs:     make(chan func(), cfg.Queue),
		workers:  cfg.Workers,
	}
}

// SetOwners replaces the owner list. Safe during hot reload.
func (m *Manager) SetOwners(owners []int64) {
	cp := append([]int64(nil), owners...)
	m.mu.Lock()
	m.owners = cp
	m.mu.Unlock()
}

func (m *Manager) Owners() []int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]int64(nil), m.owners...)
}

func (m *Manager) IsOwner(id int64) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, o := range m.owners {
		if o == id {
			return true
		}
	}
	return false
}

// SetCommands installs the registry; /help is always added.
func (m *Manager) SetCommands(cmds []Command) {
	cmds = append(cmds, Command{
		Name:        "help",
		Aliases:     []string{"start"},
		Description: "show this help",
		Usage:       "/help [command]",
		Public:      true,
		Handle: func(ctx context.Context, req *Request) error {
			return req.Reply(ctx, m.helpText(req.Args, m.IsOwner(req.FromID)))
		},
	})

	reg := map[string]*Command{}
	ordered := make([]*Command, 0, len(cmds))
	for i := range cmds {
		c := &cmds[i]
		name := strings.ToLower(strings.TrimSpace(c.Name))
		if name == "" || c.Handle == nil {
			continue
		}
		c.Name = name
		reg[name] = c
		for _, a := range c.Aliases {
			if a = strings.ToLower(strings.TrimSpace(a)); a != "" {
				if _, taken := reg[a]; !taken {
					reg[a] = c
				}
			}
		}
		ordered = append(ordered, c)
	}
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].Name < ordered[j].Name })

	m.mu.Lock()
	m.commands = reg
	m.ordered = ordered
	m.mu.Unlock()
}

// UpdateMenu pushes the command list to the Telegram menu when the adapter supports it.
func (m *Manager) UpdateMenu(ctx context.Context) {
	up, ok := m.adapter.(kit.CommandMenuUpdater)
	if !ok {
		return
	}
	m.mu.RLock()
	menu := make([]kit.BotCommand, 0, len(m.ordered))
	for _, c := range m.ordered {
		menu = append(menu, kit.BotCommand{Command: c.Name, Description: tgui.TruncRunes(c.Description, 256)})
	}
	m.mu.RUnlock()

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := up.UpdateMenuCommands(ctx, menu); err != nil {
		m.log.Warn("menu update failed", logx.Err(err))
	}
}

// Run consumes updates until ctx is done or the channel closes. Handlers run
// on a supervised worker pool.
func (m *Manager) Run(ctx context.Context, updates <-chan kit.Update) error {
	sup := rtsup.New(ctx,
		rtsup.WithLogger(m.log),
		rtsup.WithCancelOnError(false),
	)
	for i := 0; i < m.workers; i++ {
		idx := i
		sup.GoRestart("bot.worker."+strconv.Itoa(idx), func(c context.Context) error {
			return m.worker(c, idx)
		},
			rtsup.WithRestartBackoff(200*time.Millisecond, 5*time.Second),
			rtsup.WithStopOnCleanExit(true),
		)
	}
	m.log.Info("command dispatcher started", logx.Int("workers", m.workers), logx.Int("queue", cap(m.jobs)))

	defer func() {
		sup.Cancel()
		wctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		_ = sup.Wait(wctx)
		cancel()
		m.log.Info("command dispatcher stopped")
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case up, ok := <-updates:
			if !ok {
				return nil
			}
			m.route(ctx, up)
		}
	}
}

func (m *Manager) worker(ctx context.Context, idx int) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case job := <-m.jobs:
			func() {
				defer func() {
					if r := recover(); r != nil {
						m.log.Error("panic in command job", logx.Int("worker", idx), logx.Any("panic", r), logx.String("stack", string(debug.Stack())))
					}
				}()
				job()
			}()
		}
	}
}

func (m *Manager) route(ctx context.Context, up kit.Update) {
	if up.Kind != kit.UpdateMessage || up.Message == nil {
		return
	}
	msg := up.Message
	toks := tokenize(msg.Text)
	if len(toks) == 0 {
		return
	}
	word, ok := commandWord(toks[0])
	if !ok {
		return
	}
	chat := kit.ChatTarget{ChatID: msg.ChatID, ThreadID: msg.ThreadID}

	m.mu.RLock()
	cmd := m.commands[word]
	m.mu.RUnlock()
	if cmd == nil {
		if m.IsOwner(msg.FromID) {
			_, _ = m.adapter.SendText(ctx, chat, "unknown command, try /help", nil)
		}
		return
	}
	if !cmd.Public && !m.IsOwner(msg.FromID) {
		m.log.Warn("unauthorized command", logx.Int64("from_id", msg.FromID), logx.String("cmd", cmd.Name))
		_, _ = m.adapter.SendText(ctx, chat, "unauthorized", nil)
		return
	}

	args, flags := splitFlags(toks[1:])
	rid := uuid.NewString()[:8]
	req := &Request{
		Chat:    chat,
		FromID:  msg.FromID,
		From:    msg.FromUsername,
		Command: cmd.Name,
		Args:    args,
		Flags:   flags,
		ReqID:   rid,
		Logger: m.log.With(
			logx.String("rid", rid),
			logx.Int64("chat_id", msg.ChatID),
			logx.Int64("from_id", msg.FromID),
			logx.String("cmd", cmd.Name),
		),
		sender: m.adapter,
	}

	timeout := cmd.Timeout
	if timeout <= 0 {
		timeout = m.timeout
	}
	final := chain(cmd.Handle, recoverPanic(), logRequest(), withTimeout(timeout), replyErrors())

	select {
	case m.jobs <- func() { _ = final(ctx, req) }:
	default:
		_, _ = m.adapter.SendText(ctx, chat, "busy, try again", nil)
	}
}

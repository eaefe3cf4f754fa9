package logx

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

const (
	chatQueue    = 256
	chatMaxText  = 3500
	chatMaxValue = 600
	chatTimeout  = 10 * time.Second
)

// chatSink is a zerolog writer that forwards events to a Telegram chat.
// Writes never block: events over the rate or queue limit are dropped.
type chatSink struct {
	sender Sender
	queue  chan string

	mu       sync.Mutex
	chatID   int64
	minLevel zerolog.Level
	limiter  *rate.Limiter

	runOnce sync.Once
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

func newChatSink(sender Sender) *chatSink {
	return &chatSink{sender: sender, queue: make(chan string, chatQueue), minLevel: zerolog.WarnLevel}
}

func (c *chatSink) configure(cfg TelegramConfig) {
	rps := max(cfg.RatePerSec, 1)
	c.mu.Lock()
	c.chatID = cfg.ChatID
	c.minLevel = parseLevel(cfg.MinLevel, zerolog.WarnLevel)
	c.limiter = rate.NewLimiter(rate.Limit(rps), rps)
	c.mu.Unlock()
}

func (c *chatSink) start() {
	c.runOnce.Do(func() {
		ctx, cancel := context.WithCancel(context.Background())
		c.mu.Lock()
		c.cancel = cancel
		c.mu.Unlock()
		c.wg.Add(1)
		go c.run(ctx)
	})
}

func (c *chatSink) stop() {
	c.mu.Lock()
	cancel := c.cancel
	c.mu.Unlock()
	if cancel != nil {
		cancel()
		c.wg.Wait()
	}
}

func (c *chatSink) run(ctx context.Context) {
	defer c.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case text := <-c.queue:
			c.mu.Lock()
			chatID := c.chatID
			c.mu.Unlock()
			if c.sender == nil || chatID == 0 {
				continue
			}
			sctx, cancel := context.WithTimeout(ctx, chatTimeout)
			_ = c.sender.SendPlain(sctx, chatID, text)
			cancel()
		}
	}
}

func (c *chatSink) Write(p []byte) (int, error) { return c.WriteLevel(zerolog.InfoLevel, p) }

func (c *chatSink) WriteLevel(lvl zerolog.Level, p []byte) (int, error) {
	c.mu.Lock()
	ok := c.chatID != 0 && c.limiter != nil && lvl >= c.minLevel && c.limiter.Allow()
	c.mu.Unlock()
	if !ok {
		return len(p), nil
	}
	if text := renderEvent(p); text != "" {
		select {
		case c.queue <- text:
		default:
		}
	}
	return len(p), nil
}

// renderEvent turns a JSON event into "[LEVEL] message" followed by one
// "- key=value" line per field, keys sorted.
func renderEvent(p []byte) string {
	var ev map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(p), &ev); err != nil {
		return clip(strings.TrimSpace(string(p)), chatMaxText)
	}
	var b strings.Builder
	if lvl, _ := ev[zerolog.LevelFieldName].(string); lvl != "" {
		fmt.Fprintf(&b, "[%s] ", strings.ToUpper(lvl))
	}
	msg, _ := ev[zerolog.MessageFieldName].(string)
	b.WriteString(msg)

	keys := make([]string, 0, len(ev))
	for k := range ev {
		switch k {
		case zerolog.TimestampFieldName, zerolog.LevelFieldName, zerolog.MessageFieldName:
		default:
			keys = append(keys, k)
		}
	}
	slices.Sort(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, "\n- %s=%s", k, clip(fmt.Sprint(ev[k]), chatMaxValue))
	}
	return clip(b.String(), chatMaxText)
}

func clip(s string, n int) string {
	if len(s) <= n {
		return s
	}
	if n < 10 {
		return s[:n]
	}
	return s[:n-3] + "..."
}

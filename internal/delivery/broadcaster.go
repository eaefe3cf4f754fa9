package delivery

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"tvbot/internal/metrics"
	"tvbot/internal/model"
	kit "tvbot/internal/transport"
	logx "tvbot/pkg/logx"
)

// ErrBadRecipient marks ids that cannot address a Telegram chat.
var ErrBadRecipient = errors.New("recipient id is not a telegram chat")

// Broadcaster delivers through a transport.Sender with rate limiting and retries.
type Broadcaster struct {
	mu      sync.Mutex
	cfg     Config
	limiter *rate.Limiter

	sender kit.Sender
	log    logx.Logger
}

var _ Client = (*Broadcaster)(nil)

func NewBroadcaster(cfg Config, sender kit.Sender, log logx.Logger) *Broadcaster {
	if log.IsZero() {
		log = logx.Nop()
	}
	b := &Broadcaster{sender: sender, log: log}
	b.Apply(cfg)
	return b
}

// Apply swaps rate, retry and timeout settings. Safe during a Deliver call;
// the running batch keeps the settings it started with.
func (b *Broadcaster) Apply(cfg Config) {
	cfg = cfg.withDefaults()
	b.mu.Lock()
	b.cfg = cfg
	b.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec)
	b.mu.Unlock()
}

// ChatTarget maps a recipient id onto a Telegram chat: numeric ids are chat ids,
// "@name" ids are public usernames.
func ChatTarget(id model.RecipientID) (kit.ChatTarget, error) {
	if v, ok := id.Int64(); ok {
		return kit.ChatTarget{ChatID: v}, nil
	}
	s := strings.TrimSpace(id.String())
	if strings.HasPrefix(s, "@") && len(s) > 1 {
		return kit.ChatTarget{Username: s}, nil
	}
	return kit.ChatTarget{}, fmt.Errorf("%w: %q", ErrBadRecipient, s)
}

// Deliver sends message to every id and returns results in input order.
func (b *Broadcaster) Deliver(ctx context.Context, message string, ids []model.RecipientID) []Result {
	b.mu.Lock()
	cfg := b.cfg
	lim := b.limiter
	b.mu.Unlock()

	results := make([]Result, len(ids))
	if len(ids) == 0 {
		return results
	}
	opt := &kit.SendOptions{ParseMode: cfg.ParseMode, DisablePreview: cfg.DisablePreview}

	one := func(i int) {
		start := time.Now()
		err := b.sendOne(ctx, cfg, lim, ids[i], message, opt)
		results[i] = Result{RecipientID: ids[i], Success: err == nil}
		if err != nil {
			results[i].Err = err.Error()
		}
		metrics.RecordDelivery(err == nil, time.Since(start))
	}

	workers := cfg.Workers
	if workers > len(ids) {
		workers = len(ids)
	}
	if workers <= 1 {
		for i := range ids {
			one(i)
		}
		return results
	}

	sem := make(chan struct{}, workers)
	var wg sync.WaitGroup
	for i := range ids {
		sem <- struct{}{}
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			defer func() { <-sem }()
			one(i)
		}(i)
	}
	wg.Wait()
	return results
}

func (b *Broadcaster) sendOne(ctx context.Context, cfg Config, lim *rate.Limiter, id model.RecipientID, text string, opt *kit.SendOptions) error {
	to, err := ChatTarget(id)
	if err != nil {
		b.log.Warn("delivery skipped", logx.String("recipient", id.String()), logx.Err(err))
		return err
	}

	// The rate wait sits outside the per-recipient timeout.
	if lim != nil {
		if err := lim.Wait(ctx); err != nil {
			return err
		}
	}
	ctx, cancel := context.WithTimeout(ctx, cfg.PerSendTimeout)
	defer cancel()
	var last error
	for i := 0; i <= cfg.RetryMax; i++ {
		_, err := b.sender.SendText(ctx, to, text, opt)
		if err == nil {
			return nil
		}
		last = err
		if i == cfg.RetryMax || ctx.Err() != nil {
			break
		}
		delay := time.Duration(200+100*i) * time.Millisecond
		b.log.Debug("delivery retry scheduled", logx.String("recipient", to.String()), logx.Int("attempt", i+2), logx.Duration("delay", delay), logx.Err(err))
		tmr := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			tmr.Stop()
			return ctx.Err()
		case <-tmr.C:
		}
	}
	b.log.Warn("delivery failed", logx.String("recipient", to.String()), logx.Err(last))
	return last
}

// Package delivery sends one message to a list of recipients and reports a
// per-recipient outcome. Failures for one recipient never abort the batch.
package delivery

import (
	"context"
	"time"

	"tvbot/internal/model"
)

// Result is the outcome for one recipient.
type Result struct {
	RecipientID model.RecipientID
	Success     bool
	Err         string
}

// Client is the delivery boundary the dispatch loop depends on.
type Client interface {
	Deliver(ctx context.Context, message string, ids []model.RecipientID) []Result
}

// Successes counts successful results.
func Successes(rs []Result) int {
	n := 0
	for _, r := range rs {
		if r.Success {
			n++
		}
	}
	return n
}

type Config struct {
	RatePerSec     int
	RetryMax       int
	Workers        int           // 1 sends sequentially
	PerSendTimeout time.Duration // bounds one recipient, retries included
	ParseMode      string
	DisablePreview bool
}

func (c Config) withDefaults() Config {
	if c.RatePerSec <= 0 {
		c.RatePerSec = 10
	}
	if c.RetryMax < 0 {
		c.RetryMax = 0
	}
	if c.Workers <= 0 {
		c.Workers = 1
	}
	if c.PerSendTimeout <= 0 {
		c.PerSendTimeout = 15 * time.Second
	}
	return c
}

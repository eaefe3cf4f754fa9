package config

import (
	"context"
	"errors"
	"math/rand/v2"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	logx "tvbot/pkg/logx"
)

const (
	reloadDebounce = 250 * time.Millisecond
	rewatchMin     = 250 * time.Millisecond
	rewatchMax     = 5 * time.Second
)

// Watch reloads on every change to the file until ctx ends. It watches the
// directory so editors that save by rename are seen too.
func (m *Manager) Watch(ctx context.Context) error {
	log := m.log.With(logx.String("path", m.path))
	d := &debouncer{wait: reloadDebounce, fn: func() { m.reloadLogged(ctx, log) }}
	defer d.stop()

	backoff := rewatchMin
	for {
		err := m.watchOnce(ctx, d, func() { backoff = rewatchMin })
		if ctx.Err() != nil {
			return nil
		}
		log.Warn("config watcher failed, restarting", logx.Err(err))
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(backoff + rand.N(backoff/2+1)):
		}
		backoff = min(backoff*2, rewatchMax)
	}
}

// watchOnce runs one fsnotify watcher until it breaks or ctx ends.
func (m *Manager) watchOnce(ctx context.Context, d *debouncer, attached func()) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()
	if err := w.Add(filepath.Dir(m.path)); err != nil {
		return err
	}
	attached()

	name := filepath.Base(m.path)
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return errors.New("event channel closed")
			}
			if ev.Has(fsnotify.Write|fsnotify.Create|fsnotify.Rename) && strings.EqualFold(filepath.Base(ev.Name), name) {
				d.trigger()
			}
		case err, ok := <-w.Errors:
			if !ok {
				return errors.New("error channel closed")
			}
			if errors.Is(err, fsnotify.ErrEventOverflow) {
				// events were lost, one of them may have been ours
				d.trigger()
				continue
			}
			m.log.Warn("config watch error", logx.Err(err))
		}
	}
}

func (m *Manager) reloadLogged(ctx context.Context, log logx.Logger) {
	changed, err := m.Reload(ctx)
	switch {
	case err != nil:
		log.Warn("config reload failed, keeping previous", logx.Err(err))
	case changed:
		log.Info("config reloaded")
	}
}

// debouncer runs fn once things have been quiet for wait.
type debouncer struct {
	wait time.Duration
	fn   func()

	mu sync.Mutex
	t  *time.Timer
}

func (d *debouncer) trigger() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.t == nil {
		d.t = time.AfterFunc(d.wait, d.fn)
		return
	}
	d.t.Reset(d.wait)
}

func (d *debouncer) stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.t != nil {
		d.t.Stop()
	}
}

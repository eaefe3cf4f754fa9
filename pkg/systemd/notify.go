// Package systemd reports service state to systemd over sd_notify. Every
// call is a no-op when the process is not started by systemd.
package systemd

import (
	"context"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	logx "tvbot/pkg/logx"
)

func notify(state string) bool {
	ok, err := daemon.SdNotify(false, state)
	return ok && err == nil
}

// Ready marks startup as complete (Type=notify units).
func Ready() bool { return notify(daemon.SdNotifyReady) }

// Stopping announces a clean shutdown.
func Stopping() bool { return notify(daemon.SdNotifyStopping) }

// Reloading brackets a config reload; call Ready when it is applied.
func Reloading() bool { return notify(daemon.SdNotifyReloading) }

// Status sets the free-form status line shown by systemctl status.
func Status(msg string) bool { return notify("STATUS=" + msg) }

// Watchdog pings the systemd watchdog at half of WatchdogSec until ctx is
// done. healthy may veto a ping so a wedged process gets restarted.
func Watchdog(ctx context.Context, healthy func() bool, log logx.Logger) {
	interval, err := daemon.SdWatchdogEnabled(false)
	if err != nil {
		log.Warn("systemd watchdog config invalid", logx.Err(err))
		return
	}
	if interval <= 0 {
		return
	}
	every := interval / 2
	log.Debug("systemd watchdog enabled", logx.Duration("every", every))
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if healthy != nil && !healthy() {
				log.Warn("skipping watchdog ping; unhealthy")
				continue
			}
			notify(daemon.SdNotifyWatchdog)
		}
	}
}

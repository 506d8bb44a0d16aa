package app

import (
	"sync"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	logx "bosstracker/pkg/logx"
)

// sdNotifier reports lifecycle state to systemd when running under a
// Type=notify unit. Outside systemd every call is a no-op.
type sdNotifier struct {
	log    logx.Logger
	notify func(state string) (bool, error)

	mu       sync.Mutex
	interval time.Duration // watchdog ping interval, 0 when disabled
	lastPing time.Time
}

func newSDNotifier(log logx.Logger) *sdNotifier {
	n := &sdNotifier{
		log:    log,
		notify: func(state string) (bool, error) { return daemon.SdNotify(false, state) },
	}
	if d, err := daemon.SdWatchdogEnabled(false); err != nil {
		log.Warn("systemd watchdog config invalid", logx.Err(err))
	} else if d > 0 {
		// systemd recommends pinging at half the timeout.
		n.interval = d / 2
		log.Info("systemd watchdog enabled", logx.Duration("timeout", d))
	}
	return n
}

func (n *sdNotifier) send(state string) {
	sent, err := n.notify(state)
	if err != nil {
		n.log.Warn("systemd notify failed", logx.String("state", state), logx.Err(err))
		return
	}
	if sent {
		n.log.Debug("systemd notified", logx.String("state", state))
	}
}

func (n *sdNotifier) Ready()    { n.send(daemon.SdNotifyReady) }
func (n *sdNotifier) Stopping() { n.send(daemon.SdNotifyStopping) }

// Ping is called from the tick loop, so a wedged loop stops the pings and
// lets systemd restart the unit.
func (n *sdNotifier) Ping(now time.Time) {
	n.mu.Lock()
	if n.interval <= 0 || now.Sub(n.lastPing) < n.interval {
		n.mu.Unlock()
		return
	}
	n.lastPing = now
	n.mu.Unlock()
	n.send(daemon.SdNotifyWatchdog)
}

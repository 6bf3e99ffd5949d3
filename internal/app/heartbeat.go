package app

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
)

// Monitor is the heartbeat loop: every interval it pings every writable
// connection and evicts the ones silent past the timeout. Pings do not
// count as liveness; only inbound frames do.
type Monitor struct {
	relay    *Relay
	interval time.Duration
	timeout  time.Duration
	now      func() time.Time
}

func NewMonitor(relay *Relay, interval, timeout time.Duration) *Monitor {
	return &Monitor{
		relay:    relay,
		interval: interval,
		timeout:  timeout,
		now:      time.Now,
	}
}

func (m *Monitor) Run(ctx context.Context) {
	t := time.NewTicker(m.interval)
	defer t.Stop()
	log.Info().Str("module", "app.heartbeat").Dur("interval", m.interval).Dur("timeout", m.timeout).Msg("heartbeat monitor started")
	for {
		select {
		case <-ctx.Done():
			log.Info().Str("module", "app.heartbeat").Msg("heartbeat monitor stopped")
			return
		case <-t.C:
			m.PingAll()
			m.SweepIdle(m.now())
		}
	}
}

// PingAll sends a ping frame to every connection whose transport is
// still writable.
func (m *Monitor) PingAll() {
	frame := pingFrame()
	for _, r := range m.relay.state.Connections() {
		if !r.Sender.Writable() {
			continue
		}
		if err := r.Sender.TrySend(frame); err != nil {
			log.Warn().Err(err).Str("module", "app.heartbeat").Str("conn", string(r.ID)).Msg("ping drop")
		}
	}
}

// SweepIdle evicts every connection that has been silent longer than
// the timeout, through the same teardown path as an abrupt disconnect.
func (m *Monitor) SweepIdle(now time.Time) {
	for _, id := range m.relay.state.IdleSince(now.Add(-m.timeout)) {
		log.Warn().Str("module", "app.heartbeat").Str("conn", string(id)).Msg("connection timed out, evicting")
		m.relay.Teardown(id)
	}
}

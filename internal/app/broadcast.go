package app

import (
	"encoding/json"

	"github.com/rs/zerolog/log"
)

// broadcast marshals v once and delivers it to every recipient. A
// failed send (torn-down socket, full queue) is logged and skipped; it
// never aborts the rest of the fan-out and never evicts the recipient.
func (rl *Relay) broadcast(kind string, recipients []Recipient, v any) {
	if len(recipients) == 0 {
		return
	}
	b, err := json.Marshal(v)
	if err != nil {
		log.Error().Err(err).Str("module", "app.relay").Str("kind", kind).Msg("marshal outbound")
		return
	}
	sent := 0
	for _, r := range recipients {
		if err := r.Sender.TrySend(b); err != nil {
			log.Warn().Err(err).Str("module", "app.relay").Str("kind", kind).Str("conn", string(r.ID)).Str("user", r.Username).Msg("fan-out drop")
			continue
		}
		sent++
	}
	log.Debug().Str("module", "app.relay").Str("kind", kind).Int("sent_to", sent).Int("dropped", len(recipients)-sent).Msg("broadcast result")
}

// sendTo delivers one frame to one recipient, same failure policy.
func (rl *Relay) sendTo(kind string, r Recipient, v any) {
	b, err := json.Marshal(v)
	if err != nil {
		log.Error().Err(err).Str("module", "app.relay").Str("kind", kind).Msg("marshal outbound")
		return
	}
	if err := r.Sender.TrySend(b); err != nil {
		log.Warn().Err(err).Str("module", "app.relay").Str("kind", kind).Str("conn", string(r.ID)).Msg("send drop")
	}
}

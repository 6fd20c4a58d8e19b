// Package realtime publishes engine log events to the dashboard channel.
package realtime

import (
	"log"

	pubnub "github.com/pubnub/go"
)

// Event kinds understood by the dashboard log view.
const (
	KindInfo    = "info"
	KindWarning = "warning"
	KindError   = "error"
)

// Emitter is a fire-and-forget log/event sink. A nil emitter (or one built
// without PubNub keys) degrades to process logging only; the engine never
// blocks on it.
type Emitter struct {
	pn      *pubnub.PubNub
	channel string
}

func NewEmitter(pn *pubnub.PubNub, channel string) *Emitter {
	return &Emitter{pn: pn, channel: channel}
}

func (e *Emitter) Emit(kind, message string) {
	log.Printf("[%s] %s", kind, message)
	if e == nil || e.pn == nil {
		return
	}
	go e.pn.Publish().
		Channel(e.channel).
		Message(map[string]any{
			"kind":    kind,
			"message": message,
		}).
		Execute()
}

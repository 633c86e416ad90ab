package log

import (
	"go.uber.org/zap"

	"github.com/gkze/nix-update-engine/internal/event"
)

// Tap forwards every event from stream unchanged, logging status and
// error events at Info and Error respectively as they pass (spec's "independent of
// whatever the event-stream consumer does with them" — the TUI/JSON
// summary renderer and this logging tap both observe the same events,
// neither owning the stream). Result and value events are not logged
// here; they usually carry large payloads better summarized by the
// consumer that actually persists them.
func Tap(logger *zap.SugaredLogger, stream <-chan event.Event) <-chan event.Event {
	out := make(chan event.Event)
	go func() {
		defer close(out)
		for ev := range stream {
			switch ev.Kind {
			case event.KindStatus:
				logger.Infow(ev.Message, "run_id", ev.RunID, "source", ev.Source)
			case event.KindError:
				logger.Errorw(ev.Message, "run_id", ev.RunID, "source", ev.Source)
			}
			out <- ev
		}
	}()
	return out
}

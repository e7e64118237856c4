package state

import (
	"context"

	"github.com/edgecore-dev/edgecore/internal/events"
	"github.com/edgecore-dev/edgecore/internal/logging"
)

// mqttSender is the subset of *notify.MQTT the mirror depends on.
type mqttSender interface {
	Send(ctx context.Context, event events.Event) error
}

// RunMQTTMirror subscribes to bus and republishes every event matching
// pattern to sender, until ctx is cancelled. Send failures are logged and
// do not stop the mirror — a broker outage must not take down the Shared
// State view itself.
func RunMQTTMirror(ctx context.Context, bus *events.Bus, pattern string, sender mqttSender, log *logging.Logger) {
	ch, unsubscribe := bus.Subscribe(pattern)
	defer unsubscribe()

	for {
		select {
		case <-ctx.Done():
			return
		case evt := <-ch:
			if err := sender.Send(ctx, evt); err != nil && log != nil {
				log.Warn("mqtt mirror send failed", "topic", evt.Topic, "error", err)
			}
		}
	}
}

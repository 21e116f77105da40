package notify

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/pitabwire/frame/workerpool"
	"github.com/pitabwire/util"

	"github.com/itttm127/speech-to-text/pkg/events"
)

// Subscriber implements queue.SubscribeWorker to route events to matching sinks.
type Subscriber struct {
	Repo      *Repository
	Deliverer *Deliverer
	Pool      workerpool.WorkerPool
}

// Handle is called by frame's pub/sub for each event message.
func (s *Subscriber) Handle(ctx context.Context, _ map[string]string, message []byte) error {
	var env events.Envelope
	if err := json.Unmarshal(message, &env); err != nil {
		util.Log(ctx).WithError(err).Error("sink subscriber: unmarshal envelope")
		return err
	}

	sinks, err := s.Repo.ListByEventType(ctx, env.Type)
	if err != nil {
		util.Log(ctx).WithError(err).Error("sink subscriber: list sinks")
		return err
	}

	for _, sink := range sinks {
		sink := sink
		env := env
		if s.Pool != nil {
			if err := s.Pool.Submit(ctx, func() {
				s.Deliverer.Deliver(ctx, sink, env)
			}); err != nil {
				slog.WarnContext(ctx, "sink pool full", slog.String("sink_id", sink.ID))
			}
		} else {
			go s.Deliverer.Deliver(ctx, sink, env)
		}
	}

	return nil
}

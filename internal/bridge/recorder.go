package bridge

import (
	"context"
	logger "log/slog"

	"github.com/vietddude/apex/internal/core/domain"
	"github.com/vietddude/apex/internal/events"
	"github.com/vietddude/apex/internal/infra/storage"
)

// Recorder copies transfer transitions off the event bus into the
// append-only history log. It is a plain subscriber: the coordinator
// never blocks on it, and a dropped event costs an audit row, not a
// transfer.
type Recorder struct {
	bus     *events.Bus
	history storage.TransferHistoryRepository
	log     logger.Logger
}

// NewRecorder creates a transition recorder.
func NewRecorder(bus *events.Bus, history storage.TransferHistoryRepository) *Recorder {
	return &Recorder{
		bus:     bus,
		history: history,
		log:     *logger.Default(),
	}
}

// Run consumes transition events until the context ends or the bus
// closes.
func (r *Recorder) Run(ctx context.Context) error {
	sub := r.bus.Subscribe(events.Filter{
		Types: []domain.EventType{domain.EventTypeTransferTransition},
	})
	defer sub.Close()

	r.log.Info("transition recorder starting")
	for {
		select {
		case <-ctx.Done():
			r.log.Info("transition recorder stopped")
			return nil
		case ev, ok := <-sub.C():
			if !ok {
				return nil
			}
			r.record(ctx, ev)
		}
	}
}

func (r *Recorder) record(ctx context.Context, ev *domain.Event) {
	if ev.TransferID == "" {
		return
	}
	tr := domain.TransferTransition{
		From: domain.TransferState(metaString(ev, "from")),
		To:   domain.TransferState(metaString(ev, "to")),
		Note: metaString(ev, "note"),
		At:   ev.EmittedAt,
	}
	if err := r.history.Append(ctx, ev.TransferID, tr); err != nil {
		r.log.Warn("transition append failed", "transfer", ev.TransferID, "error", err)
	}
}

func metaString(ev *domain.Event, key string) string {
	if v, ok := ev.Metadata[key].(string); ok {
		return v
	}
	return ""
}

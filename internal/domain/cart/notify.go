package cart

import (
	"context"

	"go.uber.org/zap"
)

// EventKind identifies a cart mutation.
type EventKind string

const (
	EventAdded       EventKind = "added"
	EventUpdated     EventKind = "updated"
	EventRemoved     EventKind = "removed"
	EventGiftAdded   EventKind = "gift_added"
	EventGiftRemoved EventKind = "gift_removed"
	EventCleared     EventKind = "cleared"
)

// Event describes a committed cart mutation.
type Event struct {
	Kind            EventKind
	ProductID       string
	PackageOptionID string
	Quantity        int
}

// Notifier receives cart events after they are persisted.
type Notifier interface {
	Notify(ctx context.Context, ev Event)
}

// LogNotifier writes cart events to a zap logger.
type LogNotifier struct {
	lg *zap.Logger
}

// NewLogNotifier returns a LogNotifier. A nil logger discards events.
func NewLogNotifier(lg *zap.Logger) *LogNotifier {
	if lg == nil {
		lg = zap.NewNop()
	}
	return &LogNotifier{lg: lg}
}

func (n *LogNotifier) Notify(_ context.Context, ev Event) {
	n.lg.Info("Cart updated",
		zap.String("event", string(ev.Kind)),
		zap.String("product_id", ev.ProductID),
		zap.String("package_option_id", ev.PackageOptionID),
		zap.Int("quantity", ev.Quantity),
	)
}

type nopNotifier struct{}

func (nopNotifier) Notify(context.Context, Event) {}

package relay

import (
	"context"
	"fmt"
	"sync"
	"time"

	"nuclight.org/relay-tg-bot/app/metrics"
	e "nuclight.org/relay-tg-bot/pkg/entities"
	"nuclight.org/relay-tg-bot/pkg/logger"
)

type ChannelLister interface {
	ListActiveChannels(ctx context.Context) ([]e.Channel, error)
}

// HandlerSlot holds the single handler the source feeds posts to. Register
// replaces the current handler and returns the previous one.
type HandlerSlot interface {
	Register(h e.PostHandler) e.PostHandler
}

type PostDispatcher interface {
	Dispatch(ctx context.Context, channel e.Channel, post e.Post) error
}

type RegistryObserver interface {
	PostDropped(reason string)
	SetActiveChannels(n int)
}

// Registry keeps the source subscribed to the active channel set, the
// channels with at least one subscription. Refresh reloads the set and swaps
// in a new handler filtering posts by it. A post picked up by the previous
// handler before the swap is still dispatched by it.
type Registry struct {
	// Log is a logger
	Log logger.Logger

	// Store lists active channels
	Store ChannelLister

	// Source receives the handler
	Source HandlerSlot

	// Dispatcher gets the posts of active channels
	Dispatcher PostDispatcher

	// Observer is notified about dropped posts and active set size, optional
	Observer RegistryObserver

	mu sync.Mutex
}

// Refresh recomputes the active set and registers a handler for it. Calls are
// serialized. Event processing is never blocked by a refresh.
func (r *Registry) Refresh(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	channels, err := r.Store.ListActiveChannels(ctx)
	if err != nil {
		return fmt.Errorf("listing active channels: %w", err)
	}

	m := &monitor{
		log:        r.Log,
		dispatcher: r.Dispatcher,
		observer:   r.Observer,
		channels:   make(map[int64]e.Channel, len(channels)),
	}
	for _, ch := range channels {
		m.channels[ch.ID] = ch
	}

	r.Source.Register(m)

	if r.Observer != nil {
		r.Observer.SetActiveChannels(len(m.channels))
	}

	r.Log.Info("monitoring configured", "channels", len(m.channels))

	return nil
}

// Run refreshes the registry every interval until ctx is done.
func (r *Registry) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := r.Refresh(ctx); err != nil {
				r.Log.Error("refreshing monitored channels", "error", err)
			}
		}
	}
}

type monitor struct {
	log        logger.Logger
	dispatcher PostDispatcher
	observer   RegistryObserver
	channels   map[int64]e.Channel
}

func (m *monitor) HandlePost(ctx context.Context, post e.Post) {
	channel, ok := m.channels[post.ChannelID]
	if !ok {
		m.log.Debug("post from unmonitored channel", "channel_id", post.ChannelID, "post_id", post.ID)
		if m.observer != nil {
			m.observer.PostDropped(metrics.ReasonUnknownChannel)
		}
		return
	}

	if err := m.dispatcher.Dispatch(ctx, channel, post); err != nil {
		m.log.Error("dispatching post", "channel_id", post.ChannelID, "post_id", post.ID, "error", err)
	}
}

package replica

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
)

import (
	"github.com/google/uuid"
)

// Bus moves raw update messages between replicas.
type Bus interface {
	Publish(ctx context.Context, payload []byte) error
	Subscribe(ctx context.Context) (<-chan []byte, error)
}

// Device is the local pattern holder.
type Device interface {
	Write(p []byte) (int, error)
	Pattern() ([]byte, error)
}

// Update is the wire form of a pattern replacement.
type Update struct {
	Origin  string `json:"origin"`
	Pattern []byte `json:"pattern"`
}

// Replicator announces local pattern writes and applies remote ones.
type Replicator struct {
	origin string
	bus    Bus
	dev    Device
	log    *slog.Logger

	// mu orders announcements: the last publish always carries the pattern
	// installed by the last local write.
	mu sync.Mutex
}

func New(bus Bus, dev Device, logger *slog.Logger) *Replicator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Replicator{
		origin: uuid.NewString(),
		bus:    bus,
		dev:    dev,
		log:    logger,
	}
}

// Origin identifies this process on the bus.
func (r *Replicator) Origin() string {
	return r.origin
}

// Announce publishes the current local pattern. Call it after every local
// write; concurrent callers publish in turn, each reading the pattern only
// once it holds the turn.
func (r *Replicator) Announce(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, err := r.dev.Pattern()
	if err != nil {
		return fmt.Errorf("announce pattern: %w", err)
	}
	b, err := json.Marshal(Update{Origin: r.origin, Pattern: p})
	if err != nil {
		return err
	}
	if err := r.bus.Publish(ctx, b); err != nil {
		return fmt.Errorf("announce pattern: %w", err)
	}
	return nil
}

// Start applies remote updates until ctx is done.
func (r *Replicator) Start(ctx context.Context) error {
	ch, err := r.bus.Subscribe(ctx)
	if err != nil {
		return err
	}
	r.log.Info("replicating pattern updates", "origin", r.origin)
	for {
		select {
		case <-ctx.Done():
			return nil
		case payload, ok := <-ch:
			if !ok {
				return nil
			}
			r.apply(payload)
		}
	}
}

func (r *Replicator) apply(payload []byte) {
	var u Update
	if err := json.Unmarshal(payload, &u); err != nil {
		r.log.Warn("failed to decode pattern update", "error", err)
		return
	}
	if u.Origin == r.origin {
		return
	}
	n, err := r.dev.Write(u.Pattern)
	if err != nil {
		r.log.Warn("failed to apply remote pattern", "origin", u.Origin, "error", err)
		return
	}
	r.log.Info("applied remote pattern", "origin", u.Origin, "size", n)
}

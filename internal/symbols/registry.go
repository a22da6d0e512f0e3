// Package symbols resolves the set of tracked ticker symbols from the
// dashboard's Redis registry.
package symbols

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/pulsewire/newsfuse/pkg/redis"
)

// Registry reads and manages the active-symbol set.
type Registry struct {
	client *redis.Client
	key    string
	logger *slog.Logger
}

// NewRegistry creates a Registry over the given Redis set key.
func NewRegistry(client *redis.Client, key string) *Registry {
	return &Registry{
		client: client,
		key:    key,
		logger: slog.Default().With("component", "symbol-registry"),
	}
}

// ListActive returns the tracked symbols in sorted order.
func (r *Registry) ListActive(ctx context.Context) ([]string, error) {
	members, err := r.client.SMembers(ctx, r.key)
	if err != nil {
		return nil, fmt.Errorf("listing active symbols: %w", err)
	}
	sort.Strings(members)
	return members, nil
}

// Add registers symbols for tracking.
func (r *Registry) Add(ctx context.Context, symbols ...string) error {
	if len(symbols) == 0 {
		return nil
	}
	if err := r.client.SAdd(ctx, r.key, symbols...); err != nil {
		return fmt.Errorf("adding symbols: %w", err)
	}
	r.logger.Info("symbols added", "symbols", symbols)
	return nil
}

// Remove stops tracking symbols.
func (r *Registry) Remove(ctx context.Context, symbols ...string) error {
	if len(symbols) == 0 {
		return nil
	}
	if err := r.client.SRem(ctx, r.key, symbols...); err != nil {
		return fmt.Errorf("removing symbols: %w", err)
	}
	r.logger.Info("symbols removed", "symbols", symbols)
	return nil
}

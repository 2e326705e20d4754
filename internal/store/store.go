// Package store is the durable Match Store. Lobby actors persist every
// committed mutation here before broadcasting it; a write failure means the
// mutation never happened as far as clients are concerned.
package store

import (
	"context"
	"errors"

	"github.com/fivestack-gg/match-coordinator/internal/engine"
)

var ErrNotFound = errors.New("match not found")

type Store interface {
	CreateMatch(ctx context.Context, m *engine.Match) error
	// SaveMatch upserts the match row, roster and pick history atomically.
	SaveMatch(ctx context.Context, m *engine.Match) error
	GetMatch(ctx context.Context, id string) (*engine.Match, error)
}

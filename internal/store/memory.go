package store

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/park285/boardcam/internal/domain"
)

// memoryArchive is used when no database is configured. Games are lost on
// exit.
type memoryArchive struct {
	mu sync.RWMutex

	nextID    int64
	games     []*domain.GameRecord
	bySession map[string]*domain.GameRecord
}

func NewMemoryArchive() Archive {
	return &memoryArchive{bySession: make(map[string]*domain.GameRecord)}
}

func (m *memoryArchive) InsertGame(ctx context.Context, game *domain.GameRecord) (int64, error) {
	if game == nil {
		return 0, ErrDuplicateGame
	}
	key := strings.TrimSpace(game.SessionUUID)

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.bySession[key]; exists {
		return 0, ErrDuplicateGame
	}
	m.nextID++
	copy := *game
	copy.ID = m.nextID
	m.games = append(m.games, &copy)
	m.bySession[key] = &copy
	return copy.ID, nil
}

func (m *memoryArchive) RecentGames(ctx context.Context, limit int) ([]*domain.GameRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	items := make([]*domain.GameRecord, 0, len(m.games))
	for _, g := range m.games {
		copy := *g
		items = append(items, &copy)
	}
	// newest first, ID breaks ties
	sort.Slice(items, func(i, j int) bool {
		if !items[i].EndedAt.Equal(items[j].EndedAt) {
			return items[i].EndedAt.After(items[j].EndedAt)
		}
		return items[i].ID > items[j].ID
	})
	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}
	return items, nil
}

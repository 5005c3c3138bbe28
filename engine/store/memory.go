package store

import (
	"context"
	"sort"
	"sync"

	"github.com/shopassist-ai/engine/engine/domain"
)

// Memory is an in-memory Store used in tests and single-process setups.
type Memory struct {
	mu       sync.RWMutex
	posts    map[string]map[string]domain.Post // username → post id → post
	profiles map[string]domain.Profile
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		posts:    make(map[string]map[string]domain.Post),
		profiles: make(map[string]domain.Profile),
	}
}

func (m *Memory) UpsertPost(_ context.Context, p domain.Post) error {
	if err := domain.ValidatePost(p); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	byID, ok := m.posts[p.Username]
	if !ok {
		byID = make(map[string]domain.Post)
		m.posts[p.Username] = byID
	}
	if existing, ok := byID[p.ID]; ok && existing.Analysis != nil {
		p.Analysis = existing.Analysis
	}
	byID[p.ID] = p
	return nil
}

func (m *Memory) SetAnalysis(_ context.Context, username, postID string, a domain.AIAnalysis) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	byID, ok := m.posts[username]
	if !ok {
		return domain.ErrNotFound
	}
	p, ok := byID[postID]
	if !ok {
		return domain.ErrNotFound
	}
	p.Analysis = &a
	byID[postID] = p
	return nil
}

func (m *Memory) GetPost(_ context.Context, username, postID string) (domain.Post, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	p, ok := m.posts[username][postID]
	if !ok {
		return domain.Post{}, domain.ErrNotFound
	}
	return p, nil
}

func (m *Memory) ListPosts(_ context.Context, username string) ([]domain.Post, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	byID := m.posts[username]
	out := make([]domain.Post, 0, len(byID))
	for _, p := range byID {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].TakenAt.Equal(out[j].TakenAt) {
			return out[i].TakenAt.After(out[j].TakenAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (m *Memory) UpsertProfile(_ context.Context, p domain.Profile) error {
	if err := domain.ValidateUsername(p.Username); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.profiles[p.Username] = p
	return nil
}

func (m *Memory) GetProfile(_ context.Context, username string) (domain.Profile, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	p, ok := m.profiles[username]
	if !ok {
		return domain.Profile{}, domain.ErrNotFound
	}
	return p, nil
}

func (m *Memory) ListProfiles(_ context.Context) ([]domain.Profile, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]domain.Profile, 0, len(m.profiles))
	for _, p := range m.profiles {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Username < out[j].Username })
	return out, nil
}

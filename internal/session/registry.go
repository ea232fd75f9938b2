package session

import (
	"context"
	"errors"
	"sync"
)

// ErrSessionExists is returned by [Registry.Insert] when the guild
// already has an active session.
var ErrSessionExists = errors.New("session: guild already has an active session")

// Registry maps guilds to their single active voice session. Lookups
// and mutations are explicit; nothing registers itself implicitly.
type Registry struct {
	mu      sync.Mutex
	byGuild map[string]*Session
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{byGuild: make(map[string]*Session)}
}

// Insert registers s for its guild. Fails with [ErrSessionExists] when
// the guild already has a session.
func (r *Registry) Insert(s *Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byGuild[s.GuildID()]; ok {
		return ErrSessionExists
	}
	r.byGuild[s.GuildID()] = s
	return nil
}

// Lookup returns the guild's active session, if any.
func (r *Registry) Lookup(guildID string) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.byGuild[guildID]
	return s, ok
}

// Remove deregisters and returns the guild's session. Removing an
// absent guild is a no-op.
func (r *Registry) Remove(guildID string) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.byGuild[guildID]
	if ok {
		delete(r.byGuild, guildID)
	}
	return s, ok
}

// Len returns the number of active sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.byGuild)
}

// CloseAll removes and closes every session, for shutdown.
func (r *Registry) CloseAll(ctx context.Context) {
	r.mu.Lock()
	sessions := make([]*Session, 0, len(r.byGuild))
	for _, s := range r.byGuild {
		sessions = append(sessions, s)
	}
	r.byGuild = make(map[string]*Session)
	r.mu.Unlock()

	for _, s := range sessions {
		s.Close(ctx)
	}
}

// Copyright 2025-2026 Rasmus Ahtava

package matrix

import (
	"context"
	"sync"

	"github.com/rs/zerolog"

	"github.com/ahtavarasmus/lightfriend-sub000/pkg/bridge"
)

// session pairs a client with the cancel function of its sync loop.
type session struct {
	client *Client
	cancel context.CancelFunc
}

// Registry is the per-user Matrix session registry. It implements
// bridge.SessionRegistry; Remove is idempotent and safe under concurrent
// teardown attempts.
type Registry struct {
	mu       sync.Mutex
	sessions map[int64]*session
	log      zerolog.Logger
}

// NewRegistry creates an empty session registry.
func NewRegistry(log zerolog.Logger) *Registry {
	return &Registry{
		sessions: make(map[int64]*session),
		log:      log.With().Str("component", "session_registry").Logger(),
	}
}

var _ bridge.SessionRegistry = (*Registry)(nil)

// Add registers a session, replacing and cancelling any previous one for
// the same user.
func (r *Registry) Add(userID int64, client *Client, cancel context.CancelFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if prev, ok := r.sessions[userID]; ok {
		prev.cancel()
		r.log.Info().Int64("user_id", userID).Msg("Replacing existing matrix session")
	}
	r.sessions[userID] = &session{client: client, cancel: cancel}
	r.log.Info().Int64("user_id", userID).Str("mxid", client.UserID().String()).Msg("Registered matrix session")
}

// Get implements bridge.SessionRegistry.
func (r *Registry) Get(userID int64) (bridge.MatrixSession, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	sess, ok := r.sessions[userID]
	if !ok {
		return nil, false
	}
	return sess.client, true
}

// Remove cancels the user's sync loop and drops the session. Removing an
// absent user is a no-op.
func (r *Registry) Remove(userID int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	sess, ok := r.sessions[userID]
	if !ok {
		return
	}
	sess.cancel()
	delete(r.sessions, userID)
	r.log.Info().Int64("user_id", userID).Msg("Removed matrix session")
}

// Count returns the number of registered sessions.
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

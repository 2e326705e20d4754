// Package session tracks at most one live socket per user. A REGISTER on a
// fresh socket invalidates whatever socket the user held before, which is
// what makes page refreshes safe: the old connection is torn down, the new
// one resyncs via REQUEST_MATCH_STATE.
package session

import (
	"sync"

	"go.uber.org/zap"
)

type Session struct {
	UserID   string
	SocketID string
	Username string
	// close tears down the underlying socket; invoked when a newer REGISTER
	// replaces this session.
	close func()
}

type Registry struct {
	mu     sync.Mutex
	byUser map[string]*Session
	log    *zap.SugaredLogger
}

func NewRegistry(log *zap.Logger) *Registry {
	return &Registry{
		byUser: make(map[string]*Session),
		log:    log.Sugar(),
	}
}

// Register binds a socket to a user identity, replacing and closing any
// previous live socket for the same user.
func (r *Registry) Register(userID, socketID, username string, closeFn func()) *Session {
	r.mu.Lock()
	old := r.byUser[userID]
	s := &Session{UserID: userID, SocketID: socketID, Username: username, close: closeFn}
	r.byUser[userID] = s
	r.mu.Unlock()

	if old != nil {
		r.log.Infow("replacing stale socket", "userId", userID, "oldSocket", old.SocketID)
		old.close()
	}
	return s
}

// Unregister removes the session, but only if the given socket is still the
// user's current one; a stale socket closing must not evict its replacement.
func (r *Registry) Unregister(userID, socketID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cur := r.byUser[userID]; cur != nil && cur.SocketID == socketID {
		delete(r.byUser, userID)
	}
}

func (r *Registry) Lookup(userID string) *Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.byUser[userID]
}

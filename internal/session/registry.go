package session

import (
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/devicehub-server/devicehub-server/internal/devicesvc"
)

// Registry is the process-wide map from account identity to its single
// live session. It is an explicit value owned and injected by the
// host, not a package-level singleton.
type Registry struct {
	cfg     Config
	factory devicesvc.Factory

	mu       sync.Mutex
	sessions map[string]*Session
	onCreate func(*Session)
}

// NewRegistry creates a registry producing sessions with the given
// timeouts, backed by clients from factory.
func NewRegistry(cfg Config, factory devicesvc.Factory) *Registry {
	return &Registry{
		cfg:      cfg.WithDefaults(),
		factory:  factory,
		sessions: make(map[string]*Session),
	}
}

// OnCreate registers a hook invoked once for every newly created
// session, before Acquire returns it. Used by the host to attach
// integrations.
func (r *Registry) OnCreate(fn func(*Session)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onCreate = fn
}

// Acquire returns the live session for an account id, creating it on
// first use. Check-and-create is atomic: concurrent callers for the
// same id always get the same instance and only one underlying client
// is ever initialized.
func (r *Registry) Acquire(accountID string, cfg devicesvc.Config) (*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if s, ok := r.sessions[accountID]; ok {
		return s, nil
	}

	cfg.AccountID = accountID
	client, err := r.factory(cfg)
	if err != nil {
		return nil, &ConfigError{Reason: err.Error()}
	}

	s := New(accountID, client, r.cfg)
	r.sessions[accountID] = s
	log.Info().Str("accountID", accountID).Msg("Session created")

	if r.onCreate != nil {
		r.onCreate(s)
	}
	return s, nil
}

// Get returns the live session for an account id without creating one
func (r *Registry) Get(accountID string) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[accountID]
	return s, ok
}

// List snapshots the live sessions
func (r *Registry) List() []*Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s)
	}
	return out
}

// Release closes and removes the session for an account id.
// Idempotent: releasing an unknown id is a no-op.
func (r *Registry) Release(accountID string) {
	r.mu.Lock()
	s, ok := r.sessions[accountID]
	delete(r.sessions, accountID)
	r.mu.Unlock()

	if !ok {
		return
	}
	if err := s.Close(); err != nil {
		log.Warn().Err(err).Str("accountID", accountID).Msg("Session close failed")
	}
	log.Info().Str("accountID", accountID).Msg("Session released")
}

// Close releases every live session
func (r *Registry) Close() {
	r.mu.Lock()
	sessions := r.sessions
	r.sessions = make(map[string]*Session)
	r.mu.Unlock()

	for id, s := range sessions {
		if err := s.Close(); err != nil {
			log.Warn().Err(err).Str("accountID", id).Msg("Session close failed")
		}
	}
}

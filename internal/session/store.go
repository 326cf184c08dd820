package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/oauth2"

	"github.com/teemow/calagent/internal/instrumentation"
	"github.com/teemow/calagent/internal/logging"
)

const (
	// DefaultTTL is how long an idle session is kept.
	DefaultTTL = 24 * time.Hour

	// DefaultMaxSessions bounds the number of live sessions.
	DefaultMaxSessions = 10000

	// DefaultCleanupInterval is how often expired sessions are swept.
	DefaultCleanupInterval = 10 * time.Minute
)

var (
	// ErrNotFound is returned for unknown or expired session ids.
	ErrNotFound = errors.New("session not found")

	// ErrStoreFull is returned when MaxSessions live sessions already exist.
	ErrStoreFull = errors.New("too many active sessions")
)

// Session is a snapshot of a session's identity.
type Session struct {
	ID        string
	Email     string
	Token     *oauth2.Token
	CreatedAt time.Time
}

// Options configures a Store.
type Options struct {
	TTL             time.Duration
	MaxSessions     int
	CleanupInterval time.Duration
	Logger          *slog.Logger
	Metrics         *instrumentation.Metrics
}

type entry struct {
	session    Session
	state      State
	lastAccess time.Time

	// lock is held for the duration of a turn; a channel so waiters can
	// give up when their context ends.
	lock chan struct{}
}

// Store keeps sessions in memory and serializes turns per session.
type Store struct {
	sessions    map[string]*entry
	mu          sync.RWMutex
	ttl         time.Duration
	maxSessions int
	logger      *slog.Logger
	metrics     *instrumentation.Metrics

	cleanupTicker *time.Ticker
	cleanupDone   chan struct{}
	stopOnce      sync.Once

	now func() time.Time
}

// NewStore creates a store and starts its expiry sweep. Call Stop to end it.
func NewStore(opts Options) *Store {
	if opts.TTL <= 0 {
		opts.TTL = DefaultTTL
	}
	if opts.MaxSessions <= 0 {
		opts.MaxSessions = DefaultMaxSessions
	}
	if opts.CleanupInterval <= 0 {
		opts.CleanupInterval = DefaultCleanupInterval
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	s := &Store{
		sessions:      make(map[string]*entry),
		ttl:           opts.TTL,
		maxSessions:   opts.MaxSessions,
		logger:        opts.Logger,
		metrics:       opts.Metrics,
		cleanupTicker: time.NewTicker(opts.CleanupInterval),
		cleanupDone:   make(chan struct{}),
		now:           time.Now,
	}

	go s.cleanupExpiredSessions()

	return s
}

// Create starts a new session with a random id.
func (s *Store) Create(email string, token *oauth2.Token) (Session, error) {
	return s.insert(uuid.NewString(), email, token)
}

// GetOrCreate returns the session with the given id, creating an empty one
// when it does not exist. Hosts that own their session ids (an MCP client
// session, a CLI process) use this instead of Create.
func (s *Store) GetOrCreate(id, email string) (Session, error) {
	if id == "" {
		return Session{}, fmt.Errorf("session id cannot be empty")
	}
	if sess, err := s.Get(id); err == nil {
		return sess, nil
	}
	return s.insert(id, email, nil)
}

func (s *Store) insert(id, email string, token *oauth2.Token) (Session, error) {
	now := s.now()

	s.mu.Lock()
	if e, ok := s.sessions[id]; ok && !s.expired(e, now) {
		s.mu.Unlock()
		return e.session, nil
	}
	if len(s.sessions) >= s.maxSessions {
		s.removeExpiredLocked(now)
	}
	if len(s.sessions) >= s.maxSessions {
		s.mu.Unlock()
		return Session{}, ErrStoreFull
	}

	_, replaced := s.sessions[id]
	sess := Session{ID: id, Email: email, Token: token, CreatedAt: now}
	s.sessions[id] = &entry{
		session:    sess,
		lastAccess: now,
		lock:       make(chan struct{}, 1),
	}
	s.mu.Unlock()

	if !replaced {
		s.metrics.IncrementActiveSessions(context.Background())
	}
	s.logger.Debug("Session created", logging.Session(id), logging.UserHash(email))
	return sess, nil
}

// Get returns the session and refreshes its idle timer.
func (s *Store) Get(id string) (Session, error) {
	e, err := s.lookup(id)
	if err != nil {
		return Session{}, err
	}
	return e.session, nil
}

// State returns a copy of the session's current state without locking it.
func (s *Store) State(id string) (State, error) {
	e, err := s.lookup(id)
	if err != nil {
		return State{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return e.state.Clone(), nil
}

func (s *Store) lookup(id string) (*entry, error) {
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.sessions[id]
	if !ok || s.expired(e, now) {
		return nil, ErrNotFound
	}
	e.lastAccess = now
	return e, nil
}

// Acquire takes the session's turn lock, waiting until the previous turn
// releases it or ctx ends. The caller must call Release on the lease.
func (s *Store) Acquire(ctx context.Context, id string) (*Lease, error) {
	e, err := s.lookup(id)
	if err != nil {
		return nil, err
	}

	select {
	case e.lock <- struct{}{}:
	case <-ctx.Done():
		return nil, fmt.Errorf("waiting for session %s: %w", logging.ShortID(id), ctx.Err())
	}

	s.mu.RLock()
	state := e.state.Clone()
	s.mu.RUnlock()

	return &Lease{store: s, entry: e, Session: e.session, State: state}, nil
}

// Delete removes the session. Deleting an unknown id is a no-op.
func (s *Store) Delete(id string) {
	s.mu.Lock()
	_, ok := s.sessions[id]
	delete(s.sessions, id)
	s.mu.Unlock()

	if ok {
		s.metrics.DecrementActiveSessions(context.Background())
		s.logger.Debug("Session deleted", logging.Session(id))
	}
}

// TTL returns how long an idle session lives.
func (s *Store) TTL() time.Duration {
	return s.ttl
}

// Len returns the number of stored sessions, expired ones included until
// the next sweep.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

func (s *Store) expired(e *entry, now time.Time) bool {
	return now.Sub(e.lastAccess) > s.ttl
}

func (s *Store) removeExpiredLocked(now time.Time) int {
	count := 0
	for id, e := range s.sessions {
		if s.expired(e, now) {
			delete(s.sessions, id)
			count++
		}
	}
	for i := 0; i < count; i++ {
		s.metrics.DecrementActiveSessions(context.Background())
	}
	return count
}

// cleanupExpiredSessions periodically removes expired sessions
func (s *Store) cleanupExpiredSessions() {
	for {
		select {
		case <-s.cleanupTicker.C:
			s.sweep()
		case <-s.cleanupDone:
			return
		}
	}
}

func (s *Store) sweep() int {
	s.mu.Lock()
	count := s.removeExpiredLocked(s.now())
	s.mu.Unlock()

	if count > 0 {
		s.logger.Info("Cleaned up expired sessions", "count", count)
	}
	return count
}

// Stop stops the cleanup goroutine.
func (s *Store) Stop() {
	s.stopOnce.Do(func() {
		s.cleanupTicker.Stop()
		close(s.cleanupDone)
	})
}

// Lease is exclusive access to one session for the duration of a turn.
type Lease struct {
	Session Session
	// State is a private copy; changes take effect only through Commit.
	State State

	store    *Store
	entry    *entry
	released bool
}

// Commit replaces the session's state. It must be called before Release.
func (l *Lease) Commit(state State) {
	if l.released {
		return
	}
	l.store.mu.Lock()
	l.entry.state = state.Clone()
	l.store.mu.Unlock()
	l.State = state
}

// Release gives up the turn lock. Calling it twice is safe.
func (l *Lease) Release() {
	if l.released {
		return
	}
	l.released = true
	<-l.entry.lock
}

// Package session holds the client side of the authentication contract:
// a single durable session slot, an observer surface for auth-state
// changes, and the federated callback handling that feeds both.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/owlby/owlby-backend/client"
)

// ErrNoSession is returned by operations that need an active session.
var ErrNoSession = errors.New("session: not signed in")

// ErrSessionNotSaved reports that the in-memory slot was updated but the
// durable copy could not be written. The session is still usable for this
// process; it just will not survive a restart.
var ErrSessionNotSaved = errors.New("session: persistence failed")

// Gateway is the slice of the API client the store drives.
type Gateway interface {
	SignIn(ctx context.Context, email, password string) (*client.Session, error)
	Refresh(ctx context.Context, refreshToken string) (*client.Session, error)
	SignOut(ctx context.Context, refreshToken string) error
}

// Listener receives the new session on every create, refresh, or clear.
// A nil session means signed out.
type Listener func(*client.Session)

type notification struct {
	listeners []Listener
	session   *client.Session
}

type Config struct {
	// BaseURL builds a default API client when Gateway is nil.
	BaseURL     string
	Gateway     Gateway
	Persistence Persistence
}

// Store is the single source of truth for the client's auth state. One
// mutex guards the slot; concurrent mutators resolve last-writer-wins.
// Listener delivery runs on a dispatch goroutine so a slow or panicking
// listener never delays sign-in or sign-out.
type Store struct {
	gateway Gateway
	persist Persistence

	mu        sync.Mutex
	current   *client.Session
	listeners []listenerEntry
	nextSubID int64

	notifyCh chan notification
	done     chan struct{}
}

type listenerEntry struct {
	id int64
	fn Listener
}

// New loads the persisted session (if any) before returning, so Current
// reflects the durable state from the first call.
func New(cfg Config) (*Store, error) {
	s := &Store{
		persist:  cfg.Persistence,
		notifyCh: make(chan notification, 32),
		done:     make(chan struct{}),
	}
	if s.persist == nil {
		s.persist = NewMemoryPersistence()
	}
	s.gateway = cfg.Gateway
	if s.gateway == nil {
		s.gateway = client.New(cfg.BaseURL, client.WithTokenSource(s))
	}

	loaded, err := s.persist.Load()
	if err != nil {
		return nil, err
	}
	s.current = loaded

	go s.dispatchLoop()
	return s, nil
}

// Close stops the dispatch goroutine. Pending notifications are dropped.
func (s *Store) Close() {
	close(s.done)
}

// Current returns the last known session without touching the network.
func (s *Store) Current() *client.Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil {
		return nil
	}
	copied := *s.current
	return &copied
}

// AccessToken implements client.TokenSource.
func (s *Store) AccessToken() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil {
		return ""
	}
	return s.current.AccessToken
}

// Subscribe registers a listener and returns its unsubscribe func.
// Listeners fire in registration order.
func (s *Store) Subscribe(fn Listener) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextSubID++
	id := s.nextSubID
	s.listeners = append(s.listeners, listenerEntry{id: id, fn: fn})
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		for i, entry := range s.listeners {
			if entry.id == id {
				s.listeners = append(s.listeners[:i], s.listeners[i+1:]...)
				return
			}
		}
	}
}

// SignIn exchanges credentials for a session. On failure the prior
// session, if any, is left untouched. A non-nil session with an
// ErrSessionNotSaved error means sign-in succeeded but the durable copy
// could not be written.
func (s *Store) SignIn(ctx context.Context, email, password string) (*client.Session, error) {
	sess, err := s.gateway.SignIn(ctx, email, password)
	if err != nil {
		return nil, err
	}
	return sess, s.setSession(sess)
}

// Refresh rotates the current token pair.
func (s *Store) Refresh(ctx context.Context) (*client.Session, error) {
	cur := s.Current()
	if cur == nil || cur.RefreshToken == "" {
		return nil, ErrNoSession
	}
	sess, err := s.gateway.Refresh(ctx, cur.RefreshToken)
	if err != nil {
		return nil, err
	}
	return sess, s.setSession(sess)
}

// SignOut revokes the session upstream best-effort, then clears the local
// slot unconditionally so a failed revocation never strands the client in
// a logged-in-but-broken state. Upstream and persistence failures are
// both reported, joined.
func (s *Store) SignOut(ctx context.Context) error {
	cur := s.Current()
	var revokeErr error
	if cur != nil {
		revokeErr = s.gateway.SignOut(ctx, cur.RefreshToken)
	}
	return errors.Join(revokeErr, s.clearSession())
}

// HandleAuthCallback completes a federated login from the provider's
// redirect URL. The embedded refresh token is rotated through the gateway
// so the resulting session carries the resolved user and a fresh pair.
func (s *Store) HandleAuthCallback(ctx context.Context, rawURL string) (*client.Session, error) {
	tokens, err := ParseCallbackURL(rawURL)
	if err != nil {
		return nil, err
	}
	sess, err := s.gateway.Refresh(ctx, tokens.RefreshToken)
	if err != nil {
		return nil, err
	}
	return sess, s.setSession(sess)
}

func (s *Store) setSession(sess *client.Session) error {
	s.mu.Lock()
	copied := *sess
	s.current = &copied
	saveErr := s.persist.Save(&copied)
	listeners := s.snapshotListeners()
	s.mu.Unlock()
	s.broadcast(listeners, &copied)
	if saveErr != nil {
		return fmt.Errorf("%w: %v", ErrSessionNotSaved, saveErr)
	}
	return nil
}

func (s *Store) clearSession() error {
	s.mu.Lock()
	s.current = nil
	clearErr := s.persist.Clear()
	listeners := s.snapshotListeners()
	s.mu.Unlock()
	s.broadcast(listeners, nil)
	if clearErr != nil {
		return fmt.Errorf("%w: %v", ErrSessionNotSaved, clearErr)
	}
	return nil
}

func (s *Store) snapshotListeners() []Listener {
	fns := make([]Listener, len(s.listeners))
	for i, entry := range s.listeners {
		fns[i] = entry.fn
	}
	return fns
}

func (s *Store) broadcast(listeners []Listener, sess *client.Session) {
	if len(listeners) == 0 {
		return
	}
	select {
	case s.notifyCh <- notification{listeners: listeners, session: sess}:
	case <-s.done:
	}
}

func (s *Store) dispatchLoop() {
	for {
		select {
		case n := <-s.notifyCh:
			for _, fn := range n.listeners {
				s.deliver(fn, n.session)
			}
		case <-s.done:
			return
		}
	}
}

// deliver isolates a panicking listener so later listeners still fire.
func (s *Store) deliver(fn Listener, sess *client.Session) {
	defer func() { _ = recover() }()
	fn(sess)
}

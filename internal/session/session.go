package session

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// State is where a session is in obtaining its feedback credential.
type State int

const (
	// AwaitingCredential: the token exchange is in flight.
	AwaitingCredential State = iota
	// Ready: the exchange succeeded and the credential is set.
	Ready
	// ExchangeFailed: the exchange failed; feedback keeps any credential carried over from an earlier join.
	ExchangeFailed
)

func (s State) String() string {
	switch s {
	case AwaitingCredential:
		return "awaiting_credential"
	case Ready:
		return "ready"
	case ExchangeFailed:
		return "exchange_failed"
	default:
		return "unknown"
	}
}

// Session is the feedback context of one joined conference. Each join creates a
// new Session; the credential is only ever read through it.
type Session struct {
	ID string

	mu         sync.RWMutex
	credential string
	state      State
	exchange   *Completion
}

// New returns a session awaiting its credential.
func New() *Session {
	return &Session{
		ID:       uuid.NewString(),
		state:    AwaitingCredential,
		exchange: NewCompletion(),
	}
}

// NewFrom returns a session awaiting its credential that starts out holding prev's
// credential, if any. A failed exchange on the new session keeps it.
func NewFrom(prev *Session) *Session {
	s := New()
	if cred, ok := prev.Credential(); ok {
		s.credential = cred
	}
	return s
}

// Credential returns the feedback credential and whether it is set.
func (s *Session) Credential() (string, bool) {
	if s == nil {
		return "", false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.credential, s.credential != ""
}

// Adopt sets credential unless the session's own exchange has already succeeded.
// It reports whether the credential was taken.
func (s *Session) Adopt(credential string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == Ready || credential == "" {
		return false
	}
	s.credential = credential
	return true
}

// State returns the current state.
func (s *Session) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// CompleteExchange records the outcome of the token exchange and resolves Exchange.
// A failed exchange leaves the credential as it was.
func (s *Session) CompleteExchange(credential string, err error) {
	s.mu.Lock()
	if err != nil {
		s.state = ExchangeFailed
	} else {
		s.credential = credential
		s.state = Ready
	}
	s.mu.Unlock()
	s.exchange.Complete(credential, err)
}

// Exchange resolves when the token exchange finishes.
func (s *Session) Exchange() *Completion {
	return s.exchange
}

// Completion is the observable outcome of a background request.
type Completion struct {
	once  sync.Once
	done  chan struct{}
	value string
	err   error
}

// NewCompletion returns an unresolved Completion.
func NewCompletion() *Completion {
	return &Completion{done: make(chan struct{})}
}

// Complete resolves c. Only the first call has an effect.
func (c *Completion) Complete(value string, err error) {
	c.once.Do(func() {
		c.value, c.err = value, err
		close(c.done)
	})
}

// Done is closed once c is resolved.
func (c *Completion) Done() <-chan struct{} {
	return c.done
}

// Wait blocks until c resolves or ctx ends.
func (c *Completion) Wait(ctx context.Context) (string, error) {
	select {
	case <-c.done:
		return c.value, c.err
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

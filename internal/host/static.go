package host

import (
	"errors"
	"sync"
)

// ErrOSUnknown is returned by StaticBrowser.OS when no operating system was configured.
var ErrOSUnknown = errors.New("host: operating system unknown")

// StaticHost is a Host backed by fixed values. cmd/bridge uses it to replay
// recorded events; tests use it in place of a live client.
type StaticHost struct {
	mu         sync.Mutex
	state      *State
	credential string
	eligible   bool
	enableErr  error
}

// NewStaticHost returns a host that always reports state and credential.
func NewStaticHost(state *State, credential string) *StaticHost {
	return &StaticHost{state: state, credential: credential}
}

func (h *StaticHost) State() *State {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

// SetState replaces the state returned by State.
func (h *StaticHost) SetState(s *State) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.state = s
}

func (h *StaticHost) IdentityCredential() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.credential
}

// SetIdentityCredential replaces the credential returned by IdentityCredential.
func (h *StaticHost) SetIdentityCredential(c string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.credential = c
}

func (h *StaticHost) EnableFeedbackOnLeave() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.enableErr != nil {
		return h.enableErr
	}
	h.eligible = true
	return nil
}

// FailEnableFeedback makes EnableFeedbackOnLeave return err.
func (h *StaticHost) FailEnableFeedback(err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.enableErr = err
}

// FeedbackEnabled reports whether EnableFeedbackOnLeave succeeded.
func (h *StaticHost) FeedbackEnabled() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.eligible
}

// StaticBrowser is a Browser with fixed values. A nil OSInfo makes OS fail.
type StaticBrowser struct {
	BrowserName    string
	BrowserVersion string
	OSInfo         *OSInfo
}

func (b StaticBrowser) Name() string    { return b.BrowserName }
func (b StaticBrowser) Version() string { return b.BrowserVersion }

func (b StaticBrowser) OS() (*OSInfo, error) {
	if b.OSInfo == nil {
		return nil, ErrOSUnknown
	}
	return b.OSInfo, nil
}

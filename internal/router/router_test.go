package router

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/nordeck/feedback-application/internal/feedback"
	"github.com/nordeck/feedback-application/internal/host"
	"github.com/nordeck/feedback-application/internal/metrics"
	"github.com/nordeck/feedback-application/internal/session"
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

func identity(t *testing.T, sessionToken string) string {
	t.Helper()
	claims := jwt.MapClaims{"context": map[string]any{"matrix": map[string]any{"token": sessionToken}}}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("conference-secret"))
	if err != nil {
		t.Fatalf("SignedString: %v", err)
	}
	return signed
}

func chromeHost(t *testing.T) *host.StaticHost {
	return host.NewStaticHost(&host.State{
		Browser: host.StaticBrowser{BrowserName: "chrome", BrowserVersion: "120"},
	}, identity(t, "S"))
}

// collectorStub records what the bridge sends to /token and /feedback.
type collectorStub struct {
	mu          sync.Mutex
	tokenAuth   []string
	submitAuth  []string
	submissions []feedback.Payload
	tokenStatus int
	credential  string
}

func (c *collectorStub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch r.URL.Path {
	case feedback.TokenPath:
		c.tokenAuth = append(c.tokenAuth, r.Header.Get("Authorization"))
		if c.tokenStatus != 0 {
			w.WriteHeader(c.tokenStatus)
			return
		}
		w.Write([]byte(c.credential))
	case feedback.FeedbackPath:
		c.submitAuth = append(c.submitAuth, r.Header.Get("Authorization"))
		var p feedback.Payload
		if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		c.submissions = append(c.submissions, p)
		w.Write([]byte("ok"))
	default:
		http.NotFound(w, r)
	}
}

func wait(t *testing.T, c *session.Completion) (string, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	v, err := c.Wait(ctx)
	if errors.Is(err, context.DeadlineExceeded) {
		t.Fatal("completion did not resolve")
	}
	return v, err
}

func TestRouter_JoinThenFeedback(t *testing.T) {
	stub := &collectorStub{credential: "tok"}
	server := httptest.NewServer(stub)
	defer server.Close()

	h := chromeHost(t)
	client := feedback.NewClient(server.URL, time.Second)
	r := New(h, client, client, Options{Metrics: []metrics.ID{metrics.BrowserName}, Logger: discard})

	if err := r.SendEvent(context.Background(), host.Event{Action: ActionStageReached, ActionSubject: SubjectMUCJoined}); err != nil {
		t.Fatalf("join: %v", err)
	}
	if !h.FeedbackEnabled() {
		t.Error("feedback on leave should be enabled")
	}
	sess := r.Current()
	if sess == nil {
		t.Fatal("session should be set after join")
	}
	if cred, err := wait(t, sess.Exchange()); err != nil || cred != "tok" {
		t.Fatalf("exchange = %q, %v", cred, err)
	}

	done := r.OnFeedback(context.Background(), &host.FeedbackAttributes{Rating: 4, Comment: "ok"})
	if _, err := wait(t, done); err != nil {
		t.Fatalf("submit: %v", err)
	}

	stub.mu.Lock()
	defer stub.mu.Unlock()
	if len(stub.tokenAuth) != 1 || stub.tokenAuth[0] != "Bearer S" {
		t.Errorf("token requests = %v, want [Bearer S]", stub.tokenAuth)
	}
	if len(stub.submissions) != 1 {
		t.Fatalf("submissions = %d, want 1", len(stub.submissions))
	}
	if stub.submitAuth[0] != "Bearer tok" {
		t.Errorf("submit Authorization = %q, want Bearer tok", stub.submitAuth[0])
	}
	p := stub.submissions[0]
	if p.Rating != 4 || p.RatingComment != "ok" {
		t.Errorf("payload = %+v", p)
	}
	if len(p.Metadata) != 1 || p.Metadata[metrics.BrowserName] != "chrome" {
		t.Errorf("metadata = %v, want {browserName: chrome}", p.Metadata)
	}
}

// blockingExchanger holds every exchange until release is closed.
type blockingExchanger struct {
	release chan struct{}
	calls   chan string
}

func (b *blockingExchanger) Exchange(ctx context.Context, token string) (string, error) {
	b.calls <- token
	select {
	case <-b.release:
		return "late", nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

type recordingSubmitter struct {
	mu    sync.Mutex
	creds []string
	bags  []metrics.Bag
	err   error
}

func (s *recordingSubmitter) Submit(_ context.Context, _ int, _ string, bag metrics.Bag, credential string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.creds = append(s.creds, credential)
	s.bags = append(s.bags, bag)
	if s.err != nil {
		return "", s.err
	}
	return "ok", nil
}

func TestRouter_FeedbackBeforeExchangeResolves(t *testing.T) {
	ex := &blockingExchanger{release: make(chan struct{}), calls: make(chan string, 1)}
	defer close(ex.release)
	sub := &recordingSubmitter{}
	r := New(chromeHost(t), ex, sub, Options{Logger: discard})

	sess, err := r.OnJoin(context.Background())
	if err != nil {
		t.Fatalf("OnJoin: %v", err)
	}
	<-ex.calls

	if _, err := wait(t, r.OnFeedback(context.Background(), &host.FeedbackAttributes{Rating: 2})); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if sess.State() != session.AwaitingCredential {
		t.Errorf("State = %v, want awaiting_credential", sess.State())
	}
	sub.mu.Lock()
	defer sub.mu.Unlock()
	if len(sub.creds) != 1 || sub.creds[0] != "" {
		t.Errorf("credentials = %q, want one empty credential", sub.creds)
	}
}

func TestRouter_FeedbackWithoutJoin(t *testing.T) {
	sub := &recordingSubmitter{}
	r := New(chromeHost(t), &blockingExchanger{}, sub, Options{Logger: discard, Metrics: []metrics.ID{}})

	if _, err := wait(t, r.OnFeedback(context.Background(), &host.FeedbackAttributes{Rating: 5, Comment: "x"})); err != nil {
		t.Fatalf("submit: %v", err)
	}
	sub.mu.Lock()
	defer sub.mu.Unlock()
	if sub.creds[0] != "" {
		t.Errorf("credential = %q, want empty", sub.creds[0])
	}
	if len(sub.bags[0]) != 0 {
		t.Errorf("bag = %v, want empty", sub.bags[0])
	}
}

func TestRouter_ExchangeRejectedLeavesCredentialAbsent(t *testing.T) {
	stub := &collectorStub{tokenStatus: http.StatusUnauthorized}
	server := httptest.NewServer(stub)
	defer server.Close()

	client := feedback.NewClient(server.URL, time.Second)
	r := New(chromeHost(t), client, client, Options{Logger: discard})

	sess, err := r.OnJoin(context.Background())
	if err != nil {
		t.Fatalf("OnJoin: %v", err)
	}
	_, err = wait(t, sess.Exchange())
	var be *feedback.BackendError
	if !errors.As(err, &be) || be.Status != http.StatusUnauthorized {
		t.Fatalf("exchange err = %v, want BackendError 401", err)
	}
	if _, ok := sess.Credential(); ok {
		t.Error("credential should stay absent after 401")
	}
	if sess.State() != session.ExchangeFailed {
		t.Errorf("State = %v", sess.State())
	}
}

// captureHandler keeps every record logged through it or its derived handlers.
type captureHandler struct {
	mu      *sync.Mutex
	records *[]slog.Record
	attrs   []slog.Attr
}

func newCaptureLogger() (*slog.Logger, *captureHandler) {
	h := &captureHandler{mu: &sync.Mutex{}, records: &[]slog.Record{}}
	return slog.New(h), h
}

func (h *captureHandler) Enabled(context.Context, slog.Level) bool { return true }

func (h *captureHandler) Handle(_ context.Context, r slog.Record) error {
	r = r.Clone()
	r.AddAttrs(h.attrs...)
	h.mu.Lock()
	defer h.mu.Unlock()
	*h.records = append(*h.records, r)
	return nil
}

func (h *captureHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	next := *h
	next.attrs = append(append([]slog.Attr{}, h.attrs...), attrs...)
	return &next
}

func (h *captureHandler) WithGroup(string) slog.Handler { return h }

// errorOf returns the "error" attribute of the first record with message msg.
func (h *captureHandler) errorOf(msg string) (error, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, r := range *h.records {
		if r.Message != msg {
			continue
		}
		var found error
		r.Attrs(func(a slog.Attr) bool {
			if a.Key == "error" {
				found, _ = a.Value.Any().(error)
				return false
			}
			return true
		})
		return found, true
	}
	return nil, false
}

func TestRouter_ExchangeRejectedLogsBackendError(t *testing.T) {
	stub := &collectorStub{tokenStatus: http.StatusUnauthorized}
	server := httptest.NewServer(stub)
	defer server.Close()

	logger, logs := newCaptureLogger()
	client := feedback.NewClient(server.URL, time.Second)
	r := New(chromeHost(t), client, client, Options{Logger: logger})

	sess, err := r.OnJoin(context.Background())
	if err != nil {
		t.Fatalf("OnJoin: %v", err)
	}
	wait(t, sess.Exchange())

	logged, ok := logs.errorOf("feedback: token exchange failed")
	if !ok {
		t.Fatal("exchange failure was not logged")
	}
	var be *feedback.BackendError
	if !errors.As(logged, &be) || be.Status != http.StatusUnauthorized {
		t.Errorf("logged error = %v, want BackendError 401", logged)
	}
}

func TestRouter_RejoinRejectedKeepsPreviousCredential(t *testing.T) {
	stub := &collectorStub{credential: "A"}
	server := httptest.NewServer(stub)
	defer server.Close()

	h := chromeHost(t)
	logger, logs := newCaptureLogger()
	client := feedback.NewClient(server.URL, time.Second)
	r := New(h, client, client, Options{Logger: logger, Metrics: []metrics.ID{}})

	first, err := r.OnJoin(context.Background())
	if err != nil {
		t.Fatalf("first join: %v", err)
	}
	if cred, err := wait(t, first.Exchange()); err != nil || cred != "A" {
		t.Fatalf("first exchange = %q, %v", cred, err)
	}

	stub.mu.Lock()
	stub.tokenStatus = http.StatusUnauthorized
	stub.mu.Unlock()
	h.SetIdentityCredential(identity(t, "expired"))

	second, err := r.OnJoin(context.Background())
	if err != nil {
		t.Fatalf("second join: %v", err)
	}
	if _, err := wait(t, second.Exchange()); err == nil {
		t.Fatal("second exchange should fail")
	}
	if second.State() != session.ExchangeFailed {
		t.Errorf("State = %v, want exchange_failed", second.State())
	}
	if cred, ok := second.Credential(); !ok || cred != "A" {
		t.Errorf("Credential = %q, %v, want A", cred, ok)
	}
	if _, ok := logs.errorOf("feedback: token exchange failed"); !ok {
		t.Error("rejected rejoin was not logged")
	}

	if _, err := wait(t, r.OnFeedback(context.Background(), &host.FeedbackAttributes{Rating: 3})); err != nil {
		t.Fatalf("submit: %v", err)
	}
	stub.mu.Lock()
	defer stub.mu.Unlock()
	if len(stub.submitAuth) != 1 || stub.submitAuth[0] != "Bearer A" {
		t.Errorf("submit Authorization = %v, want [Bearer A]", stub.submitAuth)
	}
}

// tokenExchanger answers per session token: a held token waits for release.
type tokenExchanger struct {
	release chan struct{}
	held    string
	results map[string]string
}

func (e *tokenExchanger) Exchange(ctx context.Context, token string) (string, error) {
	if token == e.held {
		select {
		case <-e.release:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	if cred, ok := e.results[token]; ok {
		return cred, nil
	}
	return "", &feedback.BackendError{Op: "exchange token", Status: http.StatusUnauthorized}
}

func TestRouter_LateExchangeReachesCurrentSession(t *testing.T) {
	ex := &tokenExchanger{release: make(chan struct{}), held: "S", results: map[string]string{"S": "late"}}
	h := chromeHost(t)
	r := New(h, ex, &recordingSubmitter{}, Options{Logger: discard})

	if _, err := r.OnJoin(context.Background()); err != nil {
		t.Fatalf("first join: %v", err)
	}
	h.SetIdentityCredential(identity(t, "S2"))
	second, err := r.OnJoin(context.Background())
	if err != nil {
		t.Fatalf("second join: %v", err)
	}
	if _, err := wait(t, second.Exchange()); err == nil {
		t.Fatal("second exchange should fail")
	}

	close(ex.release)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := r.Drain(ctx); err != nil {
		t.Fatalf("Drain: %v", err)
	}
	if cred, ok := r.Current().Credential(); !ok || cred != "late" {
		t.Errorf("current Credential = %q, %v, want late", cred, ok)
	}
}

func TestRouter_MalformedIdentityCredential(t *testing.T) {
	h := host.NewStaticHost(&host.State{}, "not-a-token")
	r := New(h, &blockingExchanger{}, &recordingSubmitter{}, Options{Logger: discard})

	err := r.SendEvent(context.Background(), host.Event{Action: ActionStageReached, ActionSubject: SubjectMUCJoined})
	var de *session.DecodeError
	if !errors.As(err, &de) {
		t.Fatalf("err = %T %v, want *session.DecodeError", err, err)
	}
	if r.Current() != nil {
		t.Error("no session should be created on decode failure")
	}
	if !h.FeedbackEnabled() {
		t.Error("feedback on leave is enabled before the credential is decoded")
	}
}

func TestRouter_EnableFeedbackFailureDoesNotBlockJoin(t *testing.T) {
	ex := &blockingExchanger{release: make(chan struct{}), calls: make(chan string, 1)}
	defer close(ex.release)
	h := chromeHost(t)
	h.FailEnableFeedback(errors.New("dialog unavailable"))
	r := New(h, ex, &recordingSubmitter{}, Options{Logger: discard})

	if _, err := r.OnJoin(context.Background()); err != nil {
		t.Fatalf("OnJoin: %v", err)
	}
	if got := <-ex.calls; got != "S" {
		t.Errorf("exchanged token = %q, want S", got)
	}
}

func TestRouter_SecondJoinReplacesSession(t *testing.T) {
	stub := &collectorStub{credential: "c"}
	server := httptest.NewServer(stub)
	defer server.Close()

	h := chromeHost(t)
	client := feedback.NewClient(server.URL, time.Second)
	r := New(h, client, client, Options{Logger: discard})

	first, err := r.OnJoin(context.Background())
	if err != nil {
		t.Fatalf("first join: %v", err)
	}
	wait(t, first.Exchange())

	h.SetIdentityCredential(identity(t, "S2"))
	second, err := r.OnJoin(context.Background())
	if err != nil {
		t.Fatalf("second join: %v", err)
	}
	wait(t, second.Exchange())

	if r.Current() != second || first.ID == second.ID {
		t.Error("latest join should own the current session")
	}
	stub.mu.Lock()
	defer stub.mu.Unlock()
	if len(stub.tokenAuth) != 2 || stub.tokenAuth[1] != "Bearer S2" {
		t.Errorf("token requests = %v", stub.tokenAuth)
	}
}

func TestRouter_SubmitFailureResolvesCompletion(t *testing.T) {
	boom := &feedback.TransportError{Op: "submit feedback", Err: errors.New("connection refused")}
	sub := &recordingSubmitter{err: boom}
	r := New(chromeHost(t), &blockingExchanger{}, sub, Options{Logger: discard})

	_, err := wait(t, r.OnFeedback(context.Background(), &host.FeedbackAttributes{Rating: 1}))
	if !errors.Is(err, boom) {
		t.Errorf("err = %v, want transport error", err)
	}
}

func TestRouter_IgnoresOtherEvents(t *testing.T) {
	sub := &recordingSubmitter{}
	h := chromeHost(t)
	r := New(h, &blockingExchanger{}, sub, Options{Logger: discard})

	events := []host.Event{
		{Action: ActionStageReached, ActionSubject: "conference_muc.left"},
		{Action: "page.load", ActionSubject: SubjectFeedback},
		{Action: ActionFeedback, ActionSubject: "dialog.opened"},
	}
	for _, ev := range events {
		if err := r.SendEvent(context.Background(), ev); err != nil {
			t.Errorf("SendEvent(%+v) = %v", ev, err)
		}
	}
	r.SetUserProperties(map[string]any{"k": "v"})

	if r.Current() != nil || h.FeedbackEnabled() {
		t.Error("unrelated events should not start a session")
	}
	sub.mu.Lock()
	defer sub.mu.Unlock()
	if len(sub.creds) != 0 {
		t.Errorf("unexpected submissions: %d", len(sub.creds))
	}
}

func TestRouter_FeedbackWithoutAttributes(t *testing.T) {
	sub := &recordingSubmitter{}
	r := New(chromeHost(t), &blockingExchanger{}, sub, Options{Logger: discard})

	if _, err := wait(t, r.OnFeedback(context.Background(), nil)); !errors.Is(err, ErrMissingAttributes) {
		t.Errorf("err = %v, want ErrMissingAttributes", err)
	}
}

func TestRouter_RegisterWithRegistry(t *testing.T) {
	ex := &blockingExchanger{release: make(chan struct{}), calls: make(chan string, 1)}
	defer close(ex.release)
	reg := host.NewRegistry()
	r := New(chromeHost(t), ex, &recordingSubmitter{}, Options{Logger: discard})
	r.Register(reg)

	if reg.Len() != 1 {
		t.Fatalf("Len = %d, want 1", reg.Len())
	}
	if err := reg.SendEvent(context.Background(), host.Event{Action: ActionStageReached, ActionSubject: SubjectMUCJoined}); err != nil {
		t.Fatalf("SendEvent: %v", err)
	}
	if got := <-ex.calls; got != "S" {
		t.Errorf("exchanged token = %q", got)
	}
}

func TestOutcome(t *testing.T) {
	testCases := []struct {
		err  error
		want string
	}{
		{nil, "success"},
		{&feedback.BackendError{Status: 500}, "backend_error"},
		{&feedback.TransportError{Err: errors.New("x")}, "transport_error"},
		{errors.New("other"), "error"},
	}
	for _, tc := range testCases {
		if got := outcome(tc.err); got != tc.want {
			t.Errorf("outcome(%v) = %q, want %q", tc.err, got, tc.want)
		}
	}
}

func TestRouter_Drain(t *testing.T) {
	ex := &blockingExchanger{release: make(chan struct{}), calls: make(chan string, 1)}
	sub := &recordingSubmitter{}
	r := New(chromeHost(t), ex, sub, Options{Logger: discard})

	if _, err := r.OnJoin(context.Background()); err != nil {
		t.Fatalf("OnJoin: %v", err)
	}
	<-ex.calls
	r.OnFeedback(context.Background(), &host.FeedbackAttributes{Rating: 3})

	short, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := r.Drain(short); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Drain with pending exchange = %v, want DeadlineExceeded", err)
	}

	close(ex.release)
	ctx, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel2()
	if err := r.Drain(ctx); err != nil {
		t.Fatalf("Drain: %v", err)
	}
	sub.mu.Lock()
	defer sub.mu.Unlock()
	if len(sub.creds) != 1 {
		t.Errorf("submissions = %d, want 1", len(sub.creds))
	}
}

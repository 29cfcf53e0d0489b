// Package router is the bridge's analytics handler: it reacts to conference join
// and feedback events from the conferencing client.
package router

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"

	"github.com/nordeck/feedback-application/internal/feedback"
	"github.com/nordeck/feedback-application/internal/host"
	"github.com/nordeck/feedback-application/internal/metrics"
	"github.com/nordeck/feedback-application/internal/session"
)

// Recognised (action, actionSubject) pairs.
const (
	ActionStageReached = "connection.stage.reached"
	SubjectMUCJoined   = "conference_muc.joined"
	ActionFeedback     = "feedback"
	SubjectFeedback    = "feedback"
)

const defaultTimeout = 15 * time.Second

// ErrMissingAttributes resolves the Completion of a feedback event that carried no rating or comment.
var ErrMissingAttributes = errors.New("router: feedback event has no attributes")

// TokenExchanger trades a session token for a feedback credential.
type TokenExchanger interface {
	Exchange(ctx context.Context, sessionToken string) (string, error)
}

// FeedbackSubmitter sends one feedback submission.
type FeedbackSubmitter interface {
	Submit(ctx context.Context, rating int, comment string, bag metrics.Bag, credential string) (string, error)
}

// Options tunes a Router. The zero value collects the default metric list with a 15s request timeout.
type Options struct {
	// Metrics is the ordered list of metrics to attach. nil selects metrics.DefaultIDs;
	// an empty slice attaches none.
	Metrics []metrics.ID
	// Catalog defaults to metrics.Default.
	Catalog metrics.Catalog
	// Timeout bounds each background request.
	Timeout time.Duration
	Logger  *slog.Logger
	// Meter defaults to the global MeterProvider.
	Meter metric.Meter
}

// Router sequences join and feedback handling. It implements host.AnalyticsHandler.
type Router struct {
	host      host.Host
	exchanger TokenExchanger
	submitter FeedbackSubmitter
	collector *metrics.Collector
	metricIDs []metrics.ID
	timeout   time.Duration
	logger    *slog.Logger

	exchanges   metric.Int64Counter
	submissions metric.Int64Counter

	mu      sync.RWMutex
	current *session.Session

	inflight sync.WaitGroup
}

var _ host.AnalyticsHandler = (*Router)(nil)

// New returns a Router for h that exchanges tokens with ex and submits with sub.
func New(h host.Host, ex TokenExchanger, sub FeedbackSubmitter, opts Options) *Router {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	meter := opts.Meter
	if meter == nil {
		meter = otel.Meter("feedback.bridge")
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Router{
		host:        h,
		exchanger:   ex,
		submitter:   sub,
		collector:   metrics.NewCollector(opts.Catalog, logger, meter),
		metricIDs:   opts.Metrics,
		timeout:     timeout,
		logger:      logger,
		exchanges:   counter(meter, "feedback.token_exchanges", "Token exchanges by outcome."),
		submissions: counter(meter, "feedback.submissions", "Feedback submissions by outcome."),
	}
}

// Register adds r to the client's handler list.
func (r *Router) Register(reg *host.Registry) {
	reg.Register(r)
}

// SendEvent routes event to OnJoin or OnFeedback and ignores everything else.
// Only a malformed identity credential is reported back to the caller.
func (r *Router) SendEvent(ctx context.Context, event host.Event) error {
	switch {
	case event.Action == ActionStageReached && event.ActionSubject == SubjectMUCJoined:
		_, err := r.OnJoin(ctx)
		return err
	case event.Action == ActionFeedback && event.ActionSubject == SubjectFeedback:
		r.OnFeedback(ctx, event.Attributes)
	}
	return nil
}

// SetUserProperties is part of the handler contract; the bridge has no use for user properties.
func (r *Router) SetUserProperties(map[string]any) {}

// Current returns the session of the latest successful join, or nil before any join.
func (r *Router) Current() *session.Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.current
}

// OnJoin enables the feedback dialog, decodes the session token from the identity
// credential, and starts the token exchange in the background. The returned session
// replaces any previous one and starts with its credential, so a failed exchange keeps
// the last good credential. Its Exchange completion resolves when the exchange ends.
// A *session.DecodeError leaves the previous session in place.
func (r *Router) OnJoin(ctx context.Context) (*session.Session, error) {
	if err := r.host.EnableFeedbackOnLeave(); err != nil {
		r.logger.WarnContext(ctx, "feedback: enable feedback on leave failed", "error", err)
	}

	token, err := session.ExtractSessionToken(r.host.IdentityCredential())
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	sess := session.NewFrom(r.current)
	r.current = sess
	r.mu.Unlock()

	r.inflight.Add(1)
	go r.exchange(context.WithoutCancel(ctx), sess, token)
	return sess, nil
}

func (r *Router) exchange(ctx context.Context, sess *session.Session, token string) {
	defer r.inflight.Done()
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	credential, err := r.exchanger.Exchange(ctx, token)
	r.exchanges.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome(err))))
	if err != nil {
		r.logger.ErrorContext(ctx, "feedback: token exchange failed", "session_id", sess.ID, "error", err)
		sess.CompleteExchange("", err)
		return
	}
	r.logger.InfoContext(ctx, "feedback: credential obtained", "session_id", sess.ID)
	sess.CompleteExchange(credential, nil)

	// A slow exchange from an earlier join still counts as the latest success.
	if current := r.Current(); current != nil && current != sess && current.Adopt(credential) {
		r.logger.InfoContext(ctx, "feedback: credential carried to current session", "session_id", current.ID, "from_session_id", sess.ID)
	}
}

// OnFeedback collects the configured metrics and submits them with attrs in the
// background, using whatever credential the current session holds right now. Feedback
// that arrives before any exchange has succeeded is sent without a credential.
func (r *Router) OnFeedback(ctx context.Context, attrs *host.FeedbackAttributes) *session.Completion {
	done := session.NewCompletion()
	if attrs == nil {
		r.logger.WarnContext(ctx, "feedback: event without attributes ignored")
		done.Complete("", ErrMissingAttributes)
		return done
	}

	sess := r.Current()
	credential, ok := sess.Credential()
	logger := r.logger
	if sess != nil {
		logger = logger.With("session_id", sess.ID)
	}
	if !ok {
		logger.WarnContext(ctx, "feedback: submitting without credential")
	}

	bag := r.collector.Collect(ctx, r.host.State(), r.metricIDs)
	logger.DebugContext(ctx, "feedback: metrics collected", "count", len(bag))

	r.inflight.Add(1)
	go r.submit(context.WithoutCancel(ctx), logger, done, attrs.Rating, attrs.Comment, bag, credential)
	return done
}

func (r *Router) submit(ctx context.Context, logger *slog.Logger, done *session.Completion, rating int, comment string, bag metrics.Bag, credential string) {
	defer r.inflight.Done()
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	ack, err := r.submitter.Submit(ctx, rating, comment, bag, credential)
	r.submissions.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome(err))))
	if err != nil {
		logger.ErrorContext(ctx, "feedback: submission failed", "error", err)
	} else {
		logger.InfoContext(ctx, "feedback: submitted", "result", ack)
	}
	done.Complete(ack, err)
}

// Drain waits for every background exchange and submission started so far, or for ctx to end.
func (r *Router) Drain(ctx context.Context) error {
	idle := make(chan struct{})
	go func() {
		r.inflight.Wait()
		close(idle)
	}()
	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func outcome(err error) string {
	var be *feedback.BackendError
	var te *feedback.TransportError
	switch {
	case err == nil:
		return "success"
	case errors.As(err, &be):
		return "backend_error"
	case errors.As(err, &te):
		return "transport_error"
	default:
		return "error"
	}
}

func counter(meter metric.Meter, name, desc string) metric.Int64Counter {
	c, err := meter.Int64Counter(name, metric.WithDescription(desc))
	if err != nil {
		return noop.Int64Counter{}
	}
	return c
}

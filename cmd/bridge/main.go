// Bridge replays conferencing-client analytics events against a feedback collector.
// It reads one JSON event per line from stdin (or -events), dispatches it through the
// feedback router, and waits for background requests before exiting. Use it to smoke
// test a collector deployment with FEEDBACK_BACKEND set.
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/nordeck/feedback-application/internal/config"
	"github.com/nordeck/feedback-application/internal/feedback"
	"github.com/nordeck/feedback-application/internal/host"
	"github.com/nordeck/feedback-application/internal/metrics"
	"github.com/nordeck/feedback-application/internal/router"
	telemetryotel "github.com/nordeck/feedback-application/internal/telemetry/otel"
)

const serviceName = "feedback-bridge"

func main() {
	statePath := flag.String("state", "", "JSON file describing the client state (optional)")
	eventsPath := flag.String("events", "-", "JSON-lines event file; - reads stdin")
	identity := flag.String("identity", os.Getenv("IDENTITY_JWT"), "identity credential the client joined with")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config", "error", err)
		os.Exit(1)
	}
	logger := cfg.NewLogger(os.Stderr, serviceName)
	slog.SetDefault(logger)

	if err := run(cfg, logger, *statePath, *eventsPath, *identity); err != nil {
		logger.Error("bridge exited", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *slog.Logger, statePath, eventsPath, identity string) error {
	if err := cfg.ValidateBridge(); err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	providers, err := telemetryotel.NewProviders(ctx, cfg.OTLPEndpoint, serviceName, cfg.OTLPInsecure)
	if err != nil {
		return err
	}
	providers.SetGlobal()
	defer func() {
		if err := providers.Shutdown(context.Background()); err != nil {
			logger.Warn("telemetry shutdown", "error", err)
		}
	}()

	state, err := loadState(statePath, cfg)
	if err != nil {
		return err
	}
	events, err := openEvents(eventsPath)
	if err != nil {
		return err
	}
	defer events.Close()

	client := feedback.NewClient(cfg.FeedbackBackend, cfg.Timeout())
	r := router.New(host.NewStaticHost(state, identity), client, client, router.Options{
		Metrics: metrics.ParseIDs(cfg.MetadataList()),
		Timeout: cfg.Timeout(),
		Logger:  logger,
	})
	registry := host.NewRegistry()
	r.Register(registry)

	if err := replay(ctx, events, registry, r, logger); err != nil {
		return err
	}

	drainCtx, cancel := context.WithTimeout(context.Background(), cfg.Timeout())
	defer cancel()
	return r.Drain(drainCtx)
}

// eventLine is one replayed event.
type eventLine struct {
	Action        string `json:"action"`
	ActionSubject string `json:"actionSubject"`
	Attributes    *struct {
		Rating  int    `json:"rating"`
		Comment string `json:"comment"`
	} `json:"attributes,omitempty"`
}

func (l eventLine) event() host.Event {
	ev := host.Event{Action: l.Action, ActionSubject: l.ActionSubject}
	if l.Attributes != nil {
		ev.Attributes = &host.FeedbackAttributes{Rating: l.Attributes.Rating, Comment: l.Attributes.Comment}
	}
	return ev
}

// replay dispatches each line through reg. After a join it waits for the token exchange so
// that following feedback lines carry the credential, mirroring a user who rates after the call.
func replay(ctx context.Context, in io.Reader, reg *host.Registry, r *router.Router, logger *slog.Logger) error {
	scanner := bufio.NewScanner(in)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		raw := scanner.Bytes()
		if len(raw) == 0 {
			continue
		}
		var line eventLine
		if err := json.Unmarshal(raw, &line); err != nil {
			logger.Warn("skipping malformed event", "line", lineNo, "error", err)
			continue
		}
		ev := line.event()
		if err := reg.SendEvent(ctx, ev); err != nil {
			return fmt.Errorf("line %d: %w", lineNo, err)
		}
		if ev.Action == router.ActionStageReached && ev.ActionSubject == router.SubjectMUCJoined {
			if sess := r.Current(); sess != nil {
				if _, err := sess.Exchange().Wait(ctx); errors.Is(err, context.Canceled) {
					return err
				}
			}
		}
	}
	return scanner.Err()
}

func openEvents(path string) (io.ReadCloser, error) {
	if path == "" || path == "-" {
		return io.NopCloser(os.Stdin), nil
	}
	return os.Open(path)
}

package metrics

import (
	"context"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"

	"github.com/nordeck/feedback-application/internal/host"
)

// Bag holds the metrics collected for one submission. Only metrics that were read
// successfully are present.
type Bag map[ID]any

// MetricReadError records a failed accessor. The failing metric is left out of the Bag.
type MetricReadError struct {
	ID  ID
	Err error
}

func (e *MetricReadError) Error() string {
	return fmt.Sprintf("metrics: read %s: %v", e.ID, e.Err)
}

func (e *MetricReadError) Unwrap() error { return e.Err }

// Collector builds Bags from a Catalog.
type Collector struct {
	catalog    Catalog
	logger     *slog.Logger
	readErrors metric.Int64Counter
}

// NewCollector returns a Collector over catalog. A nil logger uses slog.Default;
// a nil meter uses the global MeterProvider.
func NewCollector(catalog Catalog, logger *slog.Logger, meter metric.Meter) *Collector {
	if catalog == nil {
		catalog = Default
	}
	if logger == nil {
		logger = slog.Default()
	}
	if meter == nil {
		meter = otel.Meter("feedback.bridge")
	}
	counter, err := meter.Int64Counter("feedback.metric.read_errors",
		metric.WithDescription("Metric accessors that failed while building a feedback payload."))
	if err != nil {
		counter = noop.Int64Counter{}
	}
	return &Collector{catalog: catalog, logger: logger, readErrors: counter}
}

// Collect reads requested from s in order. A nil requested list selects DefaultIDs.
// Every failing accessor, including one that panics, is logged and skipped; Collect itself never fails.
func (c *Collector) Collect(ctx context.Context, s *host.State, requested []ID) Bag {
	if requested == nil {
		requested = DefaultIDs
	}
	bag := make(Bag, len(requested))
	for _, id := range requested {
		v, ok, err := c.resolve(id, s)
		if err != nil {
			c.logger.WarnContext(ctx, "feedback metric read failed", "metric", string(id), "error", err)
			c.readErrors.Add(ctx, 1, metric.WithAttributes(attribute.String("metric", string(id))))
			continue
		}
		if !ok {
			c.logger.DebugContext(ctx, "feedback metric unknown", "metric", string(id))
			continue
		}
		bag[id] = v
	}
	return bag
}

func (c *Collector) resolve(id ID, s *host.State) (v any, ok bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			v, ok = nil, false
			err = &MetricReadError{ID: id, Err: fmt.Errorf("panic: %v", r)}
		}
	}()
	v, ok, err = c.catalog.Resolve(id, s)
	if err != nil {
		return nil, false, &MetricReadError{ID: id, Err: err}
	}
	return v, ok, nil
}

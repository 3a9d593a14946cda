package api

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	tracerName         = "bashbook/api"
	guestsEventName    = "guests.request"
	guestsEventDomain  = "bashbook"
	observabilityEvent = "observability.event"

	metricsKey = "bashbook.metrics"
)

type requestMetrics struct {
	logger        *log.Logger
	span          trace.Span
	route         string
	method        string
	start         time.Time
	storeDuration time.Duration
	guests        int
	guestsSet     bool
	errorStage    string
	failure       error
}

// newRequestMetrics starts a span for route. The returned context carries the
// span and should replace the request context.
func newRequestMetrics(ctx context.Context, logger *log.Logger, method, route string) (*requestMetrics, context.Context) {
	spanCtx, span := otel.Tracer(tracerName).Start(ctx, method+" "+route, trace.WithSpanKind(trace.SpanKindServer))
	return &requestMetrics{
		logger: logger,
		span:   span,
		route:  route,
		method: method,
		start:  time.Now(),
	}, spanCtx
}

func (m *requestMetrics) ObserveStore(duration time.Duration) {
	if duration <= 0 {
		return
	}
	m.storeDuration = duration
}

func (m *requestMetrics) SetGuests(count int) {
	if count < 0 {
		count = 0
	}
	m.guests = count
	m.guestsSet = true
}

func (m *requestMetrics) SetErrorStage(stage string) {
	if stage == "" {
		return
	}
	m.errorStage = stage
}

// SetError records the cause that Instrument reports when the request ends.
func (m *requestMetrics) SetError(err error) {
	m.failure = err
}

// Instrument starts request metrics ahead of the rest of the chain and logs
// them once the response is written, rejections included.
func Instrument(logger *log.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			route := c.Path()
			if route == "" {
				route = req.URL.Path
			}
			metrics, spanCtx := newRequestMetrics(req.Context(), logger, req.Method, route)
			c.SetRequest(req.WithContext(spanCtx))
			c.Set(metricsKey, metrics)

			err := next(c)
			failure := metrics.failure
			if failure == nil {
				failure = err
			}
			metrics.Log(c.Response().Status, failure)
			return err
		}
	}
}

func metricsFrom(c echo.Context) (*requestMetrics, bool) {
	m, ok := c.Get(metricsKey).(*requestMetrics)
	return m, ok && m != nil
}

// Log ends the span and emits one observability event.
func (m *requestMetrics) Log(status int, err error) {
	if m == nil {
		return
	}

	attrs := []attribute.KeyValue{
		attribute.String("http.route", m.route),
		attribute.String("http.request.method", m.method),
		attribute.Int("http.response.status_code", status),
		attribute.Float64("bashbook.total_ms", durationToMillis(time.Since(m.start))),
	}
	if m.storeDuration > 0 {
		attrs = append(attrs, attribute.Float64("bashbook.store_ms", durationToMillis(m.storeDuration)))
	}
	if m.guestsSet {
		attrs = append(attrs, attribute.Int("bashbook.guests.count", m.guests))
	}
	if m.errorStage != "" {
		attrs = append(attrs, attribute.String("bashbook.error_stage", m.errorStage))
	}

	if m.span != nil {
		m.span.SetAttributes(attrs...)
		if err != nil {
			m.span.RecordError(err)
		}
		if err != nil || status >= http.StatusInternalServerError {
			desc := http.StatusText(status)
			if err != nil {
				desc = err.Error()
			}
			m.span.SetStatus(codes.Error, desc)
		}
		m.span.End()
	}

	if m.logger == nil {
		return
	}
	attributes := make(map[string]any, len(attrs))
	for _, kv := range attrs {
		attributes[string(kv.Key)] = kv.Value.AsInterface()
	}
	severityText, severityNumber := severityForStatus(status, err)
	fields := log.Fields{
		"event.name":      guestsEventName,
		"event.domain":    guestsEventDomain,
		"severity_text":   severityText,
		"severity_number": severityNumber,
		"attributes":      attributes,
	}
	if m.span != nil {
		if sc := m.span.SpanContext(); sc.IsValid() {
			fields["trace_id"] = sc.TraceID().String()
			fields["span_id"] = sc.SpanID().String()
		}
	}
	if err != nil {
		fields["error"] = err.Error()
	}

	entry := m.logger.WithFields(fields)
	switch severityText {
	case "ERROR":
		entry.Error(observabilityEvent)
	case "WARN":
		entry.Warn(observabilityEvent)
	default:
		entry.Info(observabilityEvent)
	}
}

// severityForStatus maps a response to OpenTelemetry log severity.
func severityForStatus(status int, err error) (string, int) {
	switch {
	case err != nil || status >= http.StatusInternalServerError:
		return "ERROR", 17
	case status >= http.StatusBadRequest:
		return "WARN", 13
	default:
		return "INFO", 9
	}
}

func durationToMillis(d time.Duration) float64 {
	if d <= 0 {
		return 0
	}
	return float64(d) / float64(time.Millisecond)
}

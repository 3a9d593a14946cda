package api

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/bytedance/sonic"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	log "github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"bashbook/domain"
)

const (
	guestsRoute  = "/api/todos"
	sessionRoute = "/api/session"

	healthTimeout = 2 * time.Second
)

// Options tune request handling.
type Options struct {
	// MaxBodyBytes caps request bodies; larger ones get 413.
	MaxBodyBytes int64
	// SessionRate limits password attempts per client IP and second. Zero
	// disables the limiter.
	SessionRate float64
}

// Register wires up all API routes on the provided Echo instance.
func Register(e *echo.Echo, store Storage, auth Authenticator, notifier Notifier, logger *log.Logger, opts Options) {
	if logger == nil {
		panic("Logger is not initialized")
	}
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = 1 << 20
	}

	e.GET("/healthz", healthz(store))

	var sessionMW []echo.MiddlewareFunc
	if opts.SessionRate > 0 {
		burst := int(opts.SessionRate)
		if burst < 1 {
			burst = 1
		}
		sessionMW = append(sessionMW, middleware.RateLimiter(middleware.NewRateLimiterMemoryStoreWithConfig(
			middleware.RateLimiterMemoryStoreConfig{Rate: rate.Limit(opts.SessionRate), Burst: burst, ExpiresIn: 3 * time.Minute},
		)))
	}
	e.POST(sessionRoute, postSession(auth, logger, opts.MaxBodyBytes), sessionMW...)

	g := e.Group(guestsRoute, Instrument(logger), RequireSession(auth))
	g.GET("", getGuests(store, logger))
	g.POST("", postGuests(store, notifier, logger, opts.MaxBodyBytes))
	g.DELETE("", deleteGuest(store, notifier, logger, opts.MaxBodyBytes))
}

func healthz(store Storage) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx, cancel := context.WithTimeout(c.Request().Context(), healthTimeout)
		defer cancel()
		if _, err := store.Load(ctx); err != nil {
			return c.String(http.StatusServiceUnavailable, "storage unavailable")
		}
		return c.NoContent(http.StatusOK)
	}
}

func getGuests(store Storage, logger *log.Logger) echo.HandlerFunc {
	return func(c echo.Context) error {
		metrics, ctx, finish := instrument(c, logger)
		defer finish()

		start := time.Now()
		guests, err := store.Load(ctx)
		metrics.ObserveStore(time.Since(start))
		if err != nil {
			metrics.SetError(err)
			metrics.SetErrorStage("storage")
			return internalError(c, logger, err)
		}
		metrics.SetGuests(len(guests))
		return c.JSON(http.StatusOK, domain.Clone(guests))
	}
}

func postGuests(store Storage, notifier Notifier, logger *log.Logger, maxBody int64) echo.HandlerFunc {
	return func(c echo.Context) error {
		metrics, ctx, finish := instrument(c, logger)
		defer finish()

		var req replaceRequest
		if status, err := decodeBody(c, maxBody, &req); err != nil {
			metrics.SetErrorStage("decode")
			return c.JSON(status, messageResponse{Message: err.Error()})
		}
		if req.Todos == nil {
			metrics.SetErrorStage("decode")
			return c.JSON(http.StatusBadRequest, messageResponse{Message: "missing todos"})
		}
		guests := domain.Clone(*req.Todos)

		start := time.Now()
		err := store.Replace(ctx, guests)
		metrics.ObserveStore(time.Since(start))
		if err != nil {
			metrics.SetError(err)
			metrics.SetErrorStage("storage")
			return internalError(c, logger, err)
		}
		metrics.SetGuests(len(guests))

		publish(ctx, notifier, logger, domain.Change{Type: domain.ChangeGuestsReplaced, Count: len(guests)})
		return c.JSON(http.StatusOK, messageResponse{Message: msgSuccess})
	}
}

func deleteGuest(store Storage, notifier Notifier, logger *log.Logger, maxBody int64) echo.HandlerFunc {
	return func(c echo.Context) error {
		metrics, ctx, finish := instrument(c, logger)
		defer finish()

		var req deleteRequest
		if status, err := decodeBody(c, maxBody, &req); err != nil {
			metrics.SetErrorStage("decode")
			return c.JSON(status, messageResponse{Message: err.Error()})
		}
		if req.ID == "" {
			metrics.SetErrorStage("decode")
			return c.JSON(http.StatusBadRequest, messageResponse{Message: "missing id"})
		}

		start := time.Now()
		remaining, err := store.Delete(ctx, req.ID)
		metrics.ObserveStore(time.Since(start))
		if err != nil {
			metrics.SetError(err)
			metrics.SetErrorStage("storage")
			return internalError(c, logger, err)
		}
		metrics.SetGuests(remaining)

		publish(ctx, notifier, logger, domain.Change{Type: domain.ChangeGuestDeleted, GuestID: req.ID, Count: remaining})
		return c.JSON(http.StatusOK, messageResponse{Message: msgDeleted})
	}
}

func postSession(auth Authenticator, logger *log.Logger, maxBody int64) echo.HandlerFunc {
	return func(c echo.Context) error {
		if !auth.Enabled() {
			return c.NoContent(http.StatusNoContent)
		}
		var req sessionRequest
		if status, err := decodeBody(c, maxBody, &req); err != nil {
			return c.JSON(status, messageResponse{Message: err.Error()})
		}
		token, expires, err := auth.Unlock(req.Password)
		if err != nil {
			if errors.Is(err, errInvalidPassword) {
				logger.WithField("remote_ip", c.RealIP()).Warn("session rejected: invalid password")
				return c.JSON(http.StatusUnauthorized, messageResponse{Message: errInvalidPassword.Error()})
			}
			return internalError(c, logger, err)
		}
		logger.WithField("remote_ip", c.RealIP()).Info("session opened")
		return c.JSON(http.StatusOK, sessionResponse{Token: token, ExpiresAt: expires.UTC()})
	}
}

// RequireSession rejects requests without a valid session when auth is enabled.
func RequireSession(auth Authenticator) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if auth == nil || !auth.Enabled() {
				return next(c)
			}
			if _, err := auth.SubjectFromAuthHeader(c.Request().Header.Get(echo.HeaderAuthorization)); err != nil {
				if metrics, ok := metricsFrom(c); ok {
					metrics.SetErrorStage("auth")
				}
				return c.JSON(http.StatusUnauthorized, messageResponse{Message: err.Error()})
			}
			return next(c)
		}
	}
}

// instrument returns the metrics Instrument started for c. Handlers served
// without that middleware get their own, logged when finish runs.
func instrument(c echo.Context, logger *log.Logger) (*requestMetrics, context.Context, func()) {
	if metrics, ok := metricsFrom(c); ok {
		return metrics, c.Request().Context(), func() {}
	}
	req := c.Request()
	metrics, spanCtx := newRequestMetrics(req.Context(), logger, req.Method, guestsRoute)
	c.SetRequest(req.WithContext(spanCtx))
	return metrics, spanCtx, func() { metrics.Log(c.Response().Status, metrics.failure) }
}

// decodeBody reads at most limit bytes and unmarshals them into dst. The
// returned status is the one to answer with when err is not nil.
func decodeBody(c echo.Context, limit int64, dst any) (int, error) {
	body := http.MaxBytesReader(c.Response(), c.Request().Body, limit)
	data, err := io.ReadAll(body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return http.StatusRequestEntityTooLarge, errors.New("body too large")
		}
		return http.StatusBadRequest, errors.New("invalid body")
	}
	if err := sonic.ConfigStd.Unmarshal(data, dst); err != nil {
		return http.StatusBadRequest, errors.New("invalid body")
	}
	return 0, nil
}

func internalError(c echo.Context, logger *log.Logger, err error) error {
	logger.WithFields(log.Fields{
		"method": c.Request().Method,
		"path":   c.Path(),
	}).Errorf("request failed: %v", err)
	return c.JSON(http.StatusInternalServerError, messageResponse{Message: msgInternal})
}

package api

import (
	"context"
	"sync/atomic"
	"time"

	log "github.com/sirupsen/logrus"

	"bashbook/domain"
)

const notifyTimeout = 5 * time.Second

var lastTimestamp int64

// nextTimestamp returns a nanosecond stamp strictly greater than any
// previously returned one.
func nextTimestamp() int64 {
	for {
		now := time.Now().UnixNano()
		last := atomic.LoadInt64(&lastTimestamp)
		if now <= last {
			now = last + 1
		}
		if atomic.CompareAndSwapInt64(&lastTimestamp, last, now) {
			return now
		}
	}
}

// publish sends change with its own timeout, detached from request
// cancellation. Failures are only logged.
func publish(ctx context.Context, n Notifier, logger *log.Logger, change domain.Change) {
	if n == nil {
		return
	}
	change.Timestamp = nextTimestamp()
	nctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), notifyTimeout)
	defer cancel()
	if err := n.Notify(nctx, change); err != nil && logger != nil {
		logger.WithFields(log.Fields{
			"change": change.Type,
			"count":  change.Count,
		}).Warnf("change notification failed: %v", err)
	}
}

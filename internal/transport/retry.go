package transport

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/adamancini/hold/internal/budget"
	"github.com/adamancini/hold/internal/update"
)

// Retry repeats failed fetches of an inner transport. Interrupted file
// fetches continue from the bytes already received.
type Retry struct {
	inner    update.Transport
	maxRetry int
	delay    time.Duration
	sleep    func(context.Context, time.Duration) error
	log      *logrus.Entry
}

// NewRetry wraps inner with up to maxRetry extra attempts per fetch.
func NewRetry(inner update.Transport, maxRetry int, delay time.Duration, log *logrus.Entry) *Retry {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Retry{
		inner:    inner,
		maxRetry: maxRetry,
		delay:    delay,
		sleep:    sleepContext,
		log:      log,
	}
}

func (r *Retry) FetchManifest(ctx context.Context, url string) (data []byte, err error) {
	for x := 0; x <= r.maxRetry; x++ {
		data, err = r.inner.FetchManifest(ctx, url)
		if err == nil {
			return data, nil
		}
		if !retryable(ctx, err) {
			return nil, err
		}
		if x < r.maxRetry {
			r.log.WithError(err).WithField("url", url).Warn("Manifest fetch failed, retry imminent")
			if serr := r.sleep(ctx, r.delay); serr != nil {
				return nil, serr
			}
		}
	}
	return nil, err
}

func (r *Retry) FetchFile(ctx context.Context, url string, offset, size int64, onProgress func(int64)) ([]byte, error) {
	var (
		received []byte
		err      error
	)
	for x := 0; x <= r.maxRetry; x++ {
		base := int64(len(received))
		var data []byte
		data, err = r.inner.FetchFile(ctx, url, offset+base, size, func(n int64) {
			if onProgress != nil {
				onProgress(base + n)
			}
		})
		if err == nil {
			return append(received, data...), nil
		}

		var partial *update.PartialError
		if errors.As(err, &partial) {
			received = append(received, partial.Data...)
		}
		if !retryable(ctx, err) {
			break
		}
		if x < r.maxRetry {
			r.log.WithError(err).WithFields(logrus.Fields{
				"url":      url,
				"received": len(received),
			}).Warn("File fetch failed, retry imminent")
			if serr := r.sleep(ctx, r.delay); serr != nil {
				err = serr
				break
			}
		}
	}

	if len(received) > 0 {
		var partial *update.PartialError
		if errors.As(err, &partial) {
			err = partial.Err
		}
		return nil, &update.PartialError{Data: received, Err: err}
	}
	return nil, err
}

func (r *Retry) QueryQuota(ctx context.Context) (budget.Quota, error) {
	return r.inner.QueryQuota(ctx)
}

// sleepContext waits for d or until ctx ends.
func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// retryable reports whether err is a transient network failure and the
// caller is still waiting.
func retryable(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return false
	}
	var nerr *update.NetworkError
	if errors.As(err, &nerr) {
		return nerr.Retryable()
	}
	return false
}

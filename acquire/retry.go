package acquire

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
)

// Retry re-runs Next up to Retries more times, sleeping Backoff×attempt
// between tries. Cancellation and permanent failures stop it early.
type Retry struct {
	Next    Acquirer
	Retries int
	Backoff time.Duration
}

func (r *Retry) Acquire(ctx context.Context, rawURL, dir string) (string, error) {
	logger := zerolog.Ctx(ctx)

	var lastErr error
	attempt := 0
	for attempt <= r.Retries {
		attempt++
		path, err := r.Next.Acquire(ctx, rawURL, dir)
		if err == nil {
			return path, nil
		}
		lastErr = unwrapDownload(err)
		if ctx.Err() != nil || errors.Is(err, errPermanent) || attempt > r.Retries {
			break
		}

		wait := r.Backoff * time.Duration(attempt)
		logger.Warn().Err(lastErr).Int("attempt", attempt).Dur("backoff", wait).Msg("download failed, retrying")
		select {
		case <-ctx.Done():
			lastErr = ctx.Err()
			return "", &DownloadError{URL: rawURL, Attempts: attempt, Err: lastErr}
		case <-time.After(wait):
		}
	}
	return "", &DownloadError{URL: rawURL, Attempts: attempt, Err: lastErr}
}

func unwrapDownload(err error) error {
	var de *DownloadError
	if errors.As(err, &de) {
		return de.Err
	}
	return err
}

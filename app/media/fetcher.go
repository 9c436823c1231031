package media

import (
	"context"
	"errors"
	"fmt"
	"time"

	e "nuclight.org/relay-tg-bot/pkg/entities"
	"nuclight.org/relay-tg-bot/pkg/logger"
)

type Downloader interface {
	Download(ctx context.Context, item e.MediaItem) ([]byte, error)
}

type Observer interface {
	ObserveFetchAttempt(err error)
}

// Fetcher downloads media bytes, retrying failed attempts. Each attempt is
// bounded by Timeout, attempts are separated by RetryDelay.
type Fetcher struct {
	// Log is a logger
	Log logger.Logger

	// Backend performs a single download attempt
	Backend Downloader

	// MaxRetries is the total number of attempts, values below 1 mean one attempt
	MaxRetries int

	// RetryDelay is the pause between two attempts
	RetryDelay time.Duration

	// Timeout bounds a single attempt, zero means no bound
	Timeout time.Duration

	// Observer is notified about every attempt, optional
	Observer Observer
}

// DownloadError is returned when every attempt failed.
type DownloadError struct {
	Attempts int
	Err      error
}

func (de *DownloadError) Error() string {
	return fmt.Sprintf("download failed after %d attempts: %v", de.Attempts, de.Err)
}

func (de *DownloadError) Unwrap() error {
	return de.Err
}

func (de *DownloadError) Is(target error) bool {
	return target == e.ErrDownloadFailed
}

func (f *Fetcher) Fetch(ctx context.Context, item e.MediaItem) ([]byte, error) {
	attempts := max(f.MaxRetries, 1)

	var lastErr error
	for i := 1; i <= attempts; i++ {
		content, err := f.attempt(ctx, item)
		if f.Observer != nil {
			f.Observer.ObserveFetchAttempt(err)
		}
		if err == nil {
			return content, nil
		}

		lastErr = err
		f.Log.Warn("media download attempt failed",
			"attempt", i, "max_attempts", attempts, "kind", item.Kind, "error", err)

		if ctx.Err() != nil {
			return nil, &DownloadError{Attempts: i, Err: ctx.Err()}
		}

		if i == attempts {
			break
		}

		if err := sleep(ctx, f.RetryDelay); err != nil {
			return nil, &DownloadError{Attempts: i, Err: err}
		}
	}

	return nil, &DownloadError{Attempts: attempts, Err: lastErr}
}

func (f *Fetcher) attempt(ctx context.Context, item e.MediaItem) ([]byte, error) {
	if f.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, f.Timeout)
		defer cancel()
	}

	content, err := f.Backend.Download(ctx, item)
	if err != nil {
		return nil, err
	}

	if len(content) == 0 {
		return nil, errors.New("empty media content")
	}

	return content, nil
}

// sleep waits for d or until ctx is done.
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

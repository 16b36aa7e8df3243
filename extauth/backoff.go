package extauth

import (
	"context"
	"time"
)

// retry runs fn once and then up to retries more times while it returns a
// transient error. The wait before retry n (0-based) is base << n.
func retry[T any](ctx context.Context, retries int, base time.Duration, sleep func(context.Context, time.Duration) error, fn func(context.Context) (T, error)) (T, error) {
	var (
		out T
		err error
	)
	for attempt := 0; ; attempt++ {
		out, err = fn(ctx)
		if err == nil || !IsTransient(err) || attempt >= retries {
			return out, err
		}
		if serr := sleep(ctx, base<<attempt); serr != nil {
			return out, err
		}
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

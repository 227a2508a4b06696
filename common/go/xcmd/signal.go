package xcmd

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
)

// Interrupted is returned when the process receives a termination signal.
type Interrupted struct {
	os.Signal
}

func (m Interrupted) Error() string {
	return m.String()
}

// IsInterrupted reports whether err was caused by a termination signal.
func IsInterrupted(err error) bool {
	var interrupted Interrupted
	return errors.As(err, &interrupted)
}

// WaitInterrupted blocks until either SIGINT or SIGTERM signal is received or
// the provided context is canceled.
func WaitInterrupted(ctx context.Context) error {
	return WaitSignal(ctx, syscall.SIGINT, syscall.SIGTERM)
}

// WaitSignal blocks until one of the given signals is received, returning
// it as Interrupted, or the provided context is canceled.
func WaitSignal(ctx context.Context, signals ...os.Signal) error {
	ch := make(chan os.Signal, 1)
	defer signal.Stop(ch)

	signal.Notify(ch, signals...)
	return wait(ctx, ch)
}

func wait(ctx context.Context, ch <-chan os.Signal) error {
	select {
	case v := <-ch:
		return Interrupted{Signal: v}
	case <-ctx.Done():
		return ctx.Err()
	}
}

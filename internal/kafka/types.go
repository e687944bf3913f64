package kafka

import (
	"fmt"
	"time"
)

// ErrRetry asks the consumer to run the handler again after Delay.
type ErrRetry struct {
	Err   error
	Delay time.Duration
}

func (e *ErrRetry) Error() string {
	return fmt.Sprintf("retry after %v: %v", e.Delay, e.Err)
}

func (e *ErrRetry) Unwrap() error {
	return e.Err
}

func NewRetryError(err error, delay time.Duration) *ErrRetry {
	return &ErrRetry{Err: err, Delay: delay}
}

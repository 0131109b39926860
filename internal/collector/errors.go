package collector

import (
	"fmt"
	"time"
)

// ThrottleError сигнализирует, что наблюдаемый сервер попросил сбавить темп.
// Декоратор надежности использует RetryAfter вместо стандартного бэкоффа.
type ThrottleError struct {
	RetryAfter time.Duration
	Cause      error
}

func (e *ThrottleError) Error() string {
	return fmt.Sprintf("throttled: retry after %v (cause: %v)", e.RetryAfter, e.Cause)
}

func (e *ThrottleError) Unwrap() error {
	return e.Cause
}

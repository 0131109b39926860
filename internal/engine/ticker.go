package engine

import "time"

// Тонкая прослойка над time.Ticker, чтобы тесты планировщика могли
// управлять временем руками.
type ticker interface {
	C() <-chan time.Time
	Stop()
}

var newTicker = func(d time.Duration) ticker {
	return &realTicker{t: time.NewTicker(d)}
}

type realTicker struct {
	t *time.Ticker
}

func (r *realTicker) C() <-chan time.Time { return r.t.C }
func (r *realTicker) Stop()               { r.t.Stop() }

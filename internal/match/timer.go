package match

import (
	"sync"
	"time"
)

type Ticker interface {
	C() <-chan time.Time
	Stop()
}

type TickerFunc func(d time.Duration) Ticker

type systemTicker struct {
	t *time.Ticker
}

func (s systemTicker) C() <-chan time.Time { return s.t.C }
func (s systemTicker) Stop()               { s.t.Stop() }

func SystemTicker(d time.Duration) Ticker {
	return systemTicker{t: time.NewTicker(d)}
}

// Countdown owns one ticker from start until Stop. Stop is safe to call more
// than once, so every exit path can release it unconditionally.
type Countdown struct {
	ticker Ticker
	once   sync.Once
}

func StartCountdown(newTicker TickerFunc, interval time.Duration) *Countdown {
	return &Countdown{ticker: newTicker(interval)}
}

func (c *Countdown) C() <-chan time.Time {
	return c.ticker.C()
}

func (c *Countdown) Stop() {
	c.once.Do(c.ticker.Stop)
}

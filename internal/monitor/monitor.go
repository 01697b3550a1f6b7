package monitor

import (
	"context"
	"sync"
	"time"

	"github.com/go-co-op/gocron/v2"
	log "github.com/sirupsen/logrus"

	"github.com/avvvet/kana-services/internal/metrics"
	"github.com/avvvet/kana-services/internal/tournament"
)

type Prober interface {
	Health(ctx context.Context) tournament.HealthStatus
}

// Monitor probes the tournament backend on a fixed interval and keeps the
// latest result for the health endpoint.
type Monitor struct {
	prober   Prober
	metrics  *metrics.Metrics
	interval time.Duration
	timeout  time.Duration

	mu      sync.RWMutex
	last    tournament.HealthStatus
	checked time.Time
	sched   gocron.Scheduler
}

func New(prober Prober, m *metrics.Metrics, interval time.Duration) *Monitor {
	return &Monitor{
		prober:   prober,
		metrics:  m,
		interval: interval,
		timeout:  15 * time.Second,
	}
}

// Probe runs one health check now and records it.
func (m *Monitor) Probe(ctx context.Context) tournament.HealthStatus {
	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	status := m.prober.Health(ctx)

	m.mu.Lock()
	wasUp := m.last.Connected
	first := m.checked.IsZero()
	m.last = status
	m.checked = time.Now()
	m.mu.Unlock()

	if m.metrics != nil {
		m.metrics.SetBackendUp(status.Connected)
	}
	if first || wasUp != status.Connected {
		if status.Connected {
			log.Infof("[monitor] %s", status.Message)
		} else {
			log.Warnf("[monitor] %s", status.Message)
		}
	}
	return status
}

// Last returns the most recent probe result and when it ran. A zero time
// means no probe has run yet.
func (m *Monitor) Last() (tournament.HealthStatus, time.Time) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.last, m.checked
}

// Start schedules the probe. A zero interval disables scheduling; Probe can
// still be called directly.
func (m *Monitor) Start() error {
	if m.interval <= 0 {
		return nil
	}

	sched, err := gocron.NewScheduler()
	if err != nil {
		return err
	}

	_, err = sched.NewJob(
		gocron.DurationJob(m.interval),
		gocron.NewTask(func() {
			m.Probe(context.Background())
		}),
		gocron.WithStartAt(gocron.WithStartImmediately()),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		_ = sched.Shutdown()
		return err
	}

	sched.Start()
	m.sched = sched
	return nil
}

func (m *Monitor) Stop() {
	if m.sched == nil {
		return
	}
	if err := m.sched.Shutdown(); err != nil {
		log.Errorf("[monitor] scheduler shutdown: %s", err)
	}
	m.sched = nil
}

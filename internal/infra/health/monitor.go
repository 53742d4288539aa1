package health

import (
	"context"
	"sync"
	"time"
)

// HeightFetcher reports the remote chain's current head, independent of
// the engine's own cached view.
type HeightFetcher interface {
	LatestHeight(ctx context.Context) (uint64, error)
}

// DeadLetterCounter reports how many ranges currently sit dead-lettered.
type DeadLetterCounter interface {
	Count(ctx context.Context) (int, error)
}

// Monitor aggregates the engine's live state into a Report, rate-limited
// so repeated /health polling does not hammer the remote height check.
type Monitor struct {
	head        func() uint64
	subscribers func() int
	heights     HeightFetcher
	deadLetter  DeadLetterCounter

	mu         sync.Mutex
	lastCheck  time.Time
	lastReport Report
}

// NewMonitor constructs a Monitor. deadLetter may be nil if dead-lettering
// is disabled, in which case DeadLetterDepth always reports zero.
func NewMonitor(head func() uint64, subscribers func() int, heights HeightFetcher, deadLetter DeadLetterCounter) *Monitor {
	return &Monitor{
		head:        head,
		subscribers: subscribers,
		heights:     heights,
		deadLetter:  deadLetter,
	}
}

// Check returns the current Report, reusing the last one if taken within
// the last 10 seconds so a health-check storm costs one remote call.
func (m *Monitor) Check(ctx context.Context) Report {
	m.mu.Lock()
	defer m.mu.Unlock()

	if time.Since(m.lastCheck) < 10*time.Second && !m.lastCheck.IsZero() {
		return m.lastReport
	}

	head := m.head()
	report := Report{
		Status:      StatusHealthy,
		HeadNumber:  head,
		Subscribers: m.subscribers(),
	}

	if latest, err := m.heights.LatestHeight(ctx); err != nil {
		report.Status = StatusDegraded
	} else {
		report.LatestRemote = latest
		if latest > head {
			report.Lag = latest - head
		}
	}

	if m.deadLetter != nil {
		if n, err := m.deadLetter.Count(ctx); err == nil {
			report.DeadLetterDepth = n
		}
	}

	switch {
	case report.Lag > 100 || report.DeadLetterDepth > 50:
		report.Status = StatusCritical
	case report.Status == StatusHealthy && (report.Lag > 10 || report.DeadLetterDepth > 0):
		report.Status = StatusDegraded
	}

	m.lastCheck = time.Now()
	m.lastReport = report
	return report
}

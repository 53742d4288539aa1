package health

import (
	"context"
	"errors"
	"testing"
)

type stubHeights struct {
	height uint64
	err    error
}

func (s *stubHeights) LatestHeight(ctx context.Context) (uint64, error) {
	return s.height, s.err
}

type stubDeadLetter struct {
	count int
	err   error
}

func (s *stubDeadLetter) Count(ctx context.Context) (int, error) {
	return s.count, s.err
}

func TestMonitor_Healthy(t *testing.T) {
	m := NewMonitor(func() uint64 { return 995 }, func() int { return 3 }, &stubHeights{height: 1000}, &stubDeadLetter{count: 0})

	report := m.Check(context.Background())
	if report.Status != StatusHealthy {
		t.Errorf("expected healthy, got %s", report.Status)
	}
	if report.Lag != 5 {
		t.Errorf("expected lag 5, got %d", report.Lag)
	}
}

func TestMonitor_Degraded(t *testing.T) {
	m := NewMonitor(func() uint64 { return 950 }, func() int { return 3 }, &stubHeights{height: 1000}, &stubDeadLetter{count: 0})

	report := m.Check(context.Background())
	if report.Status != StatusDegraded {
		t.Errorf("expected degraded, got %s", report.Status)
	}
}

func TestMonitor_Critical(t *testing.T) {
	m := NewMonitor(func() uint64 { return 800 }, func() int { return 3 }, &stubHeights{height: 1000}, &stubDeadLetter{count: 0})

	report := m.Check(context.Background())
	if report.Status != StatusCritical {
		t.Errorf("expected critical, got %s", report.Status)
	}
}

func TestMonitor_DeadLetterBacklogIsCritical(t *testing.T) {
	m := NewMonitor(func() uint64 { return 1000 }, func() int { return 3 }, &stubHeights{height: 1000}, &stubDeadLetter{count: 51})

	report := m.Check(context.Background())
	if report.Status != StatusCritical {
		t.Errorf("expected critical, got %s", report.Status)
	}
}

func TestMonitor_HeightFetchErrorDegrades(t *testing.T) {
	m := NewMonitor(func() uint64 { return 1000 }, func() int { return 0 }, &stubHeights{err: errors.New("rpc down")}, nil)

	report := m.Check(context.Background())
	if report.Status != StatusDegraded {
		t.Errorf("expected degraded, got %s", report.Status)
	}
}

package server

import (
	"log"
	"time"
)

// ConnStats summarizes one connection's traffic, reported at teardown.
type ConnStats struct {
	ID            [16]byte
	RowsServed    uint64
	HeadersServed uint64
	Errors        uint64
	Duration      time.Duration
}

// StatsObserver receives connection stats when a connection closes.
type StatsObserver interface {
	ObserveConnStats(stats ConnStats)
}

// StatsLogger logs connection stats to the provided logger.
type StatsLogger struct {
	logger *log.Logger
}

// NewStatsLogger returns an observer that logs stats.
func NewStatsLogger(l *log.Logger) *StatsLogger {
	if l == nil {
		l = log.Default()
	}
	return &StatsLogger{logger: l}
}

func (s *StatsLogger) ObserveConnStats(stats ConnStats) {
	if s == nil || s.logger == nil {
		return
	}
	s.logger.Printf("session=%x rows=%d headers=%d errors=%d duration=%s",
		stats.ID[:4], stats.RowsServed, stats.HeadersServed, stats.Errors, stats.Duration)
}

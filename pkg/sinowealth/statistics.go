// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package sinowealth

import (
	"errors"
	"fmt"
	"sort"
	"time"
)

// Statistics tracks refresh cycle outcomes and error rates
type Statistics struct {
	StartTime      time.Time
	LastUpdateTime time.Time

	// Counters
	TotalCycles       uint64
	GoodCycles        uint64
	FailedCycles      uint64
	TransportFailures uint64
	ShortPayloads     uint64
	ConfigFailures    uint64
	InvalidCellCounts uint64
	Anomalies         uint64

	// Failures per register code
	RegisterFailures map[byte]uint64

	// Rates (calculated)
	CycleRate float64 // cycles/sec
	ErrorRate float64 // failed cycles/sec
}

// NewStatistics creates a new statistics tracker
func NewStatistics() *Statistics {
	now := time.Now()
	return &Statistics{
		StartTime:        now,
		LastUpdateTime:   now,
		RegisterFailures: make(map[byte]uint64),
	}
}

// Update records the outcome of one cycle and its validation anomalies
func (s *Statistics) Update(cycleErr error, anomalies []ValidationError) {
	s.TotalCycles++
	s.LastUpdateTime = time.Now()
	s.Anomalies += uint64(len(anomalies))

	if cycleErr == nil {
		s.GoodCycles++
		return
	}
	s.FailedCycles++

	var regErr *RegisterError
	if errors.As(cycleErr, &regErr) {
		s.RegisterFailures[regErr.Register]++
	}

	switch {
	case errors.Is(cycleErr, ErrInvalidCellCount):
		s.InvalidCellCounts++
	case errors.Is(cycleErr, ErrConfigurationMissing):
		s.ConfigFailures++
	case errors.Is(cycleErr, ErrShortPayload):
		s.ShortPayloads++
	case errors.Is(cycleErr, ErrTransportFailure):
		s.TransportFailures++
	}
}

// CalculateRates calculates cycle and error rates
func (s *Statistics) CalculateRates() {
	elapsed := time.Since(s.StartTime).Seconds()
	if elapsed > 0 {
		s.CycleRate = float64(s.TotalCycles) / elapsed
		s.ErrorRate = float64(s.FailedCycles) / elapsed
	}
}

// SuccessPercent returns the share of good cycles
func (s *Statistics) SuccessPercent() float64 {
	if s.TotalCycles == 0 {
		return 0
	}
	return float64(s.GoodCycles) * 100.0 / float64(s.TotalCycles)
}

// String returns a formatted statistics summary
func (s *Statistics) String() string {
	s.CalculateRates()

	elapsed := time.Since(s.StartTime)

	result := fmt.Sprintf("=== Statistics (%.0f seconds) ===\n", elapsed.Seconds())
	result += fmt.Sprintf("Total Cycles:    %8d\n", s.TotalCycles)
	result += fmt.Sprintf("Good Cycles:     %8d (%.1f%%)\n", s.GoodCycles, s.SuccessPercent())

	if s.FailedCycles > 0 {
		result += fmt.Sprintf("Failed Cycles:   %8d\n", s.FailedCycles)
		if s.TransportFailures > 0 {
			result += fmt.Sprintf("  No Data:          %5d\n", s.TransportFailures)
		}
		if s.ShortPayloads > 0 {
			result += fmt.Sprintf("  Short Payload:    %5d\n", s.ShortPayloads)
		}
		if s.ConfigFailures > 0 {
			result += fmt.Sprintf("  Config Missing:   %5d\n", s.ConfigFailures)
		}
		if s.InvalidCellCounts > 0 {
			result += fmt.Sprintf("  Bad Cell Count:   %5d\n", s.InvalidCellCounts)
		}
		codes := make([]int, 0, len(s.RegisterFailures))
		for code := range s.RegisterFailures {
			codes = append(codes, int(code))
		}
		sort.Ints(codes)
		for _, code := range codes {
			result += fmt.Sprintf("  %-18s %5d\n", RegisterName(byte(code))+":", s.RegisterFailures[byte(code)])
		}
	}
	if s.Anomalies > 0 {
		result += fmt.Sprintf("Anomalies:       %8d\n", s.Anomalies)
	}

	result += fmt.Sprintf("Cycle Rate:      %8.2f cycles/sec\n", s.CycleRate)
	result += fmt.Sprintf("Error Rate:      %8.2f errors/sec\n", s.ErrorRate)
	result += "================================\n"

	return result
}

// Reset resets all statistics counters
func (s *Statistics) Reset() {
	*s = *NewStatistics()
}

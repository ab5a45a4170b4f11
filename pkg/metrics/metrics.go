// SPDX-License-Identifier: Apache-2.0

// Package metrics tracks cumulative and instantaneous transfer throughput
// for a migration job, using a small slice-backed sliding window per rate.
package metrics

import (
	"sync"
	"time"
)

// window is the width of the instantaneous-rate sliding window.
const window = 5 * time.Second

// sample is one (t, cumulative) observation in a sliding window.
type sample struct {
	at    time.Time
	value int64
}

// ring is a slice-backed sliding window of samples within the last
// `window` duration; old samples are dropped as new ones are appended.
type ring struct {
	samples []sample
}

func (r *ring) add(now time.Time, cumulative int64) {
	r.samples = append(r.samples, sample{at: now, value: cumulative})
	cut := now.Add(-window)
	i := 0
	for i < len(r.samples) && r.samples[i].at.Before(cut) {
		i++
	}
	if i > 0 {
		r.samples = append([]sample(nil), r.samples[i:]...)
	}
}

// rate returns (latest - oldest) / Δt over the retained window, or 0 if
// there are fewer than two samples or Δt is non-positive.
func (r *ring) rate() float64 {
	if len(r.samples) < 2 {
		return 0
	}
	first := r.samples[0]
	last := r.samples[len(r.samples)-1]
	dt := last.at.Sub(first.at).Seconds()
	if dt <= 0 {
		return 0
	}
	return float64(last.value-first.value) / dt
}

// Metrics accumulates totals and sliding-window rates across a whole job.
// Safe for concurrent use: the streaming copy engine's consumer goroutine
// records chunk completions while a CLI/UI goroutine polls Stats.
type Metrics struct {
	mu sync.Mutex

	start time.Time

	totalRows                 int64
	totalBytes                int64
	completedParts            int
	totalParts                int
	currentPartition          string
	currentPartitionRows      int64
	currentPartitionTotalRows int64

	rowsWindow  ring
	bytesWindow ring
}

// New starts a Metrics tracker for a job with totalPartitions known ahead
// of time (from the PartitionPlan).
func New(totalPartitions int) *Metrics {
	return &Metrics{start: time.Now(), totalParts: totalPartitions}
}

// StartPartition resets the current-partition counters behind the
// rows/total_rows partition-progress fraction.
func (m *Metrics) StartPartition(name string, totalRows int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.currentPartition = name
	m.currentPartitionRows = 0
	m.currentPartitionTotalRows = totalRows
}

// RecordChunk folds one completed chunk's rows/bytes into the cumulative
// totals and both sliding windows.
func (m *Metrics) RecordChunk(rows, bytes int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now()
	m.totalRows += rows
	m.totalBytes += bytes
	m.currentPartitionRows += rows
	m.rowsWindow.add(now, m.totalRows)
	m.bytesWindow.add(now, m.totalBytes)
}

// CompletePartition marks one more partition done toward total_partitions.
func (m *Metrics) CompletePartition() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.completedParts++
}

// Stats is the snapshot returned by GetStats.
type Stats struct {
	Elapsed                   time.Duration
	ETA                       time.Duration
	TotalProgress             float64
	PartitionProgress         float64
	AvgRowsPerSec             float64
	AvgMBPerSec               float64
	InstantRowsPerSec         float64
	InstantMBPerSec           float64
	CurrentPartition          string
	CurrentPartitionRows      int64
	CurrentPartitionTotalRows int64
	CompletedPartitions       int
	TotalPartitions           int
	TotalRows                 int64
	TotalBytes                int64
}

// GetStats computes the full snapshot, including an ETA guarded against a
// non-positive instantaneous rate.
func (m *Metrics) GetStats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()

	elapsed := time.Since(m.start)
	instantRows := m.rowsWindow.rate()
	instantBytes := m.bytesWindow.rate()

	var avgRows, avgMB float64
	if elapsed.Seconds() > 0 {
		avgRows = float64(m.totalRows) / elapsed.Seconds()
		avgMB = float64(m.totalBytes) / (1024 * 1024) / elapsed.Seconds()
	}

	var partitionProgress float64
	if m.currentPartitionTotalRows > 0 {
		partitionProgress = float64(m.currentPartitionRows) / float64(m.currentPartitionTotalRows)
	}

	var totalProgress float64
	if m.totalParts > 0 {
		totalProgress = (float64(m.completedParts) + partitionProgress) / float64(m.totalParts)
	}

	eta := estimateETA(m, instantRows)

	return Stats{
		Elapsed:                   elapsed,
		ETA:                       eta,
		TotalProgress:             totalProgress,
		PartitionProgress:         partitionProgress,
		AvgRowsPerSec:             avgRows,
		AvgMBPerSec:               avgMB,
		InstantRowsPerSec:         instantRows,
		InstantMBPerSec:           instantBytes / (1024 * 1024),
		CurrentPartition:          m.currentPartition,
		CurrentPartitionRows:      m.currentPartitionRows,
		CurrentPartitionTotalRows: m.currentPartitionTotalRows,
		CompletedPartitions:       m.completedParts,
		TotalPartitions:           m.totalParts,
		TotalRows:                 m.totalRows,
		TotalBytes:                m.totalBytes,
	}
}

// estimateETA is
// (remaining_in_current + remaining_partitions*current_partition_total_rows) / instant_rate.
func estimateETA(m *Metrics, instantRows float64) time.Duration {
	if instantRows <= 0 {
		return 0
	}

	remainingInCurrent := m.currentPartitionTotalRows - m.currentPartitionRows
	if remainingInCurrent < 0 {
		remainingInCurrent = 0
	}

	remainingPartitions := m.totalParts - m.completedParts - 1
	if remainingPartitions < 0 {
		remainingPartitions = 0
	}

	remainingRows := float64(remainingInCurrent) + float64(remainingPartitions)*float64(m.currentPartitionTotalRows)
	return time.Duration(remainingRows/instantRows) * time.Second
}

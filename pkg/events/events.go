// SPDX-License-Identifier: Apache-2.0

// Package events defines the emitter boundary between the migration core
// and any UI/CLI binding: a narrow interface wrapping pterm.DefaultLogger,
// with a no-op implementation for tests.
package events

import (
	"fmt"

	"github.com/pterm/pterm"

	"github.com/partmig/partmig/pkg/mask"
)

// Level is a log severity, matching the core's DEBUG..CRITICAL ladder.
type Level int

const (
	Debug Level = iota
	Info
	Success
	Warning
	Error
	Critical
)

func (l Level) String() string {
	switch l {
	case Debug:
		return "DEBUG"
	case Info:
		return "INFO"
	case Success:
		return "SUCCESS"
	case Warning:
		return "WARNING"
	case Error:
		return "ERROR"
	case Critical:
		return "CRITICAL"
	default:
		return "UNKNOWN"
	}
}

// Progress is the shape of a progress event.
type Progress struct {
	TotalProgress       float64
	PartitionProgress   float64
	CompletedPartitions int
	TotalPartitions     int
	CurrentPartition    string
	CurrentRows         int64
	SpeedRowsPerSec     float64
}

// Performance is the shape of a performance event.
type Performance struct {
	InstantRowsPerSec float64
	InstantMBPerSec   float64
	ETA               string
	Elapsed           string
	TotalRows         int64
	TotalMB           float64
	AvgRowsPerSec     float64
	AvgMBPerSec       float64
}

// Emitter is the boundary the migration core talks through. Any UI or CLI
// binding implements this to receive structured events; the core never
// prints directly.
type Emitter interface {
	Log(level Level, message string)
	Progress(p Progress)
	Performance(p Performance)
	ConnectionStatus(role string, ok bool, message string)
	// TruncateRequested asks whether to truncate an existing, non-empty
	// partition in "ask" truncate mode. The implementation must send
	// exactly one value on reply.
	TruncateRequested(partition string, existingRows int64, reply chan<- bool)
	Finished()
	Error(message string)
}

// PtermEmitter is the default Emitter, wrapping pterm.DefaultLogger.
type PtermEmitter struct {
	logger *pterm.Logger
}

func NewPterm() *PtermEmitter {
	return &PtermEmitter{logger: pterm.DefaultLogger.WithLevel(pterm.LogLevelTrace)}
}

func (e *PtermEmitter) Log(level Level, message string) {
	message = mask.Mask(message)
	switch level {
	case Debug:
		e.logger.Debug(message)
	case Info:
		e.logger.Info(message)
	case Success:
		pterm.Success.Println(message)
	case Warning:
		e.logger.Warn(message)
	case Error:
		e.logger.Error(message)
	case Critical:
		e.logger.Error(message, e.logger.ArgsFromMap(map[string]any{"critical": true}))
	}
}

func (e *PtermEmitter) Progress(p Progress) {
	pterm.Info.Printfln(
		"[%s] partition %d/%d (%s) %.1f%% total, %.1f%% partition, %d rows, %.0f rows/s",
		"progress", p.CompletedPartitions, p.TotalPartitions, p.CurrentPartition,
		p.TotalProgress*100, p.PartitionProgress*100, p.CurrentRows, p.SpeedRowsPerSec,
	)
}

func (e *PtermEmitter) Performance(p Performance) {
	pterm.Info.Printfln(
		"rate=%.0f rows/s (%0.2f MB/s) avg=%.0f rows/s eta=%s elapsed=%s total=%d rows (%.1f MB)",
		p.InstantRowsPerSec, p.InstantMBPerSec, p.AvgRowsPerSec, p.ETA, p.Elapsed, p.TotalRows, p.TotalMB,
	)
}

func (e *PtermEmitter) ConnectionStatus(role string, ok bool, message string) {
	if ok {
		pterm.Success.Printfln("%s connection ok: %s", role, mask.Mask(message))
		return
	}
	pterm.Error.Printfln("%s connection failed: %s", role, mask.Mask(message))
}

func (e *PtermEmitter) TruncateRequested(partition string, existingRows int64, reply chan<- bool) {
	result, _ := pterm.DefaultInteractiveConfirm.Show(
		fmt.Sprintf("partition %s has %d existing rows; truncate before copying?", partition, existingRows),
	)
	reply <- result
}

func (e *PtermEmitter) Finished() {
	pterm.Success.Println("migration finished")
}

func (e *PtermEmitter) Error(message string) {
	pterm.Error.Println(mask.Mask(message))
}

// Noop is a silent Emitter, used by tests and any caller that wants to
// drive the core without side effects.
type Noop struct{}

func NewNoop() *Noop { return &Noop{} }

func (Noop) Log(Level, string)                     {}
func (Noop) Progress(Progress)                     {}
func (Noop) Performance(Performance)               {}
func (Noop) ConnectionStatus(string, bool, string) {}
func (Noop) TruncateRequested(_ string, _ int64, reply chan<- bool) {
	reply <- true
}
func (Noop) Finished()    {}
func (Noop) Error(string) {}

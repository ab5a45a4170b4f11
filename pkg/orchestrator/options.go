// SPDX-License-Identifier: Apache-2.0

package orchestrator

import (
	"github.com/partmig/partmig/pkg/events"
	"github.com/partmig/partmig/pkg/pgversion"
	"github.com/partmig/partmig/pkg/tablecreator"
)

// ErrorStrategy controls what happens when a partition's copy fails.
type ErrorStrategy string

const (
	StopOnError          ErrorStrategy = "stop_on_error"
	SkipPartitionOnError ErrorStrategy = "skip_partition_on_error"
)

// options holds every Job tunable behind a functional-options constructor.
type options struct {
	compatMode    pgversion.CompatMode
	truncateMode  tablecreator.TruncateMode
	errorStrategy ErrorStrategy
	batchSize     int
	emitter       events.Emitter
	storePath     string
}

func defaultOptions() options {
	return options{
		compatMode:    pgversion.CompatAuto,
		truncateMode:  tablecreator.TruncateAuto,
		errorStrategy: SkipPartitionOnError,
		batchSize:     100_000,
		emitter:       events.NewNoop(),
	}
}

type Option func(*options)

// WithCompatMode forces a version family instead of auto-detecting it.
func WithCompatMode(mode pgversion.CompatMode) Option {
	return func(o *options) { o.compatMode = mode }
}

// WithTruncateMode controls what happens when a target partition is
// non-empty: auto-truncate or ask via the emitter.
func WithTruncateMode(mode tablecreator.TruncateMode) Option {
	return func(o *options) { o.truncateMode = mode }
}

// WithErrorStrategy controls whether a partition failure aborts the whole
// job or is skipped in favor of the next partition.
func WithErrorStrategy(strategy ErrorStrategy) Option {
	return func(o *options) { o.errorStrategy = strategy }
}

// WithBatchSize sets the COPY LIMIT / legacy INSERT page size.
func WithBatchSize(n int) Option {
	return func(o *options) { o.batchSize = n }
}

// WithEmitter sets the event sink; the default is a silent Noop.
func WithEmitter(e events.Emitter) Option {
	return func(o *options) { o.emitter = e }
}

// WithStorePath records a store file path in the options. Job does not
// open a store from it: New takes an already-opened Store.
func WithStorePath(path string) Option {
	return func(o *options) { o.storePath = path }
}

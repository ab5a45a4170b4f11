// SPDX-License-Identifier: Apache-2.0

// Package orchestrator is the per-job loop: it wires connopt, discovery,
// tablecreator, copyengine, metrics, and store together, sequencing one
// migration job from connection setup through per-partition copy to
// history finalization. The constructor takes functional options, and
// Pause/Resume/Stop delegate to an atomic controller shared with the
// copy engine.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/partmig/partmig/internal/connstr"
	"github.com/partmig/partmig/pkg/connopt"
	"github.com/partmig/partmig/pkg/copyengine"
	"github.com/partmig/partmig/pkg/discovery"
	"github.com/partmig/partmig/pkg/errkind"
	"github.com/partmig/partmig/pkg/events"
	"github.com/partmig/partmig/pkg/mask"
	"github.com/partmig/partmig/pkg/metrics"
	"github.com/partmig/partmig/pkg/pgversion"
	"github.com/partmig/partmig/pkg/store"
	"github.com/partmig/partmig/pkg/tablecreator"
	"github.com/partmig/partmig/pkg/tabletypes"
	"github.com/partmig/partmig/pkg/validate"
)

// chunkEmitInterval rate-limits performance events to at most 1 Hz.
const chunkEmitInterval = time.Second

// Job runs one migration end-to-end. It is not reusable across Run calls.
type Job struct {
	opts options

	sourceCfg connstr.Config
	targetCfg connstr.Config

	store   *store.Store
	emitter events.Emitter
	ctrl    *copyengine.Controller
	metrics *metrics.Metrics

	lastEmit time.Time
}

// New builds a Job against already-opened store and source/target
// connection configs. Callers own the Store's lifetime (Open/Close).
func New(st *store.Store, sourceCfg, targetCfg connstr.Config, opts ...Option) *Job {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}

	return &Job{
		opts:      o,
		sourceCfg: sourceCfg,
		targetCfg: targetCfg,
		store:     st,
		emitter:   o.emitter,
		ctrl:      copyengine.NewController(),
	}
}

func (j *Job) Pause()  { j.ctrl.Pause() }
func (j *Job) Resume() { j.ctrl.Resume() }
func (j *Job) Stop()   { j.ctrl.Stop() }

// Run drives one migration job for profileID over [startDate, endDate]
// across the given table-type codes.
// It returns the history_id the run was recorded under, whether or not
// it ultimately succeeded.
func (j *Job) Run(ctx context.Context, profileID string, startDate, endDate time.Time, codes []string) (string, error) {
	if ok, msg := validate.ConnectionConfig(j.sourceCfg); !ok {
		return "", errkind.New(errkind.Config, "source connection config: "+msg)
	}
	if ok, msg := validate.ConnectionConfig(j.targetCfg); !ok {
		return "", errkind.New(errkind.Config, "target connection config: "+msg)
	}
	if ok, msg := validate.DateRange(startDate, endDate); !ok {
		return "", errkind.New(errkind.Config, msg)
	}

	// the job-level option wins unless the caller already set a
	// per-connection compat mode and left the option at auto.
	if j.sourceCfg.CompatMode == "" || j.opts.compatMode != pgversion.CompatAuto {
		j.sourceCfg.CompatMode = string(j.opts.compatMode)
	}
	if j.targetCfg.CompatMode == "" || j.opts.compatMode != pgversion.CompatAuto {
		j.targetCfg.CompatMode = string(j.opts.compatMode)
	}

	source, err := connopt.Open(ctx, j.sourceCfg, connopt.Source)
	if err != nil {
		return "", errkind.Wrap(errkind.Connectivity, "open source connection", err)
	}
	defer source.DB.Close() //nolint:errcheck

	target, err := connopt.Open(ctx, j.targetCfg, connopt.Target)
	if err != nil {
		return "", errkind.Wrap(errkind.Connectivity, "open target connection", err)
	}
	defer target.DB.Close() //nolint:errcheck

	sourceOK, sourceMsg := connopt.ProbeCopyPrivilege(ctx, source.DB, false, source.Family)
	targetOK, targetMsg := connopt.ProbeCopyPrivilege(ctx, target.DB, true, target.Family)
	j.emitter.ConnectionStatus("source", sourceOK, sourceMsg)
	j.emitter.ConnectionStatus("target", targetOK, targetMsg)
	useLegacy := !sourceOK || !targetOK
	if useLegacy {
		j.emitter.Log(events.Warning, "COPY privilege unavailable on one or both connections; falling back to legacy INSERT transfer")
	}

	plan, err := discovery.Discover(ctx, source.DB, startDate, endDate, codes, j.emitter)
	if err != nil {
		return "", errkind.Wrap(errkind.Schema, "discover partitions", err)
	}

	now := time.Now()
	historyID, err := j.resumeOrCreateHistory(ctx, profileID, startDate, endDate, now, sourceOK, targetOK)
	if err != nil {
		return "", err
	}

	checkpoints, err := j.loadCheckpointMap(ctx, historyID)
	if err != nil {
		return historyID, err
	}

	var planRows int64
	for _, part := range plan {
		planRows += part.RowCount
	}
	_ = j.store.History.UpdateByID(ctx, historyID, func(h *store.History) error {
		h.TotalRows = planRows
		return nil
	})

	j.metrics = metrics.New(len(plan))
	creator := tablecreator.New(source.DB, target.DB, j.emitter)

	jobErr := j.runPlan(ctx, historyID, plan, checkpoints, source, target, creator, useLegacy)

	finalStatus := store.StatusCompleted
	if jobErr != nil {
		finalStatus = failureStatus(jobErr)
	}
	completedAt := time.Now()
	_ = j.store.History.UpdateByID(ctx, historyID, func(h *store.History) error {
		h.Status = finalStatus
		h.CompletedAt = &completedAt
		h.ProcessedRows = j.metrics.GetStats().TotalRows
		return nil
	})

	if jobErr != nil {
		j.persistLog(ctx, historyID, events.Error, jobErr.Error())
		j.emitter.Error(jobErr.Error())
		return historyID, jobErr
	}
	j.emitter.Finished()
	return historyID, nil
}

// persistLog writes a masked copy of a job-level log line to the store's
// logs table, alongside the emitter's live copy. Persistence failures are
// not allowed to take down the job.
func (j *Job) persistLog(ctx context.Context, historyID string, level events.Level, message string) {
	_ = j.store.Log.Create(ctx, store.LogEntry{
		ID:        uuid.NewString(),
		HistoryID: historyID,
		Level:     level.String(),
		Message:   mask.Mask(message),
		LoggedAt:  time.Now(),
	})
}

func (j *Job) runPlan(ctx context.Context, historyID string, plan discovery.Plan, checkpoints map[string]store.Checkpoint, source, target *connopt.Opened, creator *tablecreator.Creator, useLegacy bool) error {
	for _, part := range plan {
		if j.ctrl.IsStopped() {
			return errkind.Sentinel(errkind.Cancelled)
		}

		cp, hasCP := checkpoints[part.TableName]
		if hasCP && cp.Status == store.CheckpointCompleted {
			j.metrics.CompletePartition()
			continue
		}

		if err := j.migratePartition(ctx, historyID, part, cp, hasCP, source, target, creator, useLegacy); err != nil {
			if errors.Is(err, errkind.Sentinel(errkind.Cancelled)) {
				return err
			}
			if j.opts.errorStrategy == StopOnError {
				return err
			}
			msg := fmt.Sprintf("skipping partition %s: %v", part.TableName, err)
			j.emitter.Log(events.Warning, msg)
			j.persistLog(ctx, historyID, events.Warning, msg)
		}
		j.metrics.CompletePartition()
	}
	return nil
}

// migratePartition drives one partition from size estimate through
// destination readiness, checkpoint seeding, the copy loop, and the
// final checkpoint state.
func (j *Job) migratePartition(ctx context.Context, historyID string, part discovery.Descriptor, cp store.Checkpoint, hasCP bool, source, target *connopt.Opened, creator *tablecreator.Creator, useLegacy bool) error {
	size, err := connopt.EstimateTableSize(ctx, source.DB, part.TableName, source.Family)
	if err != nil {
		return errkind.Wrap(errkind.Schema, "estimate table size", err)
	}
	if !size.Exists {
		j.emitter.Log(events.Warning, fmt.Sprintf("source partition %s does not exist; skipping", part.TableName))
		return j.completeSkipped(ctx, historyID, part.TableName, cp, hasCP)
	}
	// discovery's COUNT(*) is exact; the reltuples estimate can read zero
	// on a never-analyzed table that still has rows.
	if part.RowCount == 0 {
		j.emitter.Log(events.Warning, fmt.Sprintf("source partition %s is empty; skipping", part.TableName))
		return j.completeSkipped(ctx, historyID, part.TableName, cp, hasCP)
	}

	if _, _, err := creator.EnsurePartitionReady(ctx, part, j.opts.truncateMode, j.confirmFunc()); err != nil {
		return err
	}

	cfg, err := tabletypes.Lookup(part.ParentName)
	if err != nil {
		return errkind.Wrap(errkind.Schema, "resolve table type", err)
	}

	copyMethod := store.CopyMethodCopy
	if useLegacy {
		copyMethod = store.CopyMethodInsert
	}

	lastKey, lastDate := "", ""
	if hasCP {
		lastKey, lastDate, _ = cp.ResumeKey()
	}

	if !hasCP {
		cp = store.Checkpoint{
			ID:            uuid.NewString(),
			HistoryID:     historyID,
			PartitionName: part.TableName,
			Status:        store.CheckpointRunning,
			CopyMethod:    copyMethod,
		}
		if err := j.store.Checkpoint.Create(ctx, cp); err != nil {
			return errkind.Wrap(errkind.Schema, "create checkpoint", err)
		}
	}

	j.metrics.StartPartition(part.TableName, part.RowCount)
	j.lastEmit = time.Time{}

	cpID := cp.ID
	onChunk := func(ctx context.Context, result copyengine.ChunkResult) error {
		return j.onChunk(ctx, cpID, result)
	}

	if useLegacy {
		legacyParams := copyengine.LegacyParams{
			SourceDB:   source.DB,
			TargetDB:   target.DB,
			Table:      part.TableName,
			Columns:    cfg.Columns,
			KeyColumn:  cfg.KeyColumn(),
			DateColumn: cfg.DateColumn,
			BatchSize:  j.opts.batchSize,
			LastKey:    lastKey,
			LastDate:   lastDate,
		}
		if err := copyengine.LegacyCopyPartition(ctx, legacyParams, j.ctrl, onChunk); err != nil {
			return j.failPartition(ctx, cpID, err)
		}
	} else {
		sourceStream, err := copyengine.OpenStreamConn(ctx, j.sourceCfg)
		if err != nil {
			return j.failPartition(ctx, cpID, err)
		}
		defer sourceStream.Close(ctx) //nolint:errcheck

		targetStream, err := copyengine.OpenStreamConn(ctx, j.targetCfg)
		if err != nil {
			return j.failPartition(ctx, cpID, err)
		}
		defer targetStream.Close(ctx) //nolint:errcheck

		params := copyengine.Params{
			SourceConn:      sourceStream,
			TargetConn:      targetStream,
			Table:           part.TableName,
			Code:            cfg.Code,
			Columns:         cfg.Columns,
			KeyColumn:       cfg.KeyColumn(),
			DateColumn:      cfg.DateColumn,
			DateIsTimestamp: cfg.DateIsTimestamp,
			BatchSize:       j.opts.batchSize,
			Templates:       pgversion.TemplatesFor(source.Family),
			LastKey:         lastKey,
			LastDate:        lastDate,
		}

		if err := copyengine.CopyPartition(ctx, params, j.ctrl, onChunk); err != nil {
			return j.failPartition(ctx, cpID, err)
		}
	}

	return j.store.Checkpoint.UpdateByID(ctx, cpID, func(c *store.Checkpoint) error {
		c.Status = store.CheckpointCompleted
		c.ErrorMessage = ""
		return nil
	})
}

func (j *Job) onChunk(ctx context.Context, checkpointID string, result copyengine.ChunkResult) error {
	j.metrics.RecordChunk(result.RowsCopied, result.BytesCopied)

	err := j.store.Checkpoint.UpdateByID(ctx, checkpointID, func(c *store.Checkpoint) error {
		c.Status = store.CheckpointRunning
		c.RowsProcessed += result.RowsCopied
		c.LastKey = result.LastKey
		c.LastDate = result.LastDate
		c.BytesTransferred += result.BytesCopied
		if c.CopyMethod == "" {
			c.CopyMethod = store.CopyMethodCopy
		}
		return nil
	})
	if err != nil {
		return err
	}

	j.emitProgress()
	return nil
}

func (j *Job) emitProgress() {
	now := time.Now()
	if !j.lastEmit.IsZero() && now.Sub(j.lastEmit) < chunkEmitInterval {
		return
	}
	j.lastEmit = now

	stats := j.metrics.GetStats()
	j.emitter.Progress(events.Progress{
		TotalProgress:       stats.TotalProgress,
		PartitionProgress:   stats.PartitionProgress,
		CompletedPartitions: stats.CompletedPartitions,
		TotalPartitions:     stats.TotalPartitions,
		CurrentPartition:    stats.CurrentPartition,
		CurrentRows:         stats.CurrentPartitionRows,
		SpeedRowsPerSec:     stats.InstantRowsPerSec,
	})
	j.emitter.Performance(events.Performance{
		InstantRowsPerSec: stats.InstantRowsPerSec,
		InstantMBPerSec:   stats.InstantMBPerSec,
		ETA:               stats.ETA.String(),
		Elapsed:           stats.Elapsed.String(),
		TotalRows:         stats.TotalRows,
		TotalMB:           float64(stats.TotalBytes) / (1024 * 1024),
		AvgRowsPerSec:     stats.AvgRowsPerSec,
		AvgMBPerSec:       stats.AvgMBPerSec,
	})
}

// completeSkipped records a missing or empty source partition as a
// completed checkpoint with zero rows, so a resumed job skips it without
// re-probing the source.
func (j *Job) completeSkipped(ctx context.Context, historyID, partitionName string, cp store.Checkpoint, hasCP bool) error {
	if hasCP {
		return j.store.Checkpoint.UpdateByID(ctx, cp.ID, func(c *store.Checkpoint) error {
			c.Status = store.CheckpointCompleted
			return nil
		})
	}
	return j.store.Checkpoint.Create(ctx, store.Checkpoint{
		ID:            uuid.NewString(),
		HistoryID:     historyID,
		PartitionName: partitionName,
		Status:        store.CheckpointCompleted,
		CopyMethod:    store.CopyMethodCopy,
	})
}

func (j *Job) failPartition(ctx context.Context, checkpointID string, cause error) error {
	_ = j.store.Checkpoint.UpdateByID(ctx, checkpointID, func(c *store.Checkpoint) error {
		c.Status = store.CheckpointFailed
		c.ErrorMessage = cause.Error()
		return nil
	})
	return cause
}

// resumeOrCreateHistory finds the most recent running/failed History for
// profileID and reuses it so a restarted job picks up the prior run's
// checkpoints instead of re-copying every partition from scratch. Only
// when no incomplete History exists is a new one created.
func (j *Job) resumeOrCreateHistory(ctx context.Context, profileID string, startDate, endDate, now time.Time, sourceOK, targetOK bool) (string, error) {
	existing, err := j.store.History.GetIncompleteByProfile(ctx, profileID)
	switch {
	case err == nil:
		historyID := existing.ID
		updateErr := j.store.History.UpdateByID(ctx, historyID, func(h *store.History) error {
			h.Status = store.StatusRunning
			h.SourceConnectionStatus = connectionStatusLabel(sourceOK)
			h.TargetConnectionStatus = connectionStatusLabel(targetOK)
			h.ConnectionCheckTime = &now
			return nil
		})
		if updateErr != nil {
			return "", errkind.Wrap(errkind.Config, "resume history", updateErr)
		}
		j.emitter.Log(events.Info, fmt.Sprintf("resuming incomplete migration history %s", historyID))
		return historyID, nil

	case errors.Is(err, store.ErrNotFound):
		historyID := uuid.NewString()
		history := store.History{
			ID:                     historyID,
			ProfileID:              profileID,
			StartDate:              startDate.Format("2006-01-02"),
			EndDate:                endDate.Format("2006-01-02"),
			StartedAt:              now,
			Status:                 store.StatusRunning,
			SourceConnectionStatus: connectionStatusLabel(sourceOK),
			TargetConnectionStatus: connectionStatusLabel(targetOK),
			ConnectionCheckTime:    &now,
		}
		if err := j.store.History.Create(ctx, history); err != nil {
			return "", errkind.Wrap(errkind.Config, "record history", err)
		}
		return historyID, nil

	default:
		return "", errkind.Wrap(errkind.Config, "look up incomplete history", err)
	}
}

func (j *Job) loadCheckpointMap(ctx context.Context, historyID string) (map[string]store.Checkpoint, error) {
	existing, err := j.store.Checkpoint.GetByHistory(ctx, historyID)
	if err != nil {
		return nil, errkind.Wrap(errkind.Schema, "load checkpoints", err)
	}
	m := make(map[string]store.Checkpoint, len(existing))
	for _, c := range existing {
		m[c.PartitionName] = c
	}
	return m, nil
}

func (j *Job) confirmFunc() tablecreator.ConfirmFunc {
	return func(partition string, existingRows int64) bool {
		reply := make(chan bool, 1)
		j.emitter.TruncateRequested(partition, existingRows, reply)
		return <-reply
	}
}

func connectionStatusLabel(ok bool) string {
	if ok {
		return "ok"
	}
	return "failed"
}

func failureStatus(err error) string {
	if errors.Is(err, errkind.Sentinel(errkind.Cancelled)) {
		return store.StatusCancelled
	}
	return store.StatusFailed
}

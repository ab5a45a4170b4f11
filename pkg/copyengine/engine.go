// SPDX-License-Identifier: Apache-2.0

package copyengine

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/lib/pq"

	"github.com/partmig/partmig/pkg/errkind"
	"github.com/partmig/partmig/pkg/pgversion"
)

// ChunkResult is what one COPY-OUT/COPY-IN round produced. Rows and bytes
// come from the tracker observing the CSV stream itself, never from the
// driver's command tag and never from a COUNT(*).
type ChunkResult struct {
	RowsCopied  int64
	BytesCopied int64
	LastKey     string
	LastDate    string
}

// RunChunk streams one LIMIT-bounded COPY batch from sourceConn to
// targetConn through a bounded byte-chunk channel. The consumer's
// COPY FROM STDIN runs inside its own transaction, so a chunk either
// lands in full or not at all.
func RunChunk(ctx context.Context, sourceConn *pgx.Conn, targetConn *pgx.Conn, copyToSQL, copyFromSQL string) (ChunkResult, error) {
	pipe := newChunkPipe()
	tracker := &rowTracker{}
	tee := &teeWriter{pipe: pipe, tracker: tracker}

	producerErr := make(chan error, 1)
	go func() {
		defer pipe.closeWrite()
		_, err := sourceConn.PgConn().CopyTo(ctx, tee, copyToSQL)
		if err != nil {
			pipe.abort()
		}
		producerErr <- err
	}()

	tx, err := targetConn.Begin(ctx)
	if err != nil {
		pipe.abort()
		<-producerErr
		return ChunkResult{}, errkind.Wrap(errkind.Transfer, "begin target transaction", err)
	}

	reader := &chunkReader{pipe: pipe}
	_, copyErr := tx.Conn().PgConn().CopyFrom(ctx, reader, copyFromSQL)
	if copyErr != nil {
		pipe.abort()
		<-producerErr
		tx.Rollback(ctx) //nolint:errcheck
		return ChunkResult{}, errkind.Wrap(errkind.Transfer, "consumer COPY FROM STDIN failed", copyErr)
	}

	pErr := <-producerErr
	if pErr != nil {
		tx.Rollback(ctx) //nolint:errcheck
		return ChunkResult{}, errkind.Wrap(errkind.Transfer, "producer COPY TO STDOUT failed", pErr)
	}

	if err := tx.Commit(ctx); err != nil {
		return ChunkResult{}, errkind.Wrap(errkind.Transfer, "commit chunk transaction", err)
	}

	tracker.finish()
	return ChunkResult{
		RowsCopied:  tracker.rows,
		BytesCopied: tracker.bytesTotal,
		LastKey:     tracker.lastKey,
		LastDate:    tracker.lastDate,
	}, nil
}

// teeWriter forwards bytes to the chunk pipe while tracking rows/bytes on
// the same stream, so the two views can never disagree.
type teeWriter struct {
	pipe    *chunkPipe
	tracker *rowTracker
}

func (t *teeWriter) Write(b []byte) (int, error) {
	t.tracker.observe(b)
	return t.pipe.Write(b)
}

// Controller is the pause/cancel flag the orchestrator toggles and the
// engine checks at chunk boundaries; pause and stop both take effect at
// a boundary, never mid-chunk.
type Controller struct {
	paused  int32
	stopped int32
}

func NewController() *Controller { return &Controller{} }

func (c *Controller) Pause()  { atomic.StoreInt32(&c.paused, 1) }
func (c *Controller) Resume() { atomic.StoreInt32(&c.paused, 0) }
func (c *Controller) Stop()   { atomic.StoreInt32(&c.stopped, 1) }

func (c *Controller) IsPaused() bool  { return atomic.LoadInt32(&c.paused) == 1 }
func (c *Controller) IsStopped() bool { return atomic.LoadInt32(&c.stopped) == 1 }

// pausePollInterval is how often the engine re-checks Controller.IsPaused
// while parked.
const pausePollInterval = 100 * time.Millisecond

// Params is everything CopyPartition needs for one partition's full
// transfer: the dedicated source/target connections, the child table's
// column layout, and where to resume from.
type Params struct {
	SourceConn *pgx.Conn
	TargetConn *pgx.Conn

	Table           string
	Code            string // tabletypes.Config.Code, e.g. "PH"
	Columns         []string
	KeyColumn       string
	DateColumn      string
	DateIsTimestamp bool

	BatchSize int
	Templates pgversion.Templates

	LastKey  string
	LastDate string
}

// ChunkCallback is invoked after each successful chunk, before the next
// one starts, so the caller can persist the new checkpoint and update
// metrics at a chunk boundary (the only point a resume is ever safe from).
type ChunkCallback func(ctx context.Context, result ChunkResult) error

// CopyPartition drives one partition to completion: it repeats RunChunk
// with an advancing resume predicate until a chunk returns zero rows,
// honoring ctrl's pause/stop flags between chunks.
func CopyPartition(ctx context.Context, p Params, ctrl *Controller, onChunk ChunkCallback) error {
	lastKey, lastDate := p.LastKey, p.LastDate
	columns := strings.Join(p.Columns, ", ")
	quotedTable := pq.QuoteIdentifier(p.Table)

	for {
		if err := waitWhilePaused(ctx, ctrl); err != nil {
			return err
		}

		where := ResumePredicate(p.KeyColumn, p.DateColumn, lastKey, lastDate, p.DateIsTimestamp)
		copyToSQL := pgversion.BuildCopyTo(p.Templates, copyToColumns(p), quotedTable, where, p.KeyColumn, p.DateColumn, p.BatchSize)
		copyFromSQL := fmt.Sprintf("COPY %s (%s) FROM STDIN WITH (FORMAT CSV, HEADER FALSE, NULL 'NULL')", quotedTable, columns)

		result, err := RunChunk(ctx, p.SourceConn, p.TargetConn, copyToSQL, copyFromSQL)
		if err != nil {
			return err
		}

		if result.RowsCopied == 0 {
			return nil
		}

		if err := onChunk(ctx, result); err != nil {
			return err
		}

		lastKey, lastDate = result.LastKey, result.LastDate
	}
}

func waitWhilePaused(ctx context.Context, ctrl *Controller) error {
	if ctrl.IsStopped() {
		return errkind.Sentinel(errkind.Cancelled)
	}
	for ctrl.IsPaused() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(pausePollInterval):
		}
		if ctrl.IsStopped() {
			return errkind.Sentinel(errkind.Cancelled)
		}
	}
	return nil
}

// copyToColumns builds the SELECT column list for COPY OUT. point_history
// projects its last column as COALESCE(connection_status::text, 'true'),
// since older partitions predate that column.
func copyToColumns(p Params) string {
	if p.Code != "PH" || len(p.Columns) == 0 {
		return strings.Join(p.Columns, ", ")
	}
	cols := append([]string(nil), p.Columns[:len(p.Columns)-1]...)
	last := p.Columns[len(p.Columns)-1]
	cols = append(cols, fmt.Sprintf("COALESCE(%s::text, 'true') AS %s", last, last))
	return strings.Join(cols, ", ")
}

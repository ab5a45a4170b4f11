// SPDX-License-Identifier: Apache-2.0

package copyengine

import (
	"context"

	"github.com/jackc/pgx/v5"

	"github.com/partmig/partmig/internal/connstr"
	"github.com/partmig/partmig/pkg/errkind"
)

// OpenStreamConn opens a dedicated pgx connection for raw COPY protocol
// access. lib/pq's CopyIn re-encodes Go values row by row; it cannot
// forward an opaque byte stream the way pgconn.CopyTo/CopyFrom do, so the
// engine holds its own connections separate from the db.RDB ones every
// other component uses for admin/DDL/catalog work.
func OpenStreamConn(ctx context.Context, cfg connstr.Config) (*pgx.Conn, error) {
	dsn, err := connstr.AppendStatementTimeoutZero(connstr.Build(cfg))
	if err != nil {
		return nil, errkind.Wrap(errkind.Connectivity, "build stream dsn", err)
	}

	conn, err := pgx.Connect(ctx, dsn)
	if err != nil {
		return nil, errkind.Wrap(errkind.Connectivity, "open dedicated copy connection", err)
	}
	return conn, nil
}

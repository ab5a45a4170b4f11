// SPDX-License-Identifier: Apache-2.0

package connopt

import (
	"context"
	"errors"
	"net"
	"testing"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/partmig/partmig/internal/connstr"
	"github.com/partmig/partmig/pkg/db"
	"github.com/partmig/partmig/pkg/pgversion"
)

func TestClassifyProbeErrorDNS(t *testing.T) {
	err := &net.DNSError{Err: "no such host", Name: "nope.invalid", IsNotFound: true}
	cat, _ := classifyProbeError(err)
	assert.Equal(t, CategoryHostNotFound, cat)
}

func TestClassifyProbeErrorTimeout(t *testing.T) {
	cat, _ := classifyProbeError(context.DeadlineExceeded)
	assert.Equal(t, CategoryTimeout, cat)
}

func TestClassifyProbeErrorAuth(t *testing.T) {
	err := &pq.Error{Code: "28P01", Message: "password authentication failed"}
	cat, _ := classifyProbeError(err)
	assert.Equal(t, CategoryAuthFailed, cat)
}

func TestClassifyProbeErrorDatabaseNotFound(t *testing.T) {
	err := &pq.Error{Code: "3D000", Message: "database does not exist"}
	cat, _ := classifyProbeError(err)
	assert.Equal(t, CategoryDatabaseNotFound, cat)
}

func TestClassifyProbeErrorPermissionDenied(t *testing.T) {
	err := &pq.Error{Code: "42501", Message: "permission denied"}
	cat, _ := classifyProbeError(err)
	assert.Equal(t, CategoryPermissionDenied, cat)
}

func TestClassifyProbeErrorOther(t *testing.T) {
	cat, _ := classifyProbeError(errors.New("connection refused"))
	assert.Equal(t, CategoryOther, cat)
}

func TestQuickProbeBadHostIsClassified(t *testing.T) {
	cfg := connstr.Config{Host: "partmig-nonexistent-host.invalid", Port: 5432, Database: "db"}
	cat, msg := QuickProbe(cfg)
	assert.NotEqual(t, CategoryOK, cat)
	assert.NotEmpty(t, msg)
}

func TestProbeCopyPrivilegeTrueViaRoleMembership(t *testing.T) {
	conn, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer conn.Close()

	mock.ExpectQuery("pg_roles").WillReturnRows(sqlmock.NewRows([]string{"privileged"}).AddRow(true))

	ok, msg := ProbeCopyPrivilege(context.Background(), &db.RDB{DB: conn}, false, pgversion.PG16)
	assert.True(t, ok)
	assert.Contains(t, msg, "role membership")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestProbeCopyPrivilegeTrueViaCopyProbe(t *testing.T) {
	conn, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer conn.Close()

	mock.ExpectQuery("pg_roles").WillReturnRows(sqlmock.NewRows([]string{"privileged"}).AddRow(false))
	mock.ExpectBegin()
	mock.ExpectExec("CREATE TEMP TABLE partmig_copy_probe").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("COPY partmig_copy_probe FROM STDIN").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	ok, msg := ProbeCopyPrivilege(context.Background(), &db.RDB{DB: conn}, true, pgversion.PG16)
	assert.True(t, ok)
	assert.Contains(t, msg, "probe succeeded")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestProbeCopyPrivilegeFalseWhenCopyDenied(t *testing.T) {
	conn, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer conn.Close()

	mock.ExpectQuery("pg_roles").WillReturnRows(sqlmock.NewRows([]string{"privileged"}).AddRow(false))
	mock.ExpectBegin()
	mock.ExpectExec("CREATE TEMP TABLE partmig_copy_probe").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("COPY partmig_copy_probe FROM STDIN").WillReturnError(&pq.Error{Code: "42501", Message: "permission denied"})
	mock.ExpectRollback()

	ok, msg := ProbeCopyPrivilege(context.Background(), &db.RDB{DB: conn}, true, pgversion.PG16)
	assert.False(t, ok)
	assert.Contains(t, msg, "COPY probe failed")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEstimateTableSizeMissingTable(t *testing.T) {
	conn, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer conn.Close()

	mock.ExpectQuery("information_schema.tables").WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))

	size, err := EstimateTableSize(context.Background(), &db.RDB{DB: conn}, "point_history_240115", pgversion.PG16)
	require.NoError(t, err)
	assert.False(t, size.Exists)
	require.NoError(t, mock.ExpectationsWereMet())
}

package repository

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vitalmesh/gateway/internal/models"
)

func newAuditRepoMock(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	sqlxDB := sqlx.NewDb(db, "postgres")
	return sqlxDB, mock, func() {
		sqlxDB.Close()
		db.Close()
	}
}

func TestAuditRepositoryCreate(t *testing.T) {
	db, mock, cleanup := newAuditRepoMock(t)
	defer cleanup()

	repo := NewAuditRepository(db)
	mock.ExpectExec("INSERT INTO audit_logs").
		WithArgs(sqlmock.AnyArg(), sqlmock.AnyArg(), "canary.replace", "canary_config", sqlmock.AnyArg(), "203.0.113.7", "curl/8.0", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))

	userID := "u-1"
	log := &models.AuditLog{
		UserID:    &userID,
		Action:    "canary.replace",
		Resource:  "canary_config",
		Payload:   json.RawMessage(`{"service":"knowledge"}`),
		IPAddress: "203.0.113.7",
		UserAgent: "curl/8.0",
	}

	err := repo.Create(context.Background(), log)
	require.NoError(t, err)
	assert.NotEmpty(t, log.ID, "missing IDs are generated")
	assert.False(t, log.CreatedAt.IsZero(), "missing timestamps are filled in")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAuditRepositoryListRecent(t *testing.T) {
	db, mock, cleanup := newAuditRepoMock(t)
	defer cleanup()

	repo := NewAuditRepository(db)
	rows := sqlmock.NewRows([]string{"id", "user_id", "action", "resource", "payload", "ip_address", "user_agent", "created_at"}).
		AddRow("log-1", nil, "breaker.reset", "breaker", []byte(`{}`), "10.0.0.1", "curl/8.0", time.Now())
	mock.ExpectQuery("SELECT id, user_id, action").
		WithArgs(10).
		WillReturnRows(rows)

	logs, err := repo.ListRecent(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, "breaker.reset", logs[0].Action)
	assert.NoError(t, mock.ExpectationsWereMet())
}

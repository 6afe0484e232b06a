package repository

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/gatewarden/gatewarden/internal/model"
)

func auditRows() *sqlmock.Rows {
	return sqlmock.NewRows([]string{
		"id", "user_id", "action", "resource", "success", "reason",
		"ip_address", "user_agent", "metadata", "created_at",
	})
}

func TestAuditQueryNoFilter(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewAuditRepository(db)

	mock.ExpectQuery(`FROM audit_entries`).
		WithArgs(1000).
		WillReturnRows(auditRows().
			AddRow("01A", "user_1", "auth.login", nil, true, "", nil, nil, []byte(`{"k":"v"}`), time.Now()))

	entries, err := repo.Query(context.Background(), model.AuditFilter{})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("entries = %d, want 1", len(entries))
	}
	if entries[0].Metadata["k"] != "v" {
		t.Fatalf("metadata not parsed: %+v", entries[0].Metadata)
	}
}

func TestAuditQueryBuildsConjunctiveFilter(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewAuditRepository(db)

	success := false
	from := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	filter := model.AuditFilter{
		UserID:  "user_1",
		Action:  model.AuditActionLoginFailed,
		Success: &success,
		From:    from,
		Limit:   50,
		Offset:  100,
	}

	// Placeholders number in filter order, then limit and offset.
	mock.ExpectQuery(`WHERE user_id = \$1 AND action = \$2 AND success = \$3 AND created_at >= \$4 ORDER BY created_at DESC LIMIT \$5 OFFSET \$6`).
		WithArgs("user_1", model.AuditActionLoginFailed, false, from, 50, 100).
		WillReturnRows(auditRows())

	if _, err := repo.Query(context.Background(), filter); err != nil {
		t.Fatalf("Query: %v", err)
	}
}

func TestAuditQueryClampsLimit(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewAuditRepository(db)

	mock.ExpectQuery(`FROM audit_entries`).
		WithArgs(1000).
		WillReturnRows(auditRows())

	if _, err := repo.Query(context.Background(), model.AuditFilter{Limit: 100000}); err != nil {
		t.Fatalf("Query: %v", err)
	}
}

func TestCountByUserAction(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewAuditRepository(db)

	since := time.Now().Add(-15 * time.Minute)
	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM audit_entries`).
		WithArgs("user_1", model.AuditActionLoginFailed, since).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(4))

	count, err := repo.CountByUserAction(context.Background(), "user_1", model.AuditActionLoginFailed, since)
	if err != nil {
		t.Fatalf("CountByUserAction: %v", err)
	}
	if count != 4 {
		t.Fatalf("count = %d, want 4", count)
	}
}

func TestListIDsByUserAction(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewAuditRepository(db)

	since := time.Now().Add(-15 * time.Minute)
	mock.ExpectQuery(`SELECT id FROM audit_entries`).
		WithArgs("user_1", model.AuditActionLoginFailed, since).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("01A").AddRow("01B"))

	ids, err := repo.ListIDsByUserAction(context.Background(), "user_1", model.AuditActionLoginFailed, since)
	if err != nil {
		t.Fatalf("ListIDsByUserAction: %v", err)
	}
	if len(ids) != 2 || ids[0] != "01A" || ids[1] != "01B" {
		t.Fatalf("ids = %v", ids)
	}
}

package postgres

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/kirillkom/canopy-survey/internal/core/domain"
)

func newRepoWithMock(t *testing.T) (*SurveyRepository, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return NewSurveyRepository(db), mock
}

func surveyRows() *sqlmock.Rows {
	return sqlmock.NewRows([]string{
		"id", "field_id", "filename", "storage_path", "size_bytes", "capture_date", "source", "status", "error_message",
		"tree_count", "trees_per_acre", "average_ndvi", "canopy_coverage_percent", "average_confidence", "created_at", "updated_at",
	})
}

func TestGetByIDReturnsDomainNotFound(t *testing.T) {
	repo, mock := newRepoWithMock(t)

	mock.ExpectQuery("SELECT id, field_id, filename").
		WithArgs("missing").
		WillReturnError(sql.ErrNoRows)

	_, err := repo.GetByID(context.Background(), "missing")
	if !domain.IsKind(err, domain.ErrSurveyNotFound) {
		t.Fatalf("expected ErrSurveyNotFound, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestListByFieldScansNullableColumns(t *testing.T) {
	repo, mock := newRepoWithMock(t)
	now := time.Now().UTC()

	rows := surveyRows().
		AddRow("s-2", "f-1", "b.tif", "s-2_b.tif", int64(2048), "2024-03-01", "drone", "completed", nil,
			int64(120), 48.5, 0.71, 63.0, 0.88, now, now).
		AddRow("s-1", "f-1", "a.tif", "s-1_a.tif", int64(1024), nil, nil, "failed", "tiling failed",
			int64(7), nil, nil, nil, nil, now, now)
	mock.ExpectQuery("FROM surveys").
		WithArgs("f-1").
		WillReturnRows(rows)

	surveys, err := repo.ListByField(context.Background(), "f-1")
	if err != nil {
		t.Fatalf("ListByField() error = %v", err)
	}
	if len(surveys) != 2 {
		t.Fatalf("expected 2 surveys, got %d", len(surveys))
	}
	completed := surveys[0]
	if completed.TreeCount == nil || *completed.TreeCount != 120 || completed.CaptureDate != "2024-03-01" {
		t.Fatalf("unexpected completed survey: %+v", completed)
	}
	failed := surveys[1]
	if failed.ErrorMessage != "tiling failed" {
		t.Fatalf("expected error message, got %q", failed.ErrorMessage)
	}
	if failed.HasSummary() {
		t.Fatalf("failed survey must not carry summary scalars: %+v", failed)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestTransitionStatusIsConditional(t *testing.T) {
	repo, mock := newRepoWithMock(t)

	mock.ExpectExec("UPDATE surveys").
		WithArgs("s-1", "processing", nil, sqlmock.AnyArg(), "pending", "failed").
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.TransitionStatus(context.Background(), "s-1",
		[]domain.SurveyStatus{domain.SurveyPending, domain.SurveyFailed}, domain.SurveyProcessing, "")
	if err != nil {
		t.Fatalf("TransitionStatus() error = %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestTransitionStatusReportsConflictForWrongStatus(t *testing.T) {
	repo, mock := newRepoWithMock(t)

	mock.ExpectExec("UPDATE surveys").
		WithArgs("s-1", "processing", nil, sqlmock.AnyArg(), "pending", "failed").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT status FROM surveys").
		WithArgs("s-1").
		WillReturnRows(sqlmock.NewRows([]string{"status"}).AddRow("completed"))

	err := repo.TransitionStatus(context.Background(), "s-1",
		[]domain.SurveyStatus{domain.SurveyPending, domain.SurveyFailed}, domain.SurveyProcessing, "")
	if !domain.IsKind(err, domain.ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestTransitionStatusReportsNotFound(t *testing.T) {
	repo, mock := newRepoWithMock(t)

	mock.ExpectExec("UPDATE surveys").
		WithArgs("missing", "failed", "boom", sqlmock.AnyArg(), "processing").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT status FROM surveys").
		WithArgs("missing").
		WillReturnError(sql.ErrNoRows)

	err := repo.TransitionStatus(context.Background(), "missing",
		[]domain.SurveyStatus{domain.SurveyProcessing}, domain.SurveyFailed, "boom")
	if !domain.IsKind(err, domain.ErrSurveyNotFound) {
		t.Fatalf("expected ErrSurveyNotFound, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestSaveResultsReplacesTreesAndSummaryInOneTransaction(t *testing.T) {
	repo, mock := newRepoWithMock(t)
	count := 2
	survey := &domain.Survey{ID: "s-1", Status: domain.SurveyCompleted, TreeCount: &count, UpdatedAt: time.Now().UTC()}

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE surveys").
		WithArgs("s-1", "completed", int64(2), nil, nil, nil, nil, sqlmock.AnyArg(), "processing").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("DELETE FROM survey_trees").
		WithArgs("s-1").
		WillReturnResult(sqlmock.NewResult(0, 5))
	prep := mock.ExpectPrepare("INSERT INTO survey_trees")
	prep.ExpectExec().WithArgs("s-1", 0, sqlmock.AnyArg()).WillReturnResult(sqlmock.NewResult(0, 1))
	prep.ExpectExec().WithArgs("s-1", 1, sqlmock.AnyArg()).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO survey_summaries").
		WithArgs("s-1", sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := repo.SaveResults(context.Background(), survey,
		[]domain.RawRecord{{"lat": 1.0, "lng": 2.0}, {"lat": 1.1, "lng": 2.1}},
		domain.RawRecord{"total_trees": 2},
	)
	if err != nil {
		t.Fatalf("SaveResults() error = %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestSaveResultsRollsBackWhenSurveyNotProcessing(t *testing.T) {
	repo, mock := newRepoWithMock(t)
	survey := &domain.Survey{ID: "s-1", UpdatedAt: time.Now().UTC()}

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE surveys").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	err := repo.SaveResults(context.Background(), survey, nil, domain.RawRecord{})
	if !domain.IsKind(err, domain.ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestDeleteReturnsNotFoundWhenNoRowsAffected(t *testing.T) {
	repo, mock := newRepoWithMock(t)

	mock.ExpectExec("DELETE FROM surveys").
		WithArgs("missing").
		WillReturnResult(sqlmock.NewResult(0, 0))

	if err := repo.Delete(context.Background(), "missing"); !domain.IsKind(err, domain.ErrSurveyNotFound) {
		t.Fatalf("expected ErrSurveyNotFound, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestListTreesKeepsStoredOrder(t *testing.T) {
	repo, mock := newRepoWithMock(t)

	mock.ExpectQuery("FROM survey_trees").
		WithArgs("s-1").
		WillReturnRows(sqlmock.NewRows([]string{"payload"}).
			AddRow([]byte(`{"tree_id":"a","lat":1,"lng":2}`)).
			AddRow([]byte(`{"tree_id":"b","lat":3,"lng":4}`)))

	trees, err := repo.ListTrees(context.Background(), "s-1")
	if err != nil {
		t.Fatalf("ListTrees() error = %v", err)
	}
	if len(trees) != 2 || trees[0]["tree_id"] != "a" || trees[1]["tree_id"] != "b" {
		t.Fatalf("unexpected trees: %v", trees)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

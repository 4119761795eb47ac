package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/kirillkom/canopy-survey/internal/core/domain"
)

type SurveyRepository struct {
	db *sql.DB
}

func NewSurveyRepository(db *sql.DB) *SurveyRepository {
	return &SurveyRepository{db: db}
}

const surveyColumns = `id, field_id, filename, storage_path, size_bytes, capture_date, source, status, error_message,
	tree_count, trees_per_acre, average_ndvi, canopy_coverage_percent, average_confidence, created_at, updated_at`

func (r *SurveyRepository) Create(ctx context.Context, survey *domain.Survey) error {
	_, err := r.db.ExecContext(ctx, `
INSERT INTO surveys (
	id, field_id, filename, storage_path, size_bytes, capture_date, source, status, error_message, created_at, updated_at
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
`,
		survey.ID, survey.FieldID, survey.Filename, survey.StoragePath, survey.SizeBytes,
		nullString(survey.CaptureDate), nullString(survey.Source), string(survey.Status),
		nullString(survey.ErrorMessage), survey.CreatedAt, survey.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert survey: %w", err)
	}
	return nil
}

func (r *SurveyRepository) GetByID(ctx context.Context, id string) (*domain.Survey, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+surveyColumns+` FROM surveys WHERE id = $1`, id)
	survey, err := scanSurvey(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.WrapError(domain.ErrSurveyNotFound, "get survey", fmt.Errorf("id=%s", id))
		}
		return nil, fmt.Errorf("scan survey: %w", err)
	}
	return survey, nil
}

// ListByField returns the surveys of a field, newest first.
func (r *SurveyRepository) ListByField(ctx context.Context, fieldID string) ([]domain.Survey, error) {
	rows, err := r.db.QueryContext(ctx, `
SELECT `+surveyColumns+`
FROM surveys
WHERE field_id = $1
ORDER BY created_at DESC, id
`, fieldID)
	if err != nil {
		return nil, fmt.Errorf("query surveys: %w", err)
	}
	defer rows.Close()

	surveys := make([]domain.Survey, 0)
	for rows.Next() {
		survey, err := scanSurvey(rows)
		if err != nil {
			return nil, fmt.Errorf("scan survey: %w", err)
		}
		surveys = append(surveys, *survey)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate surveys: %w", err)
	}
	return surveys, nil
}

// Delete removes a survey; trees and summary go with it through ON DELETE CASCADE.
func (r *SurveyRepository) Delete(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM surveys WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete survey: %w", err)
	}
	return requireAffected(res, "delete survey", id)
}

func (r *SurveyRepository) TransitionStatus(
	ctx context.Context,
	id string,
	from []domain.SurveyStatus,
	to domain.SurveyStatus,
	errMessage string,
) error {
	if len(from) == 0 {
		return domain.WrapError(domain.ErrInvalidInput, "transition survey", errors.New("no source status"))
	}
	args := []any{id, string(to), nullString(errMessage), time.Now().UTC()}
	placeholders := make([]string, 0, len(from))
	for _, status := range from {
		args = append(args, string(status))
		placeholders = append(placeholders, fmt.Sprintf("$%d", len(args)))
	}

	query := `
UPDATE surveys
SET status = $2, error_message = $3, updated_at = $4,
	tree_count = NULL, trees_per_acre = NULL, average_ndvi = NULL,
	canopy_coverage_percent = NULL, average_confidence = NULL
WHERE id = $1 AND status IN (` + strings.Join(placeholders, ", ") + `)`
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update survey status: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update survey status rows affected: %w", err)
	}
	if affected == 0 {
		return r.explainMiss(ctx, id, "transition survey")
	}
	return nil
}

// SaveResults replaces trees and summary wholesale and completes the survey in one
// transaction. Only a processing survey can be completed.
func (r *SurveyRepository) SaveResults(ctx context.Context, survey *domain.Survey, trees []domain.RawRecord, summary domain.RawRecord) error {
	summaryJSON, err := json.Marshal(summary)
	if err != nil {
		return fmt.Errorf("marshal summary: %w", err)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin results tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	res, err := tx.ExecContext(ctx, `
UPDATE surveys
SET status = $2, error_message = NULL, tree_count = $3, trees_per_acre = $4, average_ndvi = $5,
	canopy_coverage_percent = $6, average_confidence = $7, updated_at = $8
WHERE id = $1 AND status = $9
`,
		survey.ID, string(domain.SurveyCompleted), nullInt(survey.TreeCount), nullFloat(survey.TreesPerAcre),
		nullFloat(survey.AverageNDVI), nullFloat(survey.CanopyCoveragePercent), nullFloat(survey.AverageConfidence),
		survey.UpdatedAt, string(domain.SurveyProcessing),
	)
	if err != nil {
		return fmt.Errorf("complete survey: %w", err)
	}
	if affected, err := res.RowsAffected(); err != nil {
		return fmt.Errorf("complete survey rows affected: %w", err)
	} else if affected == 0 {
		return domain.WrapError(domain.ErrConflict, "complete survey", fmt.Errorf("survey %s is not processing", survey.ID))
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM survey_trees WHERE survey_id = $1`, survey.ID); err != nil {
		return fmt.Errorf("clear trees: %w", err)
	}
	if len(trees) > 0 {
		stmt, err := tx.PrepareContext(ctx, `INSERT INTO survey_trees (survey_id, ordinal, payload) VALUES ($1, $2, $3)`)
		if err != nil {
			return fmt.Errorf("prepare tree insert: %w", err)
		}
		defer stmt.Close()
		for i, tree := range trees {
			payload, err := json.Marshal(tree)
			if err != nil {
				return fmt.Errorf("marshal tree %d: %w", i, err)
			}
			if _, err := stmt.ExecContext(ctx, survey.ID, i, payload); err != nil {
				return fmt.Errorf("insert tree %d: %w", i, err)
			}
		}
	}

	if _, err := tx.ExecContext(ctx, `
INSERT INTO survey_summaries (survey_id, payload, updated_at)
VALUES ($1, $2, $3)
ON CONFLICT (survey_id) DO UPDATE SET payload = EXCLUDED.payload, updated_at = EXCLUDED.updated_at
`, survey.ID, summaryJSON, survey.UpdatedAt); err != nil {
		return fmt.Errorf("upsert summary: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit results tx: %w", err)
	}
	return nil
}

func (r *SurveyRepository) ListTrees(ctx context.Context, surveyID string) ([]domain.RawRecord, error) {
	rows, err := r.db.QueryContext(ctx, `
SELECT payload
FROM survey_trees
WHERE survey_id = $1
ORDER BY ordinal
`, surveyID)
	if err != nil {
		return nil, fmt.Errorf("query trees: %w", err)
	}
	defer rows.Close()

	trees := make([]domain.RawRecord, 0)
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("scan tree: %w", err)
		}
		var tree domain.RawRecord
		if err := json.Unmarshal(raw, &tree); err != nil {
			return nil, fmt.Errorf("unmarshal tree: %w", err)
		}
		trees = append(trees, tree)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate trees: %w", err)
	}
	return trees, nil
}

func (r *SurveyRepository) GetSummary(ctx context.Context, surveyID string) (domain.RawRecord, error) {
	var raw []byte
	err := r.db.QueryRowContext(ctx, `SELECT payload FROM survey_summaries WHERE survey_id = $1`, surveyID).Scan(&raw)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.WrapError(domain.ErrSurveyNotFound, "get summary", fmt.Errorf("survey_id=%s", surveyID))
		}
		return nil, fmt.Errorf("scan summary: %w", err)
	}
	var summary domain.RawRecord
	if err := json.Unmarshal(raw, &summary); err != nil {
		return nil, fmt.Errorf("unmarshal summary: %w", err)
	}
	return summary, nil
}

func (r *SurveyRepository) explainMiss(ctx context.Context, id, op string) error {
	var status string
	err := r.db.QueryRowContext(ctx, `SELECT status FROM surveys WHERE id = $1`, id).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.WrapError(domain.ErrSurveyNotFound, op, fmt.Errorf("id=%s", id))
	}
	if err != nil {
		return fmt.Errorf("%s: read status: %w", op, err)
	}
	return domain.WrapError(domain.ErrConflict, op, fmt.Errorf("survey %s is %s", id, status))
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSurvey(row scanner) (*domain.Survey, error) {
	var (
		survey       domain.Survey
		status       string
		captureDate  sql.NullString
		source       sql.NullString
		errorMessage sql.NullString
		treeCount    sql.NullInt64
		density      sql.NullFloat64
		ndvi         sql.NullFloat64
		canopy       sql.NullFloat64
		confidence   sql.NullFloat64
	)
	err := row.Scan(
		&survey.ID, &survey.FieldID, &survey.Filename, &survey.StoragePath, &survey.SizeBytes,
		&captureDate, &source, &status, &errorMessage,
		&treeCount, &density, &ndvi, &canopy, &confidence,
		&survey.CreatedAt, &survey.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	survey.Status = domain.SurveyStatus(status)
	survey.CaptureDate = captureDate.String
	survey.Source = source.String
	survey.ErrorMessage = errorMessage.String
	if treeCount.Valid {
		n := int(treeCount.Int64)
		survey.TreeCount = &n
	}
	survey.TreesPerAcre = floatPtr(density)
	survey.AverageNDVI = floatPtr(ndvi)
	survey.CanopyCoveragePercent = floatPtr(canopy)
	survey.AverageConfidence = floatPtr(confidence)
	survey.Normalize()
	return &survey, nil
}

func requireAffected(res sql.Result, op, id string) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s rows affected: %w", op, err)
	}
	if affected == 0 {
		return domain.WrapError(domain.ErrSurveyNotFound, op, fmt.Errorf("id=%s", id))
	}
	return nil
}

func nullString(v string) sql.NullString {
	return sql.NullString{String: v, Valid: v != ""}
}

func nullInt(v *int) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*v), Valid: true}
}

func nullFloat(v *float64) sql.NullFloat64 {
	if v == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *v, Valid: true}
}

func floatPtr(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	f := v.Float64
	return &f
}

package usecase

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kirillkom/canopy-survey/internal/core/domain"
	"github.com/kirillkom/canopy-survey/internal/core/ports"
)

type IngestSurveyUseCase struct {
	repo     ports.SurveyRepository
	storage  ports.ObjectStorage
	maxBytes int64
}

func NewIngestSurveyUseCase(repo ports.SurveyRepository, storage ports.ObjectStorage, maxBytes int64) *IngestSurveyUseCase {
	if maxBytes <= 0 {
		maxBytes = domain.MaxUploadBytes
	}
	return &IngestSurveyUseCase{
		repo:     repo,
		storage:  storage,
		maxBytes: maxBytes,
	}
}

// Upload stores the image and creates a pending survey. The declared size may be unknown (< 0);
// the stored byte count is checked against the limit either way.
func (uc *IngestSurveyUseCase) Upload(
	ctx context.Context,
	candidate domain.UploadCandidate,
	body io.Reader,
) (*domain.Survey, error) {
	if err := candidate.Validate(uc.maxBytes); err != nil {
		return nil, err
	}

	id := uuid.NewString()
	storageKey := fmt.Sprintf("%s_%s", id, sanitizeFilename(candidate.Filename))
	now := time.Now().UTC()

	written, err := uc.storage.Save(ctx, storageKey, io.LimitReader(body, uc.maxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("save to object storage: %w", err)
	}
	if sizeErr := (domain.UploadCandidate{
		FieldID:   candidate.FieldID,
		Filename:  candidate.Filename,
		SizeBytes: written,
	}).Validate(uc.maxBytes); sizeErr != nil {
		uc.discard(ctx, storageKey)
		return nil, sizeErr
	}

	survey := &domain.Survey{
		ID:          id,
		FieldID:     candidate.FieldID,
		Filename:    candidate.Filename,
		StoragePath: storageKey,
		SizeBytes:   written,
		CaptureDate: candidate.CaptureDate,
		Source:      strings.TrimSpace(candidate.Source),
		Status:      domain.SurveyPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if err := uc.repo.Create(ctx, survey); err != nil {
		uc.discard(ctx, storageKey)
		return nil, fmt.Errorf("create survey metadata: %w", err)
	}

	return survey, nil
}

func (uc *IngestSurveyUseCase) discard(ctx context.Context, key string) {
	if err := uc.storage.Delete(ctx, key); err != nil {
		slog.Warn("storage_cleanup_failed", "key", key, "error", err)
	}
}

func sanitizeFilename(name string) string {
	base := filepath.Base(name)
	base = strings.ReplaceAll(base, " ", "_")
	base = strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z':
			return r
		case r >= 'A' && r <= 'Z':
			return r
		case r >= '0' && r <= '9':
			return r
		case r == '.', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, base)
	if base == "" || base == "." {
		return "survey.tif"
	}
	return base
}

package store

import (
	"context"
	"fmt"

	"github.com/lamim/optiforge/pkg/models"
)

// TraceQuery selects one page of traces for dataset curation
type TraceQuery struct {
	WorkspaceID  uint
	ProjectID    uint
	DocumentUUID string
	Polarity     models.Polarity

	// Positive only: drop traces whose evaluation failed
	ExcludeFailedEvaluations bool

	// Keyset cursor: only traces with id > AfterID
	AfterID uint
	Limit   int
}

// ListTraces returns up to Limit traces ordered by id. Negative traces are linked
// to a tracked issue; positive traces have no issue or only a resolved/ignored one.
func (s *Store) ListTraces(ctx context.Context, q TraceQuery) ([]models.Trace, error) {
	query := s.db.WithContext(ctx).
		Model(&models.Trace{}).
		Select("traces.*").
		Joins("LEFT JOIN issues ON issues.id = traces.issue_id").
		Where("traces.workspace_id = ? AND traces.project_id = ? AND traces.document_uuid = ?",
			q.WorkspaceID, q.ProjectID, q.DocumentUUID).
		Where("traces.id > ?", q.AfterID)

	switch q.Polarity {
	case models.PolarityNegative:
		query = query.Where("issues.id IS NOT NULL AND issues.resolved_at IS NULL AND issues.ignored_at IS NULL")
	case models.PolarityPositive:
		query = query.Where("issues.id IS NULL OR issues.resolved_at IS NOT NULL OR issues.ignored_at IS NOT NULL")
		if q.ExcludeFailedEvaluations {
			query = query.Where("traces.evaluation_failed = ?", false)
		}
	default:
		return nil, fmt.Errorf("unknown polarity %q", q.Polarity)
	}

	var traces []models.Trace
	if err := query.Order("traces.id ASC").Limit(q.Limit).Find(&traces).Error; err != nil {
		return nil, fmt.Errorf("failed to list %s traces: %w", q.Polarity, err)
	}
	return traces, nil
}

package store

import (
	"context"
	"fmt"

	"github.com/lamim/optiforge/pkg/models"
)

// FindCommit loads a commit by id
func (s *Store) FindCommit(ctx context.Context, id uint) (*models.Commit, error) {
	var commit models.Commit
	if err := s.db.WithContext(ctx).First(&commit, id).Error; err != nil {
		return nil, notFound(err, fmt.Sprintf("commit %d", id))
	}
	return &commit, nil
}

// FindDocument loads a document version at a commit
func (s *Store) FindDocument(ctx context.Context, commitID uint, documentUUID string) (*models.Document, error) {
	var doc models.Document
	err := s.db.WithContext(ctx).
		Where("commit_id = ? AND document_uuid = ?", commitID, documentUUID).
		First(&doc).Error
	if err != nil {
		return nil, notFound(err, fmt.Sprintf("document %s at commit %d", documentUUID, commitID))
	}
	return &doc, nil
}

// FindEvaluation loads an evaluation by uuid within a workspace
func (s *Store) FindEvaluation(ctx context.Context, workspaceID uint, uuid string) (*models.Evaluation, error) {
	var eval models.Evaluation
	err := s.db.WithContext(ctx).
		Where("workspace_id = ? AND uuid = ?", workspaceID, uuid).
		First(&eval).Error
	if err != nil {
		return nil, notFound(err, fmt.Sprintf("evaluation %s", uuid))
	}
	return &eval, nil
}

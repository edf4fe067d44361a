package service

import (
	"context"
	"fmt"

	"github.com/emergo/incident_dispatch_service/internal/models"
	"github.com/sirupsen/logrus"
)

// AuditRepository определяет контракт для чтения журнала аудита.
// Запись журнала происходит внутри транзакций мутирующих репозиториев
type AuditRepository interface {
	ListRecent(ctx context.Context, limit int) ([]*models.AuditLogEntry, error)
	ListByRecord(ctx context.Context, tableName, recordID string) ([]*models.AuditLogEntry, error)
}

// AuditService определяет контракт для просмотра журнала аудита
type AuditService interface {
	ListAudit(ctx context.Context, tableName, recordID string, limit int) ([]*models.AuditLogEntry, error)
}

type auditService struct {
	repo   AuditRepository
	logger *logrus.Logger
}

func NewAuditService(repo AuditRepository, logger *logrus.Logger) AuditService {
	return &auditService{
		repo:   repo,
		logger: logger,
	}
}

// ListAudit возвращает записи журнала: по конкретной записи таблицы либо последние
func (s *auditService) ListAudit(ctx context.Context, tableName, recordID string, limit int) ([]*models.AuditLogEntry, error) {
	if limit < 1 || limit > 500 {
		limit = 100
	}

	var (
		entries []*models.AuditLogEntry
		err     error
	)
	if tableName != "" && recordID != "" {
		entries, err = s.repo.ListByRecord(ctx, tableName, recordID)
	} else {
		entries, err = s.repo.ListRecent(ctx, limit)
	}
	if err != nil {
		s.logger.WithError(err).Error("Failed to list audit log from repository")
		return nil, fmt.Errorf("service: could not list audit log: %w", err)
	}
	return entries, nil
}

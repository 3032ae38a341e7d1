// Package query contains read operations (CQRS - Queries).
package query

import (
	"context"
	"log/slog"

	"github.com/alem-hub/socratic-tutor/internal/domain/shared"
	"github.com/alem-hub/socratic-tutor/internal/infrastructure/persistence/projections"
)

// ActivitySource отдаёт сводку активности студента из проекции.
type ActivitySource interface {
	Get(ctx context.Context, id shared.StudentID) (*projections.LearningCard, bool)
}

func orDefault(logger *slog.Logger) *slog.Logger {
	if logger == nil {
		return slog.Default()
	}
	return logger
}

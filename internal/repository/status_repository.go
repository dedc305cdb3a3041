package repository

import (
	"context"
	"fmt"

	"github.com/propertygo/viewing/internal/model"
)

// StatusRepository reads the appointment status reference table
type StatusRepository struct{}

// NewStatusRepository creates a new status repository
func NewStatusRepository() *StatusRepository {
	return &StatusRepository{}
}

// List returns every status row in display order
func (r *StatusRepository) List(ctx context.Context, db DBExecutor) ([]model.AppointmentStatus, error) {
	statuses := []model.AppointmentStatus{}
	err := db.SelectContext(ctx, &statuses, `
		SELECT id, code, name, description, sort_order
		FROM appointment_statuses
		ORDER BY sort_order ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list appointment statuses: %w", err)
	}

	return statuses, nil
}

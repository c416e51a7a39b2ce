package dbosruntime

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// ErrWorkflowNotFound is returned when the status table has no row for a workflow
var ErrWorkflowNotFound = errors.New("workflow status not found")

// WorkflowStatusInfo represents the status of a workflow
type WorkflowStatusInfo struct {
	WorkflowUUID string
	Status       string
	Name         string
	Output       sql.NullString
	Error        sql.NullString
	CreatedAt    int64
	UpdatedAt    int64
}

// GetWorkflowStatus retrieves the status of a workflow from the DBOS status table
func (r *Runtime) GetWorkflowStatus(ctx context.Context, workflowUUID string) (*WorkflowStatusInfo, error) {
	query := `
		SELECT workflow_uuid, status, name, output, error, created_at, updated_at
		FROM dbos.workflow_status
		WHERE workflow_uuid = $1
	`

	var info WorkflowStatusInfo
	err := r.db.QueryRowContext(ctx, query, workflowUUID).Scan(
		&info.WorkflowUUID,
		&info.Status,
		&info.Name,
		&info.Output,
		&info.Error,
		&info.CreatedAt,
		&info.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrWorkflowNotFound, workflowUUID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query workflow status: %w", err)
	}

	return &info, nil
}

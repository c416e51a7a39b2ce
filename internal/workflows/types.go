package workflows

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/dbos-inc/dbos-transact-golang/dbos"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/tendant/image-inference-pipeline/internal/dbosruntime"
	"github.com/tendant/image-inference-pipeline/pkg/pipeline"
)

// WorkflowContext contains context for one pipeline run
type WorkflowContext struct {
	Ctx    context.Context
	Record pipeline.Record
	RunID  string
}

// WorkflowResult contains the result of a pipeline run
type WorkflowResult struct {
	Success bool
	Error   error
	Outputs map[string]interface{}
}

// Steps groups the steps a pipeline run executes in order
type Steps struct {
	Resize    *ResizeStep
	Lookup    *LookupStep
	Inference *InferenceStep
	Render    *RenderStep
}

// WorkflowRunner runs the resize, lookup, inference and render chain either
// in-process or as a durable DBOS workflow
type WorkflowRunner struct {
	steps       Steps
	dbosRuntime *dbosruntime.Runtime
}

// NewWorkflowRunner creates a runner. When dbosRuntime is non-nil the pipeline
// and per-endpoint inference workflows are registered with DBOS, so this must
// be called before the runtime is launched.
func NewWorkflowRunner(steps Steps, dbosRuntime *dbosruntime.Runtime) *WorkflowRunner {
	runner := &WorkflowRunner{
		steps:       steps,
		dbosRuntime: dbosRuntime,
	}

	if dbosRuntime != nil {
		dbos.RegisterWorkflow(dbosRuntime.Context(), runner.pipelineWorkflowDBOS)
		dbos.RegisterWorkflow(dbosRuntime.Context(), runner.inferenceWorkflowDBOS)
	}

	return runner
}

// Run executes the whole pipeline synchronously. Inference runs once per
// endpoint concurrently; render starts only after every endpoint finished.
func (r *WorkflowRunner) Run(wctx *WorkflowContext) (*WorkflowResult, error) {
	ctx, runID := wctx.Ctx, wctx.RunID
	log.Printf("[%s] Starting pipeline for %s/%s", runID, wctx.Record.Bucket, wctx.Record.ImagePath)

	rec, err := r.steps.Resize.Execute(ctx, runID, wctx.Record)
	if err != nil {
		return failed(pipeline.StepResize, err)
	}

	rec, err = r.steps.Lookup.Execute(ctx, runID, rec)
	if err != nil {
		return failed(pipeline.StepLookup, err)
	}

	results := make([]pipeline.EndpointConfig, len(rec.Endpoints))
	g, gctx := errgroup.WithContext(ctx)
	for i, ep := range rec.Endpoints {
		g.Go(func() error {
			out, err := r.steps.Inference.Execute(gctx, runID, ep)
			results[i] = out
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return failed(pipeline.StepInference, err)
	}

	render, err := r.steps.Render.Execute(ctx, runID, results)
	if err != nil {
		return failed(pipeline.StepRender, err)
	}

	log.Printf("[%s] Pipeline completed successfully", runID)
	return &WorkflowResult{
		Success: true,
		Outputs: map[string]interface{}{
			"image_name":   rec.ImageName(),
			"table_name":   rec.TableName,
			"endpoints":    len(results),
			"labeled_path": render.LabeledPath,
			"boxes_drawn":  render.BoxesDrawn,
		},
	}, nil
}

func failed(step string, err error) (*WorkflowResult, error) {
	err = fmt.Errorf("%w: %s: %w", ErrStepFailed, step, err)
	return &WorkflowResult{Success: false, Error: err}, err
}

// RunAsync enqueues a durable pipeline run and returns its workflow id
func (r *WorkflowRunner) RunAsync(ctx context.Context, rec pipeline.Record) (string, error) {
	if r.dbosRuntime == nil {
		return "", errors.New("DBOS runtime not initialized")
	}
	if err := rec.Validate(); err != nil {
		return "", err
	}

	workflowID := fmt.Sprintf("pipeline-%s", uuid.New().String())

	handle, err := dbos.RunWorkflow[pipeline.Record, pipeline.RenderResult](
		r.dbosRuntime.Context(),
		r.pipelineWorkflowDBOS,
		rec,
		dbos.WithWorkflowID(workflowID),
		dbos.WithQueue(r.dbosRuntime.QueueName()),
	)
	if err != nil {
		return "", fmt.Errorf("failed to enqueue pipeline: %w", err)
	}

	return handle.GetWorkflowID(), nil
}

// Start implements Starter, so that the ingest step can hand images to DBOS
// instead of an external orchestrator
func (r *WorkflowRunner) Start(ctx context.Context, rec pipeline.Record) (string, error) {
	return r.RunAsync(ctx, rec)
}

// pipelineWorkflowDBOS is the durable pipeline. Each step is checkpointed;
// inference runs as one child workflow per endpoint and every child handle
// is awaited before render.
func (r *WorkflowRunner) pipelineWorkflowDBOS(dbosCtx dbos.DBOSContext, rec pipeline.Record) (pipeline.RenderResult, error) {
	runID, err := dbosCtx.GetWorkflowID()
	if err != nil {
		return pipeline.RenderResult{}, err
	}
	log.Printf("[%s] Starting durable pipeline for %s/%s", runID, rec.Bucket, rec.ImagePath)

	rec, err = dbos.RunAsStep(dbosCtx, func(ctx context.Context) (pipeline.Record, error) {
		return r.steps.Resize.Execute(ctx, runID, rec)
	})
	if err != nil {
		return pipeline.RenderResult{}, fmt.Errorf("%w: %s: %w", ErrStepFailed, pipeline.StepResize, err)
	}

	rec, err = dbos.RunAsStep(dbosCtx, func(ctx context.Context) (pipeline.Record, error) {
		return r.steps.Lookup.Execute(ctx, runID, rec)
	})
	if err != nil {
		return pipeline.RenderResult{}, fmt.Errorf("%w: %s: %w", ErrStepFailed, pipeline.StepLookup, err)
	}

	handles := make([]dbos.WorkflowHandle[pipeline.EndpointConfig], 0, len(rec.Endpoints))
	for _, ep := range rec.Endpoints {
		handle, err := dbos.RunWorkflow(dbosCtx, r.inferenceWorkflowDBOS, ep)
		if err != nil {
			return pipeline.RenderResult{}, fmt.Errorf("failed to start inference for %s: %w", ep.EndpointName, err)
		}
		handles = append(handles, handle)
	}

	results := make([]pipeline.EndpointConfig, 0, len(handles))
	var errs []error
	for _, handle := range handles {
		out, err := handle.GetResult()
		if err != nil {
			errs = append(errs, err)
			continue
		}
		results = append(results, out)
	}
	if len(errs) > 0 {
		return pipeline.RenderResult{}, fmt.Errorf("%w: %s: %w", ErrStepFailed, pipeline.StepInference, errors.Join(errs...))
	}

	render, err := dbos.RunAsStep(dbosCtx, func(ctx context.Context) (pipeline.RenderResult, error) {
		res, err := r.steps.Render.Execute(ctx, runID, results)
		if err != nil {
			return pipeline.RenderResult{}, err
		}
		return *res, nil
	})
	if err != nil {
		return pipeline.RenderResult{}, fmt.Errorf("%w: %s: %w", ErrStepFailed, pipeline.StepRender, err)
	}

	log.Printf("[%s] Durable pipeline completed: %s", runID, render.LabeledPath)
	return render, nil
}

// inferenceWorkflowDBOS runs one endpoint as a child workflow of the pipeline
func (r *WorkflowRunner) inferenceWorkflowDBOS(dbosCtx dbos.DBOSContext, ep pipeline.EndpointConfig) (pipeline.EndpointConfig, error) {
	runID, err := dbosCtx.GetWorkflowID()
	if err != nil {
		return ep, err
	}
	return dbos.RunAsStep(dbosCtx, func(ctx context.Context) (pipeline.EndpointConfig, error) {
		return r.steps.Inference.Execute(ctx, runID, ep)
	})
}

// WorkflowStatus represents the status of a workflow execution
type WorkflowStatus struct {
	RunID      string     `json:"run_id"`
	State      string     `json:"state"`
	Name       string     `json:"name,omitempty"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	Error      string     `json:"error,omitempty"`
}

// GetStatus retrieves the status of a durable pipeline run
func (r *WorkflowRunner) GetStatus(ctx context.Context, runID string) (*WorkflowStatus, error) {
	if r.dbosRuntime == nil {
		return nil, errors.New("status tracking requires DBOS runtime")
	}

	info, err := r.dbosRuntime.GetWorkflowStatus(ctx, runID)
	if errors.Is(err, dbosruntime.ErrWorkflowNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrWorkflowNotFound, runID)
	}
	if err != nil {
		return nil, err
	}

	return statusFromInfo(info), nil
}

func statusFromInfo(info *dbosruntime.WorkflowStatusInfo) *WorkflowStatus {
	status := &WorkflowStatus{
		RunID:     info.WorkflowUUID,
		State:     info.Status,
		Name:      info.Name,
		StartedAt: time.UnixMilli(info.CreatedAt).UTC(),
	}
	switch info.Status {
	case "SUCCESS", "ERROR", "CANCELLED", "MAX_RECOVERY_ATTEMPTS_EXCEEDED":
		finished := time.UnixMilli(info.UpdatedAt).UTC()
		status.FinishedAt = &finished
	}
	if info.Error.Valid {
		status.Error = info.Error.String
	}
	return status
}

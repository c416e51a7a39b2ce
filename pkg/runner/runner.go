package runner

import (
	"context"
	"fmt"
	"time"

	"github.com/tendant/image-inference-pipeline/internal/app"
	"github.com/tendant/image-inference-pipeline/internal/config"
	"github.com/tendant/image-inference-pipeline/internal/dbosruntime"
	"github.com/tendant/image-inference-pipeline/internal/workflows"
	"github.com/tendant/image-inference-pipeline/pkg/pipeline"
)

// Config selects the backends and DBOS settings of an embedded pipeline.
// Build one with LoadConfig or DefaultConfig.
type Config = config.Config

// Status is the state of a pipeline run
type Status = workflows.WorkflowStatus

// LoadConfig reads .env (if present), the environment and CONFIG_FILE, the
// same way the pipeline worker does
func LoadConfig() (*Config, error) {
	return config.Load()
}

// Runner embeds the durable image pipeline in a host application. It both
// enqueues runs and executes them on the DBOS queue.
type Runner struct {
	runtime    *dbosruntime.Runtime
	runner     *workflows.WorkflowRunner
	components *app.Components
}

// New builds the backends named in cfg, registers the pipeline with DBOS and
// launches it.
func New(ctx context.Context, cfg *Config) (*Runner, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	components, err := app.Build(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize backends: %w", err)
	}

	dbosRuntime, err := dbosruntime.NewRuntime(ctx, dbosruntime.Config{
		DatabaseURL:        cfg.DBOSDatabaseURL,
		AppName:            cfg.DBOSAppName,
		QueueName:          cfg.DBOSQueueName,
		Concurrency:        cfg.DBOSConcurrency,
		ApplicationVersion: cfg.DBOSAppVersion,
	})
	if err != nil {
		components.Close()
		return nil, fmt.Errorf("failed to initialize DBOS: %w", err)
	}

	workflowRunner := workflows.NewWorkflowRunner(components.Steps(), dbosRuntime)

	// Launch DBOS (must be after workflow registration)
	if err := dbosRuntime.Launch(); err != nil {
		components.Close()
		return nil, fmt.Errorf("failed to launch DBOS: %w", err)
	}

	return &Runner{
		runtime:    dbosRuntime,
		runner:     workflowRunner,
		components: components,
	}, nil
}

// RunPipeline enqueues a pipeline run for the image at bucket/key
func (r *Runner) RunPipeline(ctx context.Context, bucket, key string) (string, error) {
	return r.runner.RunAsync(ctx, pipeline.NewRecord(bucket, key))
}

// Status returns the state of a pipeline run
func (r *Runner) Status(ctx context.Context, runID string) (*Status, error) {
	return r.runner.GetStatus(ctx, runID)
}

// Shutdown waits for running workflows and releases every connection
func (r *Runner) Shutdown(timeout time.Duration) {
	if r.runtime != nil {
		r.runtime.Shutdown(timeout)
	}
	if r.components != nil {
		r.components.Close()
	}
}

package executors

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambdacontext"
	"github.com/google/uuid"

	"github.com/tendant/image-inference-pipeline/internal/workflows"
	"github.com/tendant/image-inference-pipeline/pkg/pipeline"
)

// Executor runs one pipeline step on a raw JSON payload, as delivered by an
// external orchestrator or an event source
type Executor interface {
	Execute(ctx context.Context, payload json.RawMessage) (interface{}, error)
}

// ExecutorFunc adapts a function to Executor
type ExecutorFunc func(ctx context.Context, payload json.RawMessage) (interface{}, error)

// Execute implements Executor
func (f ExecutorFunc) Execute(ctx context.Context, payload json.RawMessage) (interface{}, error) {
	return f(ctx, payload)
}

// runID uses the invocation's request id when running inside Lambda
func runID(ctx context.Context) string {
	if lc, ok := lambdacontext.FromContext(ctx); ok && lc.AwsRequestID != "" {
		return lc.AwsRequestID
	}
	return uuid.New().String()
}

func decode[T any](step string, payload json.RawMessage) (T, error) {
	var v T
	if err := json.Unmarshal(payload, &v); err != nil {
		return v, fmt.Errorf("%w: %s payload: %v", workflows.ErrInvalidRequest, step, err)
	}
	return v, nil
}

// NewIngestExecutor handles SQS events carrying storage notifications
func NewIngestExecutor(step *workflows.IngestStep) Executor {
	return ExecutorFunc(func(ctx context.Context, payload json.RawMessage) (interface{}, error) {
		event, err := decode[events.SQSEvent](pipeline.StepIngest, payload)
		if err != nil {
			return nil, err
		}
		return step.Execute(ctx, runID(ctx), event)
	})
}

// NewResizeExecutor handles {bucket, image_path, image_filename} records
func NewResizeExecutor(step *workflows.ResizeStep) Executor {
	return ExecutorFunc(func(ctx context.Context, payload json.RawMessage) (interface{}, error) {
		rec, err := decode[pipeline.Record](pipeline.StepResize, payload)
		if err != nil {
			return nil, err
		}
		return step.Execute(ctx, runID(ctx), rec)
	})
}

// NewLookupExecutor handles resized records
func NewLookupExecutor(step *workflows.LookupStep) Executor {
	return ExecutorFunc(func(ctx context.Context, payload json.RawMessage) (interface{}, error) {
		rec, err := decode[pipeline.Record](pipeline.StepLookup, payload)
		if err != nil {
			return nil, err
		}
		return step.Execute(ctx, runID(ctx), rec)
	})
}

// NewInferenceExecutor handles one endpoint config per invocation
func NewInferenceExecutor(step *workflows.InferenceStep) Executor {
	return ExecutorFunc(func(ctx context.Context, payload json.RawMessage) (interface{}, error) {
		ep, err := decode[pipeline.EndpointConfig](pipeline.StepInference, payload)
		if err != nil {
			return nil, err
		}
		return step.Execute(ctx, runID(ctx), ep)
	})
}

// NewRenderExecutor handles the joined list of endpoint configs
func NewRenderExecutor(step *workflows.RenderStep) Executor {
	return ExecutorFunc(func(ctx context.Context, payload json.RawMessage) (interface{}, error) {
		eps, err := decode[[]pipeline.EndpointConfig](pipeline.StepRender, payload)
		if err != nil {
			return nil, err
		}
		return step.Execute(ctx, runID(ctx), eps)
	})
}

// Registry maps step names to executors
type Registry struct {
	executors map[string]Executor
}

// NewRegistry creates an empty executor registry
func NewRegistry() *Registry {
	return &Registry{executors: make(map[string]Executor)}
}

// Register registers an executor for a step name
func (r *Registry) Register(step string, exec Executor) {
	r.executors[step] = exec
	log.Printf("✓ Registered executor for step: %s", step)
}

// Get returns the executor registered for step
func (r *Registry) Get(step string) (Executor, error) {
	exec, ok := r.executors[step]
	if !ok {
		return nil, fmt.Errorf("%w: no executor for step %q", workflows.ErrWorkflowNotFound, step)
	}
	return exec, nil
}

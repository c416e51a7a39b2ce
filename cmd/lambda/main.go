package main

import (
	"context"
	"encoding/json"
	"log"

	"github.com/aws/aws-lambda-go/lambda"

	"github.com/tendant/image-inference-pipeline/internal/app"
	"github.com/tendant/image-inference-pipeline/internal/config"
	"github.com/tendant/image-inference-pipeline/internal/executors"
	"github.com/tendant/image-inference-pipeline/pkg/pipeline"
)

// One binary serves every Lambda function of the pipeline; PIPELINE_STEP
// selects which step this function runs.
func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	ctx := context.Background()
	components, err := app.Build(ctx, cfg)
	if err != nil {
		log.Fatalf("Failed to initialize backends: %v", err)
	}
	defer components.Close()

	registry, err := buildRegistry(ctx, components)
	if err != nil {
		log.Fatalf("Failed to build executors: %v", err)
	}

	executor, err := registry.Get(cfg.PipelineStep)
	if err != nil {
		log.Fatalf("PIPELINE_STEP must name a pipeline step: %v", err)
	}
	log.Printf("Lambda handler ready for step: %s", cfg.PipelineStep)

	lambda.Start(func(ctx context.Context, payload json.RawMessage) (interface{}, error) {
		return executor.Execute(ctx, payload)
	})
}

func buildRegistry(ctx context.Context, c *app.Components) (*executors.Registry, error) {
	steps := c.Steps()
	registry := executors.NewRegistry()
	registry.Register(pipeline.StepResize, executors.NewResizeExecutor(steps.Resize))
	registry.Register(pipeline.StepLookup, executors.NewLookupExecutor(steps.Lookup))
	registry.Register(pipeline.StepInference, executors.NewInferenceExecutor(steps.Inference))
	registry.Register(pipeline.StepRender, executors.NewRenderExecutor(steps.Render))

	if c.Config.PipelineStep != pipeline.StepIngest {
		return registry, nil
	}

	ledger, err := c.Dedupe()
	if err != nil {
		return nil, err
	}
	// A Lambda has no DBOS runtime, so ORCHESTRATOR=dbos is rejected here.
	ingest, err := c.IngestStep(ctx, nil, ledger)
	if err != nil {
		return nil, err
	}
	registry.Register(pipeline.StepIngest, executors.NewIngestExecutor(ingest))
	return registry, nil
}

package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sfn"

	"github.com/tendant/image-inference-pipeline/pkg/pipeline"
)

// ParamReader reads named configuration parameters
type ParamReader interface {
	GetParameter(ctx context.Context, name string) (string, error)
}

// SFNAPI is the subset of the Step Functions client used by StepFunctionsStarter
type SFNAPI interface {
	StartExecution(ctx context.Context, params *sfn.StartExecutionInput, optFns ...func(*sfn.Options)) (*sfn.StartExecutionOutput, error)
}

// StepFunctionsStarter starts pipeline executions on an AWS Step Functions
// state machine. The state machine ARN is read from the parameter store on
// first use.
type StepFunctionsStarter struct {
	client SFNAPI
	params ParamReader

	mu  sync.Mutex
	arn string
}

// NewStepFunctionsStarter creates a starter resolving the state machine ARN from params
func NewStepFunctionsStarter(client SFNAPI, params ParamReader) *StepFunctionsStarter {
	return &StepFunctionsStarter{client: client, params: params}
}

func (s *StepFunctionsStarter) stateMachineARN(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.arn != "" {
		return s.arn, nil
	}
	arn, err := s.params.GetParameter(ctx, pipeline.ParamStateMachineARN)
	if err != nil {
		return "", err
	}
	s.arn = arn
	return arn, nil
}

// Start begins one execution with rec as its input and returns the execution ARN
func (s *StepFunctionsStarter) Start(ctx context.Context, rec pipeline.Record) (string, error) {
	arn, err := s.stateMachineARN(ctx)
	if err != nil {
		return "", err
	}

	input, err := json.Marshal(rec)
	if err != nil {
		return "", fmt.Errorf("failed to marshal execution input: %w", err)
	}

	out, err := s.client.StartExecution(ctx, &sfn.StartExecutionInput{
		StateMachineArn: aws.String(arn),
		Input:           aws.String(string(input)),
	})
	if err != nil {
		return "", fmt.Errorf("failed to start execution on %s: %w", arn, err)
	}
	return aws.ToString(out.ExecutionArn), nil
}

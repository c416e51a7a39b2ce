package inference

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sagemakerruntime"
)

// ErrEndpointFailed is returned when an endpoint rejects a request
var ErrEndpointFailed = errors.New("inference endpoint failed")

// Invoker calls a named inference endpoint with a JSON body
type Invoker interface {
	Invoke(ctx context.Context, endpoint string, body []byte) ([]byte, error)
}

// SageMakerAPI is the subset of the SageMaker runtime client used by SageMakerInvoker
type SageMakerAPI interface {
	InvokeEndpoint(ctx context.Context, params *sagemakerruntime.InvokeEndpointInput, optFns ...func(*sagemakerruntime.Options)) (*sagemakerruntime.InvokeEndpointOutput, error)
}

// SageMakerInvoker invokes hosted SageMaker endpoints
type SageMakerInvoker struct {
	client SageMakerAPI
}

// NewSageMakerInvoker creates a new SageMaker endpoint invoker
func NewSageMakerInvoker(client SageMakerAPI) *SageMakerInvoker {
	return &SageMakerInvoker{client: client}
}

// Invoke calls the endpoint synchronously and returns the response body
func (s *SageMakerInvoker) Invoke(ctx context.Context, endpoint string, body []byte) ([]byte, error) {
	out, err := s.client.InvokeEndpoint(ctx, &sagemakerruntime.InvokeEndpointInput{
		EndpointName: aws.String(endpoint),
		ContentType:  aws.String(ContentType),
		Accept:       aws.String(ContentType),
		Body:         body,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrEndpointFailed, endpoint, err)
	}
	return out.Body, nil
}

// HTTPInvoker calls TensorFlow Serving style REST endpoints at
// {baseURL}/v1/models/{endpoint}:predict
type HTTPInvoker struct {
	baseURL    string
	httpClient *http.Client
}

// NewHTTPInvoker creates a new HTTP endpoint invoker
func NewHTTPInvoker(baseURL string, timeout time.Duration) *HTTPInvoker {
	return &HTTPInvoker{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
	}
}

// Invoke posts body to the endpoint's predict URL
func (h *HTTPInvoker) Invoke(ctx context.Context, endpoint string, body []byte) ([]byte, error) {
	u := fmt.Sprintf("%s/v1/models/%s:predict", h.baseURL, url.PathEscape(endpoint))

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", ContentType)
	req.Header.Set("Accept", ContentType)

	resp, err := h.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrEndpointFailed, endpoint, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response from %s: %w", endpoint, err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: %s returned status %d: %s", ErrEndpointFailed, endpoint, resp.StatusCode, truncate(data, 256))
	}
	return data, nil
}

func truncate(b []byte, n int) string {
	if len(b) > n {
		return string(b[:n]) + "..."
	}
	return string(b)
}

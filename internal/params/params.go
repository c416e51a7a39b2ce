package params

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	ssmtypes "github.com/aws/aws-sdk-go-v2/service/ssm/types"
	clientv3 "go.etcd.io/etcd/client/v3"

	"github.com/tendant/image-inference-pipeline/pkg/pipeline"
)

// ErrMissingParameter is returned when a parameter has no value
var ErrMissingParameter = pipeline.ErrMissingParameter

// Store reads named configuration parameters
type Store interface {
	GetParameter(ctx context.Context, name string) (string, error)
}

// SSMAPI is the subset of the SSM client used by SSMStore
type SSMAPI interface {
	GetParameter(ctx context.Context, params *ssm.GetParameterInput, optFns ...func(*ssm.Options)) (*ssm.GetParameterOutput, error)
}

// SSMStore reads parameters from AWS Systems Manager Parameter Store
type SSMStore struct {
	client SSMAPI
}

// NewSSMStore creates a new SSM-backed parameter store
func NewSSMStore(client SSMAPI) *SSMStore {
	return &SSMStore{client: client}
}

// GetParameter returns the decrypted value of name
func (s *SSMStore) GetParameter(ctx context.Context, name string) (string, error) {
	out, err := s.client.GetParameter(ctx, &ssm.GetParameterInput{
		Name:           aws.String(name),
		WithDecryption: aws.Bool(true),
	})
	if err != nil {
		var notFound *ssmtypes.ParameterNotFound
		if errors.As(err, &notFound) {
			return "", fmt.Errorf("%w: %s", ErrMissingParameter, name)
		}
		return "", fmt.Errorf("failed to get parameter %s: %w", name, err)
	}
	if out.Parameter == nil || out.Parameter.Value == nil {
		return "", fmt.Errorf("%w: %s", ErrMissingParameter, name)
	}
	return *out.Parameter.Value, nil
}

// EtcdStore reads parameters stored as etcd keys under a common prefix
type EtcdStore struct {
	kv     clientv3.KV
	prefix string
}

// NewEtcdStore creates a parameter store reading {prefix}{name} keys
func NewEtcdStore(kv clientv3.KV, prefix string) *EtcdStore {
	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	return &EtcdStore{kv: kv, prefix: prefix}
}

// GetParameter returns the value of the etcd key for name
func (e *EtcdStore) GetParameter(ctx context.Context, name string) (string, error) {
	key := e.prefix + name
	resp, err := e.kv.Get(ctx, key)
	if err != nil {
		return "", fmt.Errorf("failed to get parameter %s: %w", key, err)
	}
	if len(resp.Kvs) == 0 {
		return "", fmt.Errorf("%w: %s", ErrMissingParameter, key)
	}
	return string(resp.Kvs[0].Value), nil
}

// StaticStore serves parameters from memory, for local runs and tests
type StaticStore struct {
	mu     sync.RWMutex
	values map[string]string
}

// NewStaticStore creates a parameter store holding a copy of values
func NewStaticStore(values map[string]string) *StaticStore {
	s := &StaticStore{values: make(map[string]string, len(values))}
	for k, v := range values {
		s.values[k] = v
	}
	return s
}

// Set stores value under name
func (s *StaticStore) Set(name, value string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[name] = value
}

// GetParameter returns the stored value of name
func (s *StaticStore) GetParameter(ctx context.Context, name string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.values[name]
	if !ok || v == "" {
		return "", fmt.Errorf("%w: %s", ErrMissingParameter, name)
	}
	return v, nil
}

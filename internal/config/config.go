package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/tendant/image-inference-pipeline/pkg/pipeline"
)

// Backend names
const (
	StorageS3         = "s3"
	StorageCOS        = "cos"
	StorageFilesystem = "filesystem"

	RecordsDynamoDB = "dynamodb"
	RecordsPostgres = "postgres"
	RecordsSQLite   = "sqlite3"
	RecordsMySQL    = "mysql"

	InferenceSageMaker = "sagemaker"
	InferenceHTTP      = "http"

	ParamsSSM    = "ssm"
	ParamsEtcd   = "etcd"
	ParamsStatic = "static"

	OrchestratorStepFunctions = "stepfunctions"
	OrchestratorDBOS          = "dbos"
)

// Config is the process configuration shared by every binary. Each key is
// read from the environment variable of the same name in upper case, then
// from an optional CONFIG_FILE, then from the defaults below.
type Config struct {
	PipelineStep string `mapstructure:"pipeline_step"`
	HTTPAddr     string `mapstructure:"http_addr"`
	MaxDimension int    `mapstructure:"max_dimension"`

	StorageBackend string `mapstructure:"storage_backend"`
	StorageDir     string `mapstructure:"storage_dir"`
	COSSecretID    string `mapstructure:"cos_secret_id"`
	COSSecretKey   string `mapstructure:"cos_secret_key"`
	COSRegion      string `mapstructure:"cos_region"`
	COSEndpoint    string `mapstructure:"cos_endpoint"`

	RecordBackend string `mapstructure:"record_backend"`
	RecordDSN     string `mapstructure:"record_dsn"`

	InferenceBackend string        `mapstructure:"inference_backend"`
	InferenceURL     string        `mapstructure:"inference_url"`
	InferenceTimeout time.Duration `mapstructure:"inference_timeout"`

	ParamBackend  string `mapstructure:"param_backend"`
	EtcdEndpoints string `mapstructure:"etcd_endpoints"`
	EtcdPrefix    string `mapstructure:"etcd_prefix"`

	// Parameter values served when ParamBackend is static
	TableName       string `mapstructure:"table_name"`
	EndpointConfig  string `mapstructure:"endpoint_config"`
	StateMachineARN string `mapstructure:"state_machine_arn"`
	QueueURL        string `mapstructure:"sqs_url"`

	Orchestrator string `mapstructure:"orchestrator"`

	DBOSDatabaseURL string `mapstructure:"dbos_system_database_url"`
	DBOSAppName     string `mapstructure:"dbos_app_name"`
	DBOSQueueName   string `mapstructure:"dbos_queue_name"`
	DBOSConcurrency int    `mapstructure:"dbos_concurrency"`
	DBOSAppVersion  string `mapstructure:"dbos_app_version"`

	DedupeEnabled bool `mapstructure:"dedupe_enabled"`
}

var defaults = map[string]interface{}{
	"pipeline_step": "",
	"http_addr":     ":8081",
	"max_dimension": 1000,

	"storage_backend": StorageS3,
	"storage_dir":     "./dev-data",
	"cos_secret_id":   "",
	"cos_secret_key":  "",
	"cos_region":      "ap-guangzhou",
	"cos_endpoint":    "",

	"record_backend": RecordsDynamoDB,
	"record_dsn":     "",

	"inference_backend": InferenceSageMaker,
	"inference_url":     "http://localhost:8501",
	"inference_timeout": 60 * time.Second,

	"param_backend":  ParamsSSM,
	"etcd_endpoints": "localhost:2379",
	"etcd_prefix":    "/image-pipeline/",

	"table_name":        "",
	"endpoint_config":   "",
	"state_machine_arn": "",
	"sqs_url":           "",

	"orchestrator": OrchestratorStepFunctions,

	"dbos_system_database_url": "",
	"dbos_app_name":            "image-pipeline",
	"dbos_queue_name":          "pipeline",
	"dbos_concurrency":         4,
	"dbos_app_version":         "",

	"dedupe_enabled": false,
}

// Load reads .env (if present), the environment and CONFIG_FILE into a Config
func Load() (*Config, error) {
	// Load .env file if it exists (silently ignore if not found)
	_ = godotenv.Load()

	v := viper.New()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}
	v.AutomaticEnv()

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks that every backend name is known
func (c *Config) Validate() error {
	checks := []struct {
		key     string
		value   string
		allowed []string
	}{
		{"storage_backend", c.StorageBackend, []string{StorageS3, StorageCOS, StorageFilesystem}},
		{"record_backend", c.RecordBackend, []string{RecordsDynamoDB, RecordsPostgres, RecordsSQLite, RecordsMySQL}},
		{"inference_backend", c.InferenceBackend, []string{InferenceSageMaker, InferenceHTTP}},
		{"param_backend", c.ParamBackend, []string{ParamsSSM, ParamsEtcd, ParamsStatic}},
		{"orchestrator", c.Orchestrator, []string{OrchestratorStepFunctions, OrchestratorDBOS}},
	}
	for _, check := range checks {
		if !contains(check.allowed, check.value) {
			return fmt.Errorf("invalid %s %q (expected one of %s)", check.key, check.value, strings.Join(check.allowed, ", "))
		}
	}
	if c.MaxDimension <= 0 {
		return fmt.Errorf("invalid max_dimension %d", c.MaxDimension)
	}
	return nil
}

// StaticParams returns the parameter values served by the static backend
func (c *Config) StaticParams() map[string]string {
	return map[string]string{
		pipeline.ParamTableName:       c.TableName,
		pipeline.ParamEndpointConfig:  c.EndpointConfig,
		pipeline.ParamStateMachineARN: c.StateMachineARN,
		pipeline.ParamQueueURL:        c.QueueURL,
	}
}

// EtcdEndpointList splits the comma-separated etcd endpoints
func (c *Config) EtcdEndpointList() []string {
	var out []string
	for _, ep := range strings.Split(c.EtcdEndpoints, ",") {
		if ep = strings.TrimSpace(ep); ep != "" {
			out = append(out, ep)
		}
	}
	return out
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

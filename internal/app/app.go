package app

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/sagemakerruntime"
	"github.com/aws/aws-sdk-go-v2/service/sfn"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	clientv3 "go.etcd.io/etcd/client/v3"

	"github.com/tendant/image-inference-pipeline/internal/config"
	"github.com/tendant/image-inference-pipeline/internal/dedupe"
	"github.com/tendant/image-inference-pipeline/internal/inference"
	"github.com/tendant/image-inference-pipeline/internal/orchestrator"
	"github.com/tendant/image-inference-pipeline/internal/params"
	"github.com/tendant/image-inference-pipeline/internal/queue"
	"github.com/tendant/image-inference-pipeline/internal/recordstore"
	"github.com/tendant/image-inference-pipeline/internal/storage"
	"github.com/tendant/image-inference-pipeline/internal/workflows"
)

// Components holds the backends selected by configuration
type Components struct {
	Config   *config.Config
	Objects  storage.Store
	Records  recordstore.Store
	Invoker  inference.Invoker
	Params   params.Store
	RecordDB *sql.DB

	aws     *aws.Config
	closers []func() error
}

// Build creates every backend named in cfg. AWS clients share one default
// config, loaded only when some backend needs it.
func Build(ctx context.Context, cfg *config.Config) (*Components, error) {
	c := &Components{Config: cfg}

	var err error
	if c.Objects, err = c.buildObjects(ctx); err != nil {
		c.Close()
		return nil, err
	}
	if c.Records, err = c.buildRecords(ctx); err != nil {
		c.Close()
		return nil, err
	}
	if c.Invoker, err = c.buildInvoker(ctx); err != nil {
		c.Close()
		return nil, err
	}
	if c.Params, err = c.buildParams(ctx); err != nil {
		c.Close()
		return nil, err
	}

	log.Printf("✓ Backends: storage=%s records=%s inference=%s params=%s",
		cfg.StorageBackend, cfg.RecordBackend, cfg.InferenceBackend, cfg.ParamBackend)
	return c, nil
}

// Steps builds the resize, lookup, inference and render steps
func (c *Components) Steps() workflows.Steps {
	return workflows.Steps{
		Resize:    workflows.NewResizeStep(c.Objects, c.Objects, c.Config.MaxDimension),
		Lookup:    workflows.NewLookupStep(c.Params),
		Inference: workflows.NewInferenceStep(c.Objects, c.Invoker, c.Records),
		Render:    workflows.NewRenderStep(c.Objects, c.Objects, c.Records),
	}
}

// StepFunctionsStarter starts executions of the configured state machine
func (c *Components) StepFunctionsStarter(ctx context.Context) (*orchestrator.StepFunctionsStarter, error) {
	awsCfg, err := c.awsConfig(ctx)
	if err != nil {
		return nil, err
	}
	return orchestrator.NewStepFunctionsStarter(sfn.NewFromConfig(awsCfg), c.Params), nil
}

// Starter picks where ingested images are started: the Step Functions state
// machine, or durable, the DBOS runner, when ORCHESTRATOR is dbos
func (c *Components) Starter(ctx context.Context, durable workflows.Starter) (workflows.Starter, error) {
	if c.Config.Orchestrator == config.OrchestratorDBOS {
		if durable == nil {
			return nil, fmt.Errorf("orchestrator %s needs a DBOS runtime; run ingest in the pipeline worker", config.OrchestratorDBOS)
		}
		return durable, nil
	}
	return c.StepFunctionsStarter(ctx)
}

// IngestStep builds the ingest step on the configured starter and SQS.
// ledger may be nil.
func (c *Components) IngestStep(ctx context.Context, durable workflows.Starter, ledger workflows.DedupeRecorder) (*workflows.IngestStep, error) {
	starter, err := c.Starter(ctx, durable)
	if err != nil {
		return nil, err
	}
	acker, err := c.SQSAcker(ctx)
	if err != nil {
		return nil, err
	}
	log.Printf("✓ Ingest starts pipelines with orchestrator=%s", c.Config.Orchestrator)
	return workflows.NewIngestStep(c.Params, starter, acker, ledger), nil
}

// SQSAcker deletes consumed SQS messages
func (c *Components) SQSAcker(ctx context.Context) (*queue.SQSAcker, error) {
	awsCfg, err := c.awsConfig(ctx)
	if err != nil {
		return nil, err
	}
	return queue.NewSQSAcker(sqs.NewFromConfig(awsCfg)), nil
}

// Dedupe returns the ingest ledger on the SQL record database, or nil when
// dedupe is disabled or records live in a store the ledger does not support
func (c *Components) Dedupe() (workflows.DedupeRecorder, error) {
	if !c.Config.DedupeEnabled {
		return nil, nil
	}
	if c.RecordDB == nil || c.Config.RecordBackend == config.RecordsMySQL {
		log.Printf("Warning: dedupe is not available with record backend %s", c.Config.RecordBackend)
		return nil, nil
	}
	tracker, err := dedupe.NewTracker(c.RecordDB, c.Config.RecordBackend)
	if err != nil {
		return nil, err
	}
	return tracker, nil
}

// Close releases database and etcd connections
func (c *Components) Close() {
	for i := len(c.closers) - 1; i >= 0; i-- {
		if err := c.closers[i](); err != nil {
			log.Printf("Warning: close failed: %v", err)
		}
	}
	c.closers = nil
}

func (c *Components) awsConfig(ctx context.Context) (aws.Config, error) {
	if c.aws != nil {
		return *c.aws, nil
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return aws.Config{}, fmt.Errorf("failed to load AWS config: %w", err)
	}
	c.aws = &awsCfg
	return awsCfg, nil
}

func (c *Components) buildObjects(ctx context.Context) (storage.Store, error) {
	cfg := c.Config
	switch cfg.StorageBackend {
	case config.StorageFilesystem:
		return storage.NewFilesystemStorage(cfg.StorageDir)
	case config.StorageCOS:
		return storage.NewCOSStorage(storage.COSConfig{
			SecretID:  cfg.COSSecretID,
			SecretKey: cfg.COSSecretKey,
			Region:    cfg.COSRegion,
			Endpoint:  cfg.COSEndpoint,
		}), nil
	default:
		awsCfg, err := c.awsConfig(ctx)
		if err != nil {
			return nil, err
		}
		return storage.NewS3Storage(s3.NewFromConfig(awsCfg)), nil
	}
}

func (c *Components) buildRecords(ctx context.Context) (recordstore.Store, error) {
	cfg := c.Config
	if cfg.RecordBackend == config.RecordsDynamoDB {
		awsCfg, err := c.awsConfig(ctx)
		if err != nil {
			return nil, err
		}
		return recordstore.NewDynamoStore(dynamodb.NewFromConfig(awsCfg)), nil
	}

	if cfg.RecordDSN == "" {
		return nil, fmt.Errorf("RECORD_DSN is required for record backend %s", cfg.RecordBackend)
	}
	db, err := sql.Open(cfg.RecordBackend, cfg.RecordDSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s record database: %w", cfg.RecordBackend, err)
	}
	c.closers = append(c.closers, db.Close)
	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("failed to reach %s record database: %w", cfg.RecordBackend, err)
	}
	c.RecordDB = db
	return recordstore.NewSQLStore(db, cfg.RecordBackend)
}

func (c *Components) buildInvoker(ctx context.Context) (inference.Invoker, error) {
	cfg := c.Config
	if cfg.InferenceBackend == config.InferenceHTTP {
		return inference.NewHTTPInvoker(cfg.InferenceURL, cfg.InferenceTimeout), nil
	}
	awsCfg, err := c.awsConfig(ctx)
	if err != nil {
		return nil, err
	}
	return inference.NewSageMakerInvoker(sagemakerruntime.NewFromConfig(awsCfg)), nil
}

func (c *Components) buildParams(ctx context.Context) (params.Store, error) {
	cfg := c.Config
	switch cfg.ParamBackend {
	case config.ParamsStatic:
		return params.NewStaticStore(cfg.StaticParams()), nil
	case config.ParamsEtcd:
		cli, err := clientv3.New(clientv3.Config{
			Endpoints:   cfg.EtcdEndpointList(),
			DialTimeout: 5 * time.Second,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to connect to etcd: %w", err)
		}
		c.closers = append(c.closers, cli.Close)
		return params.NewEtcdStore(cli, cfg.EtcdPrefix), nil
	default:
		awsCfg, err := c.awsConfig(ctx)
		if err != nil {
			return nil, err
		}
		return params.NewSSMStore(ssm.NewFromConfig(awsCfg)), nil
	}
}

package factory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"onboarding-service/internal/audit"
	"onboarding-service/internal/bucketing"
	"onboarding-service/internal/client"
	"onboarding-service/internal/config"
	"onboarding-service/internal/hashing"
	"onboarding-service/internal/identity"
	"onboarding-service/internal/mail"
	redisrepo "onboarding-service/internal/repository/redis"
	"onboarding-service/internal/repository/scylla"
	"onboarding-service/internal/service"
	"onboarding-service/internal/storage"
	"onboarding-service/internal/tls"
	"onboarding-service/internal/util"
)

// Factory manages the lifecycle of all application dependencies
type Factory struct {
	config     *config.Config
	tlsManager *tls.TLSManager

	// Clients
	redisClient      *client.RedisClient
	scyllaClient     *scylla.ScyllaClient
	kafkaProducer    *client.KafkaProducer
	esClient         *client.ESClient
	clickhouseClient *client.ClickHouseClient
	blobStore        *storage.BlobStore

	// Managers
	hasher           *hashing.Hasher
	codec            *identity.Codec
	bucketingManager *bucketing.BucketingManager

	// Repositories and caches
	trackerRepository scylla.TrackerRepository
	formRepository    scylla.FormRepository
	sessionCache      *redisrepo.SessionCache
	verificationCache *redisrepo.VerificationCache

	// Collaborators
	mailDispatcher mail.Dispatcher
	auditRecorder  audit.Recorder
	trackerIndexer audit.Indexer

	// Services
	sessionService    *service.SessionService
	resumeService     *service.ResumeService
	onboardingService *service.OnboardingService
	cleanupService    *service.CleanupService

	closeOnce sync.Once
}

// NewFactory creates and initializes all application dependencies
func NewFactory() (*Factory, error) {
	cfg := config.LoadConfig()

	util.Init(cfg.Environment, cfg.Logging.Level, cfg.Logging.Format)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	factory := &Factory{
		config: cfg,
	}

	if cfg.Server.EnableTLS {
		factory.tlsManager = tls.NewTLSManager(&tls.TLSConfig{
			EnableTLS:   cfg.Server.EnableTLS,
			AutoCert:    cfg.Server.AutoCert,
			Domain:      cfg.Server.Domain,
			CertFile:    cfg.Server.CertFile,
			KeyFile:     cfg.Server.KeyFile,
			AutoCertDir: cfg.Server.AutoCertDir,
			Email:       cfg.Server.Email,
			Environment: cfg.Environment,
		})
	}

	if err := factory.initializeClients(); err != nil {
		return nil, fmt.Errorf("failed to initialize clients: %w", err)
	}

	if err := factory.initializeManagers(); err != nil {
		return nil, fmt.Errorf("failed to initialize managers: %w", err)
	}

	factory.initializeRepositories()
	factory.initializeCollaborators()
	factory.initializeServices()

	util.Info("Factory initialized successfully",
		util.String("environment", cfg.Environment),
		util.Bool("tls_enabled", cfg.Server.EnableTLS))

	return factory, nil
}

// initializeClients initializes all external service clients with health checks
func (f *Factory) initializeClients() error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	var initErrors []error

	// Redis
	if redisClient, err := client.NewRedisClient(f.config, util.Get()); err != nil {
		initErrors = append(initErrors, fmt.Errorf("redis: %w", err))
	} else {
		f.redisClient = redisClient
		if err := f.redisClient.HealthCheck(ctx); err != nil {
			initErrors = append(initErrors, fmt.Errorf("redis health check: %w", err))
		} else {
			util.Info("Redis client initialized and healthy")
		}
	}

	// ScyllaDB
	if scyllaClient, err := scylla.NewScyllaClient(f.config, util.Get()); err != nil {
		initErrors = append(initErrors, fmt.Errorf("scylla: %w", err))
	} else {
		f.scyllaClient = scyllaClient
		if err := f.scyllaClient.HealthCheck(); err != nil {
			initErrors = append(initErrors, fmt.Errorf("scylla health check: %w", err))
		} else {
			util.Info("ScyllaDB client initialized and healthy")
		}
	}

	// Kafka is a side-effect path; the service runs without it.
	if producer, err := client.NewKafkaProducer(f.config, util.Get()); err != nil {
		util.Warn("Kafka producer initialization failed - proceeding without Kafka", util.ErrorField(err))
	} else {
		f.kafkaProducer = producer
	}

	// Elasticsearch, also side-effect only.
	if esClient, err := client.NewElasticsearchClient(f.config, util.Get()); err != nil {
		util.Warn("Elasticsearch initialization failed - proceeding without search indexing", util.ErrorField(err))
	} else {
		f.esClient = esClient
	}

	// ClickHouse, also side-effect only.
	if chClient, err := client.NewClickHouseClient(f.config, util.Get()); err != nil {
		util.Warn("ClickHouse initialization failed - proceeding without audit events", util.ErrorField(err))
	} else {
		f.clickhouseClient = chClient
	}

	// Blob storage holds driver uploads; cleanup needs it.
	if blobStore, err := storage.NewBlobStore(f.config); err != nil {
		initErrors = append(initErrors, fmt.Errorf("blob store: %w", err))
	} else {
		f.blobStore = blobStore
		if err := f.blobStore.EnsureBucket(ctx); err != nil {
			util.Warn("Blob bucket check failed", util.ErrorField(err))
		}
	}

	if len(initErrors) > 0 {
		if f.config.IsProduction() {
			return fmt.Errorf("critical service initialization failed: %v", initErrors)
		}
		for _, err := range initErrors {
			util.Warn("Service initialization warning", util.ErrorField(err))
		}
	}

	return nil
}

func (f *Factory) initializeManagers() error {
	codec, err := identity.NewCodec(f.config)
	if err != nil {
		return fmt.Errorf("identity codec: %w", err)
	}

	f.codec = codec
	f.hasher = hashing.NewHasher(f.config)
	f.bucketingManager = bucketing.NewBucketingManager(f.config)
	return nil
}

func (f *Factory) initializeRepositories() {
	f.trackerRepository = scylla.NewTrackerRepository(f.scyllaClient, f.bucketingManager, util.Get())
	f.formRepository = scylla.NewFormRepository(f.scyllaClient, util.Get())
	f.sessionCache = redisrepo.NewSessionCache(f.redisClient)
	f.verificationCache = redisrepo.NewVerificationCache(f.redisClient)
}

func (f *Factory) initializeCollaborators() {
	if f.kafkaProducer != nil {
		f.mailDispatcher = mail.NewKafkaDispatcher(f.kafkaProducer, f.config)
	} else {
		f.mailDispatcher = mail.NoopDispatcher{}
	}

	if f.clickhouseClient != nil {
		f.auditRecorder = audit.NewClickHouseRecorder(f.clickhouseClient)
	} else {
		f.auditRecorder = audit.NoopRecorder{}
	}

	if f.esClient != nil {
		f.trackerIndexer = audit.NewESIndexer(f.esClient, f.config)
	} else {
		f.trackerIndexer = audit.NoopIndexer{}
	}
}

func (f *Factory) initializeServices() {
	f.sessionService = service.NewSessionService(f.sessionCache, f.config)

	f.resumeService = service.NewResumeService(
		f.trackerRepository, f.verificationCache, f.sessionService,
		f.codec, f.hasher, f.mailDispatcher, f.auditRecorder, f.config)

	// Cleanup comes first: onboarding reuses its cascade when it replaces a
	// dead application in place.
	f.cleanupService = service.NewCleanupService(
		f.trackerRepository, f.formRepository, f.sessionCache,
		f.verificationCache, f.blobStore, f.auditRecorder,
		f.trackerIndexer, f.config)

	f.onboardingService = service.NewOnboardingService(
		f.trackerRepository, f.formRepository, f.sessionService,
		f.codec, f.blobStore, f.cleanupService,
		f.auditRecorder, f.trackerIndexer, f.config)
}

func (f *Factory) Config() *config.Config {
	return f.config
}

func (f *Factory) TLSManager() *tls.TLSManager {
	return f.tlsManager
}

func (f *Factory) OnboardingService() *service.OnboardingService {
	return f.onboardingService
}

func (f *Factory) ResumeService() *service.ResumeService {
	return f.resumeService
}

func (f *Factory) CleanupService() *service.CleanupService {
	return f.cleanupService
}

// Close shuts down every client exactly once.
func (f *Factory) Close() {
	f.closeOnce.Do(func() {
		if f.kafkaProducer != nil {
			_ = f.kafkaProducer.Close()
		}
		if f.clickhouseClient != nil {
			_ = f.clickhouseClient.Close()
		}
		if f.esClient != nil {
			f.esClient.Close()
		}
		if f.scyllaClient != nil {
			f.scyllaClient.Close()
		}
		if f.redisClient != nil {
			_ = f.redisClient.Close()
		}
		util.Info("Factory closed")
		util.Sync()
	})
}

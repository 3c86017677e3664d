package scylla

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gocql/gocql"
	"go.uber.org/zap"

	"onboarding-service/internal/config"
	"onboarding-service/internal/util"
)

// PreparedStatements holds prepared statements that are actually used by the repositories
type PreparedStatements struct {
	CreateTracker          *gocql.Query
	CreateIdentifierLookup *gocql.Query
	GetTrackerByID         *gocql.Query
	GetTrackerByIdentifier *gocql.Query
	UpdateTrackerStatus    *gocql.Query
	UpdateResumeExpiry     *gocql.Query
	UpdateTrackerForms     *gocql.Query
	TerminateTracker       *gocql.Query

	CreateFormDocument   *gocql.Query
	GetFormsByTracker    *gocql.Query
	DeleteFormsByTracker *gocql.Query
}

type ScyllaClient struct {
	Session      *gocql.Session
	config       *config.ScyllaConfig
	Prepared     *PreparedStatements
	prepareMutex sync.RWMutex
	isPrepared   bool
}

func NewScyllaClient(cfg *config.Config, logger *zap.Logger) (*ScyllaClient, error) {
	scyllaConfig := cfg.Scylla

	cluster := gocql.NewCluster(scyllaConfig.Nodes...)
	cluster.Keyspace = scyllaConfig.Keyspace
	cluster.Consistency = gocql.LocalQuorum
	cluster.Timeout = 10 * time.Second
	cluster.ConnectTimeout = 10 * time.Second
	cluster.NumConns = 4
	cluster.SocketKeepalive = 30 * time.Second
	cluster.MaxPreparedStmts = 1000
	cluster.MaxRoutingKeyInfo = 1000
	cluster.PageSize = 1000
	cluster.RetryPolicy = &gocql.ExponentialBackoffRetryPolicy{
		Min:        time.Second,
		Max:        10 * time.Second,
		NumRetries: 3,
	}

	if scyllaConfig.Username != "" && scyllaConfig.Password != "" {
		cluster.Authenticator = gocql.PasswordAuthenticator{
			Username: scyllaConfig.Username,
			Password: scyllaConfig.Password,
		}
	}

	session, err := cluster.CreateSession()
	if err != nil {
		return nil, fmt.Errorf("failed to create scylla session: %w", err)
	}

	client := &ScyllaClient{
		Session: session,
		config:  &scyllaConfig,
	}

	if err := client.prepareStatements(); err != nil {
		session.Close()
		return nil, fmt.Errorf("failed to prepare statements: %w", err)
	}

	util.Info("ScyllaDB client initialized with prepared statements",
		zap.Strings("nodes", scyllaConfig.Nodes),
		zap.String("keyspace", scyllaConfig.Keyspace))

	return client, nil
}

func (s *ScyllaClient) prepareStatements() error {
	s.prepareMutex.Lock()
	defer s.prepareMutex.Unlock()

	if s.isPrepared {
		return nil
	}

	prepared := &PreparedStatements{}

	prepared.CreateTracker = s.Session.Query(`
    INSERT INTO trackers (
        tracker_bucket, tracker_id, identifier_hash, identifier_encrypted,
        email_encrypted, first_name, last_name, company_id, application_type,
        needs_flatbed_training, current_step, completed_steps, completed,
        resume_expires_at, terminated, termination_type, forms,
        created_at, updated_at
    ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)

	prepared.CreateIdentifierLookup = s.Session.Query(`
        INSERT INTO identifier_to_tracker (identifier_hash, tracker_bucket, tracker_id, created_at)
        VALUES (?, ?, ?, ?)`)

	prepared.GetTrackerByID = s.Session.Query(`
        SELECT tracker_bucket, tracker_id, identifier_hash, identifier_encrypted,
            email_encrypted, first_name, last_name, company_id, application_type,
            needs_flatbed_training, current_step, completed_steps, completed,
            resume_expires_at, terminated, termination_type, forms,
            created_at, updated_at
        FROM trackers WHERE tracker_bucket = ? AND tracker_id = ?`)

	prepared.GetTrackerByIdentifier = s.Session.Query(`
        SELECT tracker_bucket, tracker_id FROM identifier_to_tracker WHERE identifier_hash = ?`)

	prepared.UpdateTrackerStatus = s.Session.Query(`
        UPDATE trackers SET current_step = ?, completed_steps = ?, completed = ?, updated_at = ?
        WHERE tracker_bucket = ? AND tracker_id = ?`)

	prepared.UpdateResumeExpiry = s.Session.Query(`
        UPDATE trackers SET resume_expires_at = ?, updated_at = ?
        WHERE tracker_bucket = ? AND tracker_id = ?`)

	prepared.UpdateTrackerForms = s.Session.Query(`
        UPDATE trackers SET forms = ?, updated_at = ?
        WHERE tracker_bucket = ? AND tracker_id = ?`)

	prepared.TerminateTracker = s.Session.Query(`
        UPDATE trackers SET terminated = ?, termination_type = ?, updated_at = ?
        WHERE tracker_bucket = ? AND tracker_id = ?`)

	prepared.CreateFormDocument = s.Session.Query(`
        INSERT INTO form_documents (tracker_id, form_id, form_type, blob_keys, payload, created_at)
        VALUES (?, ?, ?, ?, ?, ?)`)

	prepared.GetFormsByTracker = s.Session.Query(`
        SELECT tracker_id, form_id, form_type, blob_keys, payload, created_at
        FROM form_documents WHERE tracker_id = ?`)

	prepared.DeleteFormsByTracker = s.Session.Query(`
        DELETE FROM form_documents WHERE tracker_id = ?`)

	s.Prepared = prepared
	s.isPrepared = true

	util.Info("ScyllaDB prepared statements created successfully")
	return nil
}

func (s *ScyllaClient) Close() {
	if s.Session != nil {
		s.Session.Close()
		util.Info("ScyllaDB client closed")
	}
}

func (s *ScyllaClient) Query(stmt string, values ...interface{}) *gocql.Query {
	return s.Session.Query(stmt, values...)
}

func (s *ScyllaClient) Batch(typ gocql.BatchType) *gocql.Batch {
	return s.Session.NewBatch(typ)
}

func (s *ScyllaClient) ExecuteBatch(batch *gocql.Batch) error {
	return s.Session.ExecuteBatch(batch)
}

func (s *ScyllaClient) HealthCheck() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var clusterName string
	err := s.Session.Query(`SELECT cluster_name FROM system.local`).WithContext(ctx).Scan(&clusterName)
	if err != nil {
		return fmt.Errorf("scylla health check failed: %w", err)
	}

	util.Debug("ScyllaDB health check passed", zap.String("cluster_name", clusterName))
	return nil
}

func (s *ScyllaClient) ExecuteWithRetry(query *gocql.Query, maxRetries int) error {
	var lastErr error
	for i := 0; i <= maxRetries; i++ {
		if err := query.Exec(); err != nil {
			lastErr = err
			if i < maxRetries {
				time.Sleep(time.Duration(i+1) * 100 * time.Millisecond)
				continue
			}
		} else {
			return nil
		}
	}
	return lastErr
}

func (s *ScyllaClient) ScanWithRetry(query *gocql.Query, dest ...interface{}) error {
	var lastErr error
	for i := 0; i < 3; i++ {
		if err := query.Scan(dest...); err != nil {
			lastErr = err
			if i < 2 {
				time.Sleep(time.Duration(i+1) * 100 * time.Millisecond)
				continue
			}
		} else {
			return nil
		}
	}
	return lastErr
}

package service

import (
	"context"
	"encoding/hex"
	"errors"
	"io"
	"sync"
	"time"

	"onboarding-service/internal/config"
	"onboarding-service/internal/flow"
	"onboarding-service/internal/mail"
	"onboarding-service/internal/model"
	redisrepo "onboarding-service/internal/repository/redis"
	"onboarding-service/internal/repository/scylla"
)

func testConfig() *config.Config {
	cfg := &config.Config{}
	cfg.Identity.HashSecret = "test-hash-secret"
	cfg.Identity.EncryptionKey = hex.EncodeToString(make([]byte, 32))
	cfg.Session.TTL = 6 * time.Hour
	cfg.Verification.CodeTTL = 10 * time.Minute
	cfg.Verification.MaxAttempts = 5
	cfg.Verification.ResendWindow = 60 * time.Second
	cfg.Cleanup.ResumeTTL = 14 * 24 * time.Hour
	cfg.Cleanup.BatchCap = 5000
	cfg.Cleanup.TriggerSecret = "test-cleanup-secret"
	cfg.Bucketing.TrackerBuckets = 64
	return cfg
}

// fakeTrackerRepo is an in-memory scylla.TrackerRepository.
type fakeTrackerRepo struct {
	mu       sync.Mutex
	byID     map[string]*model.Tracker
	byHash   map[string]string
	nextID   int
	creates  int
	failNext error
}

func newFakeTrackerRepo() *fakeTrackerRepo {
	return &fakeTrackerRepo{
		byID:   map[string]*model.Tracker{},
		byHash: map[string]string{},
	}
}

func (f *fakeTrackerRepo) Create(tracker *model.Tracker) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failNext != nil {
		err := f.failNext
		f.failNext = nil
		return err
	}
	if tracker.TrackerID == "" {
		f.nextID++
		tracker.TrackerID = "tracker-" + time.Now().Format("150405") + "-" + string(rune('a'+f.nextID))
	}
	tracker.CreatedAt = time.Now().UTC()
	copied := *tracker
	f.byID[tracker.TrackerID] = &copied
	f.byHash[tracker.IdentifierHash] = tracker.TrackerID
	f.creates++
	return nil
}

func (f *fakeTrackerRepo) GetByID(trackerID string) (*model.Tracker, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	tracker, ok := f.byID[trackerID]
	if !ok {
		return nil, scylla.ErrTrackerNotFound
	}
	copied := *tracker
	return &copied, nil
}

func (f *fakeTrackerRepo) GetByIdentifierHash(identifierHash string) (*model.Tracker, error) {
	f.mu.Lock()
	trackerID, ok := f.byHash[identifierHash]
	f.mu.Unlock()
	if !ok {
		return nil, scylla.ErrTrackerNotFound
	}
	return f.GetByID(trackerID)
}

func (f *fakeTrackerRepo) UpdateStatus(trackerID string, status flow.Status) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if tracker, ok := f.byID[trackerID]; ok {
		tracker.Status = status
	}
	return nil
}

func (f *fakeTrackerRepo) UpdateResumeExpiresAt(trackerID string, expiresAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if tracker, ok := f.byID[trackerID]; ok {
		tracker.ResumeExpiresAt = expiresAt
	}
	return nil
}

func (f *fakeTrackerRepo) UpdateForms(trackerID string, forms map[string]string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if tracker, ok := f.byID[trackerID]; ok {
		tracker.Forms = forms
	}
	return nil
}

func (f *fakeTrackerRepo) Terminate(trackerID string, terminationType string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if tracker, ok := f.byID[trackerID]; ok {
		tracker.Terminated = true
		tracker.TerminationType = terminationType
	}
	return nil
}

func (f *fakeTrackerRepo) ListAbandoned(before time.Time, limit int) ([]*model.Tracker, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*model.Tracker
	for _, tracker := range f.byID {
		if tracker.Status.Completed {
			continue
		}
		if tracker.ResumeExpiresAt.Before(before) {
			copied := *tracker
			out = append(out, &copied)
			if len(out) >= limit {
				break
			}
		}
	}
	return out, nil
}

func (f *fakeTrackerRepo) Delete(tracker *model.Tracker) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.byID, tracker.TrackerID)
	delete(f.byHash, tracker.IdentifierHash)
	return nil
}

// fakeFormRepo is an in-memory scylla.FormRepository.
type fakeFormRepo struct {
	mu      sync.Mutex
	byID    map[string][]*model.FormDocument
	nextID  int
	listErr error
}

func newFakeFormRepo() *fakeFormRepo {
	return &fakeFormRepo{byID: map[string][]*model.FormDocument{}}
}

func (f *fakeFormRepo) Create(doc *model.FormDocument) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if doc.FormID == "" {
		f.nextID++
		doc.FormID = "form-" + string(rune('a'+f.nextID))
	}
	doc.CreatedAt = time.Now().UTC()
	copied := *doc
	f.byID[doc.TrackerID] = append(f.byID[doc.TrackerID], &copied)
	return nil
}

func (f *fakeFormRepo) ListByTracker(trackerID string) ([]*model.FormDocument, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listErr != nil {
		return nil, f.listErr
	}
	return append([]*model.FormDocument(nil), f.byID[trackerID]...), nil
}

func (f *fakeFormRepo) DeleteByTracker(trackerID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.byID, trackerID)
	return nil
}

// fakeSessionStore is an in-memory SessionStore.
type fakeSessionStore struct {
	mu       sync.Mutex
	sessions map[string]*model.Session
	active   map[string]string
}

func newFakeSessionStore() *fakeSessionStore {
	return &fakeSessionStore{
		sessions: map[string]*model.Session{},
		active:   map[string]string{},
	}
}

func (f *fakeSessionStore) Store(session *model.Session, slidingWindow time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	copied := *session
	f.sessions[session.SessionID] = &copied
	f.active[session.TrackerID] = session.SessionID
	return nil
}

func (f *fakeSessionStore) Get(sessionID string) (*model.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	session, ok := f.sessions[sessionID]
	if !ok {
		return nil, redisrepo.ErrSessionNotFound
	}
	copied := *session
	return &copied, nil
}

func (f *fakeSessionStore) Touch(session *model.Session, slidingWindow time.Duration) error {
	now := time.Now().UTC()
	session.LastUsedAt = now
	session.ExpiresAt = now.Add(slidingWindow)
	return f.Store(session, slidingWindow)
}

func (f *fakeSessionStore) Revoke(sessionID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if session, ok := f.sessions[sessionID]; ok {
		session.Revoked = true
	}
	return nil
}

func (f *fakeSessionStore) GetActiveSessionID(trackerID string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	sessionID, ok := f.active[trackerID]
	if !ok {
		return "", redisrepo.ErrSessionNotFound
	}
	return sessionID, nil
}

func (f *fakeSessionStore) DeleteByTracker(trackerID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if sessionID, ok := f.active[trackerID]; ok {
		delete(f.sessions, sessionID)
		delete(f.active, trackerID)
	}
	return nil
}

// fakeCodeStore is an in-memory CodeStore.
type fakeCodeStore struct {
	mu    sync.Mutex
	codes map[string]*model.VerificationCode
}

func newFakeCodeStore() *fakeCodeStore {
	return &fakeCodeStore{codes: map[string]*model.VerificationCode{}}
}

func codeMapKey(trackerID, purpose string) string {
	return trackerID + ":" + purpose
}

func (f *fakeCodeStore) Store(code *model.VerificationCode, ttl time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	copied := *code
	f.codes[codeMapKey(code.TrackerID, code.Purpose)] = &copied
	return nil
}

func (f *fakeCodeStore) Get(trackerID, purpose string) (*model.VerificationCode, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	code, ok := f.codes[codeMapKey(trackerID, purpose)]
	if !ok {
		return nil, redisrepo.ErrCodeNotFound
	}
	if time.Now().UTC().After(code.ExpiresAt) {
		return nil, redisrepo.ErrCodeNotFound
	}
	copied := *code
	return &copied, nil
}

func (f *fakeCodeStore) IncrementAttempts(code *model.VerificationCode) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	stored, ok := f.codes[codeMapKey(code.TrackerID, code.Purpose)]
	if !ok {
		return redisrepo.ErrCodeNotFound
	}
	stored.Attempts++
	code.Attempts = stored.Attempts
	return nil
}

func (f *fakeCodeStore) Delete(trackerID, purpose string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.codes, codeMapKey(trackerID, purpose))
	return nil
}

func (f *fakeCodeStore) DeleteByTracker(trackerID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for key := range f.codes {
		if len(key) > len(trackerID) && key[:len(trackerID)] == trackerID {
			delete(f.codes, key)
		}
	}
	return nil
}

// fakeMailer records dispatched mails.
type fakeMailer struct {
	mu   sync.Mutex
	sent []mail.ResumeCodeMail
	fail error
}

func (f *fakeMailer) SendResumeCode(ctx context.Context, m mail.ResumeCodeMail) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail != nil {
		return f.fail
	}
	f.sent = append(f.sent, m)
	return nil
}

func (f *fakeMailer) lastSent() (mail.ResumeCodeMail, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.sent) == 0 {
		return mail.ResumeCodeMail{}, false
	}
	return f.sent[len(f.sent)-1], true
}

// fakeDocumentStore is an in-memory DocumentStore.
type fakeDocumentStore struct {
	mu      sync.Mutex
	objects map[string][]byte
	fail    error
}

func newFakeDocumentStore() *fakeDocumentStore {
	return &fakeDocumentStore{objects: map[string][]byte{}}
}

func (f *fakeDocumentStore) Upload(ctx context.Context, objectKey string, reader io.Reader, size int64, contentType string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail != nil {
		return f.fail
	}
	data, err := io.ReadAll(reader)
	if err != nil {
		return err
	}
	f.objects[objectKey] = data
	return nil
}

func (f *fakeDocumentStore) Download(ctx context.Context, objectKey string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.objects[objectKey]
	if !ok {
		return nil, errors.New("object not found")
	}
	return append([]byte(nil), data...), nil
}

// fakeBlobDeleter records deletions and can fail on demand.
type fakeBlobDeleter struct {
	mu      sync.Mutex
	deleted []string
	fail    error
}

func (f *fakeBlobDeleter) DeleteAll(ctx context.Context, objectKeys []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail != nil {
		return f.fail
	}
	f.deleted = append(f.deleted, objectKeys...)
	return nil
}

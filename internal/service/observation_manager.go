package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"sort"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/sma-observation-api/internal/models"
	"github.com/noah-isme/sma-observation-api/pkg/bucket"
	"github.com/noah-isme/sma-observation-api/pkg/docstore"
	appErrors "github.com/noah-isme/sma-observation-api/pkg/errors"
)

type recordStore interface {
	Get(ctx context.Context, path string) (docstore.Document, error)
	Create(ctx context.Context, path string, data map[string]interface{}) error
	Set(ctx context.Context, path string, data map[string]interface{}, opts docstore.WriteOptions) error
	List(ctx context.Context, collection string) ([]docstore.Document, error)
	WatchCollection(ctx context.Context, collection string, onNext func([]docstore.Document), onError func(error)) docstore.Unsubscribe
}

// AuditRecorder persists audit entries.
type AuditRecorder interface {
	Record(ctx context.Context, entry *models.AuditLog) error
}

// WriteObserver is notified about the outcome of every record write attempt.
type WriteObserver interface {
	ObserveObservationWrite(observation models.ObservationType, operation string, err error)
}

// Write operations reported to hooks and observers.
const (
	OperationUpsert  = "upsert"
	OperationAppend  = "append"
	OperationRequest = "request"
	OperationDecide  = "decide"
)

// WriteEvent describes a successful record write.
type WriteEvent struct {
	Definition Definition
	Operation  string
	Record     models.Record
	Actor      models.Actor
}

// WriteHook runs after a successful write. Hooks must not block.
type WriteHook func(ctx context.Context, event WriteEvent)

// ManagerOption customises an ObservationManager.
type ManagerOption func(*ObservationManager)

// WithManagerLogger sets the manager logger.
func WithManagerLogger(logger *zap.Logger) ManagerOption {
	return func(m *ObservationManager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithAuditRecorder enables audit entries for writes.
func WithAuditRecorder(audit AuditRecorder) ManagerOption {
	return func(m *ObservationManager) {
		m.audit = audit
	}
}

// WithWriteObserver installs a write outcome observer.
func WithWriteObserver(observer WriteObserver) ManagerOption {
	return func(m *ObservationManager) {
		m.observer = observer
	}
}

// WithWriteHooks appends post-write hooks.
func WithWriteHooks(hooks ...WriteHook) ManagerOption {
	return func(m *ObservationManager) {
		m.hooks = append(m.hooks, hooks...)
	}
}

// WithMetricsEnv sets the constants used by Metrics.
func WithMetricsEnv(env MetricsEnv) ManagerOption {
	return func(m *ObservationManager) {
		m.env = env
	}
}

// WithManagerClock overrides the clock, mainly for tests.
func WithManagerClock(now func() time.Time) ManagerOption {
	return func(m *ObservationManager) {
		if now != nil {
			m.now = now
		}
	}
}

// WithValidator shares a validator instance.
func WithValidator(v *validator.Validate) ManagerOption {
	return func(m *ObservationManager) {
		if v != nil {
			m.validator = v
		}
	}
}

// ObservationManager runs the record lifecycle of one observation type for one
// client: live history, bucket upserts, entry appends and approvals.
type ObservationManager struct {
	def        Definition
	store      recordStore
	collection string
	validator  *validator.Validate
	logger     *zap.Logger
	audit      AuditRecorder
	observer   WriteObserver
	hooks      []WriteHook
	env        MetricsEnv
	now        func() time.Time

	mu          sync.RWMutex
	history     []models.Record
	loaded      bool
	lastErr     error
	unsubscribe docstore.Unsubscribe
	listeners   map[int]func([]models.Record)
	nextID      int
}

// NewObservationManager builds a manager for def inside tenant's public namespace.
func NewObservationManager(def Definition, store recordStore, tenant string, opts ...ManagerOption) *ObservationManager {
	m := &ObservationManager{
		def:        def,
		store:      store,
		collection: docstore.PublicCollection(tenant, def.Collection),
		validator:  validator.New(),
		logger:     zap.NewNop(),
		now:        time.Now,
		listeners:  make(map[int]func([]models.Record)),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.logger = m.logger.With(zap.String("observation", string(def.Type)))
	return m
}

// Definition returns the configuration of this manager.
func (m *ObservationManager) Definition() Definition {
	return m.def
}

// Open subscribes to the collection. Calling Open on an open manager is a no-op.
func (m *ObservationManager) Open(ctx context.Context) {
	m.mu.Lock()
	if m.unsubscribe != nil {
		m.mu.Unlock()
		return
	}
	m.mu.Unlock()

	unsubscribe := m.store.WatchCollection(ctx, m.collection, m.onSnapshot, m.onError)

	m.mu.Lock()
	if m.unsubscribe != nil {
		m.mu.Unlock()
		unsubscribe()
		return
	}
	m.unsubscribe = unsubscribe
	m.mu.Unlock()
}

// Close releases the subscription. The manager can be opened again.
func (m *ObservationManager) Close() {
	m.mu.Lock()
	unsubscribe := m.unsubscribe
	m.unsubscribe = nil
	m.loaded = false
	m.mu.Unlock()
	if unsubscribe != nil {
		unsubscribe()
	}
}

// Loaded reports whether at least one snapshot has arrived since Open.
func (m *ObservationManager) Loaded() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.loaded
}

// History returns the records newest bucket first.
func (m *ObservationManager) History() []models.Record {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return cloneRecords(m.history)
}

// LastError returns the most recent subscription error, cleared by the next snapshot.
func (m *ObservationManager) LastError() error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lastErr
}

// OnChange registers fn for every history change and returns its release func.
func (m *ObservationManager) OnChange(fn func([]models.Record)) func() {
	m.mu.Lock()
	id := m.nextID
	m.nextID++
	m.listeners[id] = fn
	m.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			m.mu.Lock()
			delete(m.listeners, id)
			m.mu.Unlock()
		})
	}
}

// Metrics evaluates the definition's metrics on the current history.
func (m *ObservationManager) Metrics() models.ObservationMetrics {
	env := m.env
	env.Now = m.now()
	return m.def.Metrics(m.History(), env)
}

func (m *ObservationManager) onSnapshot(docs []docstore.Document) {
	records := make([]models.Record, 0, len(docs))
	for _, doc := range docs {
		records = append(records, m.decorate(models.RecordFromFields(doc.ID, doc.Data)))
	}
	sortRecords(records)

	m.mu.Lock()
	m.history = records
	m.loaded = true
	m.lastErr = nil
	m.mu.Unlock()
	m.notify()
}

func (m *ObservationManager) onError(err error) {
	m.logger.Warn("observation subscription error", zap.Error(err))
	m.mu.Lock()
	m.lastErr = appErrors.WrapAs(appErrors.ErrStoreUnavailable, err, "failed to load observation history")
	m.mu.Unlock()
}

func (m *ObservationManager) notify() {
	m.mu.RLock()
	snapshot := cloneRecords(m.history)
	listeners := make([]func([]models.Record), 0, len(m.listeners))
	for _, fn := range m.listeners {
		listeners = append(listeners, fn)
	}
	m.mu.RUnlock()
	for _, fn := range listeners {
		fn(snapshot)
	}
}

// UpsertForBucket merges patch into the record for bucketKey, creating it when absent.
func (m *ObservationManager) UpsertForBucket(ctx context.Context, actor models.Actor, bucketKey string, patch map[string]interface{}) (*models.Record, error) {
	record, err := m.upsert(ctx, actor, bucketKey, patch)
	m.observe(OperationUpsert, err)
	if err != nil {
		return nil, err
	}
	m.afterWrite(ctx, OperationUpsert, actor, *record)
	return record, nil
}

func (m *ObservationManager) upsert(ctx context.Context, actor models.Actor, bucketKey string, patch map[string]interface{}) (*models.Record, error) {
	if m.def.Approval != nil {
		return nil, appErrors.Clone(appErrors.ErrValidation, "records of this type are written through approval requests")
	}
	if err := m.authorizeWrite(actor, m.def.CanWrite(actor.Role)); err != nil {
		return nil, err
	}
	if err := bucket.Validate(m.def.Granularity, bucketKey); err != nil {
		return nil, appErrors.WrapAs(appErrors.ErrInvalidBucket, err, err.Error())
	}
	normalized, err := m.checkFields(patch)
	if err != nil {
		return nil, err
	}

	existing, found, err := m.lookup(ctx, bucketKey)
	if err != nil {
		return nil, err
	}

	merged := map[string]interface{}{}
	base := existing.Payload
	if !found {
		base = m.def.InitialFields()
	}
	for k, v := range base {
		merged[k] = v
	}
	for k, v := range normalized {
		merged[k] = v
	}
	if err := m.validatePayload(merged); err != nil {
		return nil, err
	}

	now := m.now().UTC()
	path := docstore.Join(m.collection, bucketKey)

	if found {
		changed := changedFields(existing.Payload, normalized)
		if len(changed) == 0 {
			return &existing, nil
		}
		if err := m.mergeWrite(ctx, path, changed, actor, now); err != nil {
			return nil, err
		}
		updated := existing
		updated.Payload = merged
		updated.AuthorID = actor.PrincipalID
		updated.WrittenAt = now
		updated = m.decorate(updated)
		m.applyLocal(updated)
		return &updated, nil
	}

	record := m.decorate(models.Record{
		ID:        bucketKey,
		BucketKey: bucketKey,
		Payload:   merged,
		AuthorID:  actor.PrincipalID,
		WrittenAt: now,
	})
	err = m.store.Create(ctx, path, record.Fields())
	if errors.Is(err, docstore.ErrAlreadyExists) {
		// Another client created the bucket first; the patch must hold over its fields.
		doc, getErr := m.store.Get(ctx, path)
		if getErr != nil {
			return nil, storeError(getErr, "failed to load observation record")
		}
		winner := models.RecordFromFields(doc.ID, doc.Data)
		merged := map[string]interface{}{}
		for k, v := range winner.Payload {
			merged[k] = v
		}
		for k, v := range normalized {
			merged[k] = v
		}
		if err := m.validatePayload(merged); err != nil {
			return nil, err
		}
		if err := m.mergeWrite(ctx, path, normalized, actor, now); err != nil {
			return nil, err
		}
		winner.Payload = merged
		winner.AuthorID = actor.PrincipalID
		winner.WrittenAt = now
		record = m.decorate(winner)
	} else if err != nil {
		return nil, storeError(err, "failed to create observation record")
	}
	m.applyLocal(record)
	return &record, nil
}

// AppendEntry adds entry to the bucket's list field and refreshes its count field.
func (m *ObservationManager) AppendEntry(ctx context.Context, actor models.Actor, bucketKey string, entry map[string]interface{}) (*models.Record, error) {
	record, err := m.appendEntry(ctx, actor, bucketKey, entry)
	m.observe(OperationAppend, err)
	if err != nil {
		return nil, err
	}
	m.afterWrite(ctx, OperationAppend, actor, *record)
	return record, nil
}

func (m *ObservationManager) appendEntry(ctx context.Context, actor models.Actor, bucketKey string, entry map[string]interface{}) (*models.Record, error) {
	policy := m.def.Entries
	if policy == nil {
		return nil, appErrors.Clone(appErrors.ErrValidation, "this observation does not keep an entry list")
	}
	if err := m.authorizeWrite(actor, m.def.CanWrite(actor.Role)); err != nil {
		return nil, err
	}
	if err := bucket.Validate(m.def.Granularity, bucketKey); err != nil {
		return nil, appErrors.WrapAs(appErrors.ErrInvalidBucket, err, err.Error())
	}
	normalized, err := normalizeFields(entry)
	if err != nil {
		return nil, appErrors.WrapAs(appErrors.ErrValidation, err, "invalid entry")
	}
	if err := m.validateSchema(policy.Schema(), normalized); err != nil {
		return nil, err
	}

	existing, found, err := m.lookup(ctx, bucketKey)
	if err != nil {
		return nil, err
	}
	var entries []interface{}
	if found {
		if current, ok := existing.Payload[policy.ListField].([]interface{}); ok {
			entries = append(entries, current...)
		}
	}
	entries = append(entries, normalized)

	count := 0
	for _, item := range entries {
		if fields, ok := item.(map[string]interface{}); ok {
			count += policy.Weight(fields)
		}
	}
	return m.upsert(ctx, actor, bucketKey, map[string]interface{}{
		policy.ListField:  entries,
		policy.CountField: count,
	})
}

// RequestApproval opens a pending request for bucketKey.
func (m *ObservationManager) RequestApproval(ctx context.Context, actor models.Actor, bucketKey string, fields map[string]interface{}) (*models.Record, error) {
	record, err := m.requestApproval(ctx, actor, bucketKey, fields)
	m.observe(OperationRequest, err)
	if err != nil {
		return nil, err
	}
	m.afterWrite(ctx, OperationRequest, actor, *record)
	return record, nil
}

func (m *ObservationManager) requestApproval(ctx context.Context, actor models.Actor, bucketKey string, fields map[string]interface{}) (*models.Record, error) {
	policy := m.def.Approval
	if policy == nil {
		return nil, appErrors.Clone(appErrors.ErrValidation, "this observation has no approval workflow")
	}
	if err := m.authorizeWrite(actor, m.def.CanRequest(actor.Role)); err != nil {
		return nil, err
	}
	if err := bucket.Validate(m.def.Granularity, bucketKey); err != nil {
		return nil, appErrors.WrapAs(appErrors.ErrInvalidBucket, err, err.Error())
	}
	normalized, err := m.checkFields(fields)
	if err != nil {
		return nil, err
	}
	if err := m.validatePayload(normalized); err != nil {
		return nil, err
	}

	// Re-read instead of trusting the cached history so a request created by
	// another client just now is seen.
	docs, err := m.store.List(ctx, m.collection)
	if err != nil {
		return nil, storeError(err, "failed to check existing requests")
	}
	attempts := 0
	for _, doc := range docs {
		existing := models.RecordFromFields(doc.ID, doc.Data)
		if existing.BucketKey != bucketKey || existing.Approval == nil {
			continue
		}
		attempts++
		switch existing.Status() {
		case models.ApprovalPending, models.ApprovalApproved:
			return nil, appErrors.Clone(appErrors.ErrDuplicateRequest, "")
		case models.ApprovalRejected:
			if !policy.AllowRetryAfterReject {
				return nil, appErrors.Clone(appErrors.ErrDuplicateRequest, "request for this period was rejected; a new period is required")
			}
		}
	}

	now := m.now().UTC()
	record := m.decorate(models.Record{
		ID:        requestID(bucketKey, attempts+1),
		BucketKey: bucketKey,
		Payload:   normalized,
		AuthorID:  actor.PrincipalID,
		WrittenAt: now,
		Approval: &models.Approval{
			RequestedBy: actor.PrincipalID,
			RequestedAt: now,
			Status:      models.ApprovalPending,
		},
	})
	// The attempt id is shared by every client that saw the same requests, so
	// create-if-absent admits exactly one of them.
	err = m.store.Create(ctx, docstore.Join(m.collection, record.ID), record.Fields())
	if errors.Is(err, docstore.ErrAlreadyExists) {
		return nil, appErrors.Clone(appErrors.ErrDuplicateRequest, "")
	}
	if err != nil {
		return nil, storeError(err, "failed to create approval request")
	}
	m.applyLocal(record)
	return &record, nil
}

// Decide resolves a pending request. Only the policy approver may decide and
// the transition is terminal.
func (m *ObservationManager) Decide(ctx context.Context, actor models.Actor, recordID string, decision models.Decision) (*models.Record, error) {
	record, err := m.decide(ctx, actor, recordID, decision)
	m.observe(OperationDecide, err)
	if err != nil {
		return nil, err
	}
	m.afterWrite(ctx, OperationDecide, actor, *record)
	return record, nil
}

func (m *ObservationManager) decide(ctx context.Context, actor models.Actor, recordID string, decision models.Decision) (*models.Record, error) {
	policy := m.def.Approval
	if policy == nil {
		return nil, appErrors.Clone(appErrors.ErrValidation, "this observation has no approval workflow")
	}
	status, ok := decision.Status()
	if !ok {
		return nil, appErrors.Clone(appErrors.ErrValidation, "decision must be approve or reject")
	}
	if err := m.authorizeWrite(actor, actor.Role == policy.Approver); err != nil {
		return nil, err
	}

	path := docstore.Join(m.collection, recordID)
	if err := docstore.ValidatePath(path); err != nil {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "approval request not found")
	}
	doc, err := m.store.Get(ctx, path)
	if errors.Is(err, docstore.ErrNotFound) {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "approval request not found")
	}
	if err != nil {
		return nil, storeError(err, "failed to load approval request")
	}
	record := models.RecordFromFields(doc.ID, doc.Data)
	if record.Approval == nil {
		return nil, appErrors.Clone(appErrors.ErrValidation, "record is not an approval request")
	}
	if record.Status() != models.ApprovalPending {
		return nil, appErrors.Clone(appErrors.ErrAlreadyDecided, "")
	}

	now := m.now().UTC()
	err = m.store.Set(ctx, path, map[string]interface{}{
		models.FieldRequestStatus: string(status),
		models.FieldApproverID:    actor.PrincipalID,
		models.FieldApprovedAt:    now.Format(time.RFC3339Nano),
	}, docstore.WriteOptions{
		Merge: true,
		If:    &docstore.Precondition{Field: models.FieldRequestStatus, Equals: string(models.ApprovalPending)},
	})
	if errors.Is(err, docstore.ErrPreconditionFailed) {
		return nil, appErrors.Clone(appErrors.ErrAlreadyDecided, "")
	}
	if err != nil {
		return nil, storeError(err, "failed to record decision")
	}

	record.Approval.Status = status
	record.Approval.ApproverID = actor.PrincipalID
	record.Approval.ApprovedAt = &now
	record = m.decorate(record)
	m.applyLocal(record)
	return &record, nil
}

// requestID names the n-th approval request of a bucket. The first request is
// keyed by the bucket itself.
func requestID(bucketKey string, n int) string {
	if n <= 1 {
		return bucketKey
	}
	return fmt.Sprintf("%s-r%d", bucketKey, n)
}

func (m *ObservationManager) authorizeWrite(actor models.Actor, allowed bool) error {
	if actor.PrincipalID == "" {
		return appErrors.Clone(appErrors.ErrUnauthenticated, "")
	}
	if !actor.Verified {
		return appErrors.Clone(appErrors.ErrNotVerified, "")
	}
	if !allowed {
		return appErrors.Clone(appErrors.ErrPermissionDenied, "role "+string(actor.Role)+" cannot perform this action")
	}
	return nil
}

// checkFields rejects manager-owned fields and normalizes value shapes.
func (m *ObservationManager) checkFields(fields map[string]interface{}) (map[string]interface{}, error) {
	for name := range fields {
		if models.IsReservedField(name) {
			return nil, appErrors.Clone(appErrors.ErrValidation, "field "+name+" is managed by the server")
		}
	}
	normalized, err := normalizeFields(fields)
	if err != nil {
		return nil, appErrors.WrapAs(appErrors.ErrValidation, err, "invalid fields")
	}
	return normalized, nil
}

func (m *ObservationManager) validatePayload(payload map[string]interface{}) error {
	return m.validateSchema(m.def.Schema(), payload)
}

func (m *ObservationManager) validateSchema(schema interface{}, payload map[string]interface{}) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return appErrors.WrapAs(appErrors.ErrValidation, err, "invalid payload")
	}
	decoder := json.NewDecoder(bytes.NewReader(raw))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(schema); err != nil {
		return appErrors.WrapAs(appErrors.ErrValidation, err, "invalid payload: "+err.Error())
	}
	if err := m.validator.Struct(schema); err != nil {
		return appErrors.WrapAs(appErrors.ErrValidation, err, "invalid payload")
	}
	if v, ok := schema.(interface{ Validate() error }); ok {
		if err := v.Validate(); err != nil {
			return appErrors.WrapAs(appErrors.ErrValidation, err, err.Error())
		}
	}
	return nil
}

// lookup finds the record for bucketKey in the loaded history, falling back to
// a point read since plain records use the bucket key as document id.
func (m *ObservationManager) lookup(ctx context.Context, bucketKey string) (models.Record, bool, error) {
	m.mu.RLock()
	for _, record := range m.history {
		if record.BucketKey == bucketKey && record.Approval == nil {
			m.mu.RUnlock()
			return cloneRecord(record), true, nil
		}
	}
	m.mu.RUnlock()

	doc, err := m.store.Get(ctx, docstore.Join(m.collection, bucketKey))
	if errors.Is(err, docstore.ErrNotFound) {
		return models.Record{}, false, nil
	}
	if err != nil {
		return models.Record{}, false, storeError(err, "failed to load observation record")
	}
	return m.decorate(models.RecordFromFields(doc.ID, doc.Data)), true, nil
}

func (m *ObservationManager) mergeWrite(ctx context.Context, path string, fields map[string]interface{}, actor models.Actor, now time.Time) error {
	data := make(map[string]interface{}, len(fields)+2)
	for k, v := range fields {
		data[k] = v
	}
	data[models.FieldAuthorID] = actor.PrincipalID
	data[models.FieldWrittenAt] = now.Format(time.RFC3339Nano)
	if err := m.store.Set(ctx, path, data, docstore.WriteOptions{Merge: true}); err != nil {
		return storeError(err, "failed to update observation record")
	}
	return nil
}

// applyLocal reflects a successful write in the cached history before the
// subscription catches up.
func (m *ObservationManager) applyLocal(record models.Record) {
	m.mu.Lock()
	replaced := false
	for i := range m.history {
		if m.history[i].ID == record.ID {
			m.history[i] = cloneRecord(record)
			replaced = true
			break
		}
	}
	if !replaced {
		m.history = append(m.history, cloneRecord(record))
	}
	sortRecords(m.history)
	m.mu.Unlock()
	m.notify()
}

func (m *ObservationManager) decorate(record models.Record) models.Record {
	if m.def.Granularity == bucket.Day {
		if t, err := bucket.Parse(bucket.Day, record.BucketKey); err == nil {
			record.Display = bucket.ToHijri(t).String()
		}
	}
	return record
}

func (m *ObservationManager) observe(operation string, err error) {
	if m.observer != nil {
		m.observer.ObserveObservationWrite(m.def.Type, operation, err)
	}
}

func (m *ObservationManager) afterWrite(ctx context.Context, operation string, actor models.Actor, record models.Record) {
	m.emitAudit(ctx, operation, actor, record)
	event := WriteEvent{Definition: m.def, Operation: operation, Record: cloneRecord(record), Actor: actor}
	for _, hook := range m.hooks {
		hook(ctx, event)
	}
}

func (m *ObservationManager) emitAudit(ctx context.Context, operation string, actor models.Actor, record models.Record) {
	if m.audit == nil {
		return
	}
	action := models.AuditActionRecordUpsert
	switch operation {
	case OperationRequest:
		action = models.AuditActionApprovalRequest
	case OperationDecide:
		action = models.AuditActionApprovalDecide
	}
	values := map[string]interface{}{
		"bucketKey": record.BucketKey,
		"operation": operation,
		"role":      string(actor.Role),
	}
	if record.Approval != nil {
		values["requestStatus"] = string(record.Approval.Status)
	}
	entry := &models.AuditLog{
		UserID:     actor.PrincipalID,
		Action:     action,
		Resource:   string(m.def.Type),
		ResourceID: record.ID,
		Values:     values,
	}
	if err := m.audit.Record(ctx, entry); err != nil {
		m.logger.Warn("failed to record observation audit log", zap.Error(err))
	}
}

func storeError(err error, message string) error {
	var appErr *appErrors.Error
	if errors.As(err, &appErr) {
		return appErr
	}
	return appErrors.WrapAs(appErrors.ErrStoreUnavailable, err, message)
}

// normalizeFields round-trips fields through JSON so comparisons and schema
// decoding see the same shapes the store returns.
func normalizeFields(fields map[string]interface{}) (map[string]interface{}, error) {
	out := map[string]interface{}{}
	if len(fields) == 0 {
		return out, nil
	}
	raw, err := json.Marshal(fields)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func changedFields(current, patch map[string]interface{}) map[string]interface{} {
	changed := map[string]interface{}{}
	for k, v := range patch {
		if existing, ok := current[k]; !ok || !reflect.DeepEqual(existing, v) {
			changed[k] = v
		}
	}
	return changed
}

func sortRecords(records []models.Record) {
	sort.SliceStable(records, func(i, j int) bool {
		if records[i].BucketKey != records[j].BucketKey {
			return records[i].BucketKey > records[j].BucketKey
		}
		if !records[i].WrittenAt.Equal(records[j].WrittenAt) {
			return records[i].WrittenAt.After(records[j].WrittenAt)
		}
		return records[i].ID < records[j].ID
	})
}

func cloneRecord(record models.Record) models.Record {
	clone := record
	if record.Payload != nil {
		payload, err := normalizeFields(record.Payload)
		if err == nil {
			clone.Payload = payload
		}
	}
	if record.Approval != nil {
		approval := *record.Approval
		clone.Approval = &approval
	}
	return clone
}

func cloneRecords(records []models.Record) []models.Record {
	out := make([]models.Record, len(records))
	for i, record := range records {
		out[i] = cloneRecord(record)
	}
	return out
}

package repository

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/noah-isme/sma-observation-api/internal/models"
	"github.com/noah-isme/sma-observation-api/pkg/docstore"
)

type auditDocumentStore interface {
	Create(ctx context.Context, path string, data map[string]interface{}) error
	List(ctx context.Context, collection string) ([]docstore.Document, error)
}

// AuditRepository appends audit entries to the tenant's audit collection.
type AuditRepository struct {
	store      auditDocumentStore
	collection string
	now        func() time.Time
}

// NewAuditRepository builds a repository writing under {tenant}/audit/entries.
func NewAuditRepository(store auditDocumentStore, tenant string) *AuditRepository {
	return &AuditRepository{store: store, collection: docstore.Join(tenant, "audit", "entries"), now: time.Now}
}

// Record persists entry, assigning its id and timestamp when missing.
func (r *AuditRepository) Record(ctx context.Context, entry *models.AuditLog) error {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = r.now().UTC()
	}
	data := map[string]interface{}{
		"userId":     entry.UserID,
		"action":     entry.Action,
		"resource":   entry.Resource,
		"resourceId": entry.ResourceID,
		"createdAt":  entry.CreatedAt.Format(time.RFC3339Nano),
	}
	if len(entry.Values) > 0 {
		data["values"] = entry.Values
	}
	if err := r.store.Create(ctx, docstore.Join(r.collection, entry.ID), data); err != nil {
		return fmt.Errorf("create audit log: %w", err)
	}
	return nil
}

// List returns audit entries, newest first.
func (r *AuditRepository) List(ctx context.Context) ([]models.AuditLog, error) {
	docs, err := r.store.List(ctx, r.collection)
	if err != nil {
		return nil, fmt.Errorf("list audit logs: %w", err)
	}
	entries := make([]models.AuditLog, 0, len(docs))
	for _, doc := range docs {
		entry := models.AuditLog{ID: doc.ID}
		entry.UserID, _ = doc.Data["userId"].(string)
		entry.Action, _ = doc.Data["action"].(string)
		entry.Resource, _ = doc.Data["resource"].(string)
		entry.ResourceID, _ = doc.Data["resourceId"].(string)
		if values, ok := doc.Data["values"].(map[string]interface{}); ok {
			entry.Values = values
		}
		if raw, ok := doc.Data["createdAt"].(string); ok {
			entry.CreatedAt, _ = time.Parse(time.RFC3339Nano, raw)
		}
		entries = append(entries, entry)
	}
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].CreatedAt.After(entries[j].CreatedAt)
	})
	return entries, nil
}

// Package docstore is a small hierarchical document store with merge writes,
// create-if-absent, conditional updates and live subscriptions. Documents are
// addressed by slash separated paths; a document's collection is its parent path.
package docstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"
)

var (
	// ErrNotFound is returned when no document exists at a path.
	ErrNotFound = errors.New("docstore: document not found")
	// ErrAlreadyExists is returned by Create when the path is taken.
	ErrAlreadyExists = errors.New("docstore: document already exists")
	// ErrPreconditionFailed is returned when a conditional write does not match.
	ErrPreconditionFailed = errors.New("docstore: precondition failed")
	// ErrInvalidPath is returned for empty or malformed paths.
	ErrInvalidPath = errors.New("docstore: invalid path")
)

// Document is one stored document.
type Document struct {
	Path      string                 `json:"path"`
	ID        string                 `json:"id"`
	Data      map[string]interface{} `json:"data"`
	UpdatedAt time.Time              `json:"updatedAt"`
}

// Precondition makes a write conditional on the current value of a top-level field.
type Precondition struct {
	Field  string
	Equals interface{}
}

// WriteOptions tune Set.
type WriteOptions struct {
	// Merge overlays top-level fields onto the existing document instead of replacing it.
	Merge bool
	// If rejects the write with ErrPreconditionFailed unless the stored document matches.
	If *Precondition
}

// Backend persists documents.
type Backend interface {
	Get(ctx context.Context, path string) (Document, error)
	Create(ctx context.Context, path string, data map[string]interface{}) error
	Set(ctx context.Context, path string, data map[string]interface{}, opts WriteOptions) error
	List(ctx context.Context, collection string) ([]Document, error)
}

// Event announces that the document at Path changed.
type Event struct {
	Path       string `json:"path"`
	Collection string `json:"collection"`
}

// Broker fans change events out to every store instance.
type Broker interface {
	Publish(ctx context.Context, event Event) error
	// Subscribe returns a channel of events. Delivery stops once ctx is done.
	Subscribe(ctx context.Context) (<-chan Event, error)
	Close() error
}

// Unsubscribe releases a subscription. Calling it more than once is a no-op.
type Unsubscribe func()

// Join builds a path from segments, ignoring surrounding slashes.
func Join(segments ...string) string {
	parts := make([]string, 0, len(segments))
	for _, segment := range segments {
		segment = strings.Trim(segment, "/")
		if segment != "" {
			parts = append(parts, segment)
		}
	}
	return strings.Join(parts, "/")
}

// Parent returns the collection path of a document path.
func Parent(path string) string {
	idx := strings.LastIndex(path, "/")
	if idx < 0 {
		return ""
	}
	return path[:idx]
}

// Base returns the last segment of path.
func Base(path string) string {
	return path[strings.LastIndex(path, "/")+1:]
}

// PublicCollection is the shared namespace collection for a tenant.
func PublicCollection(tenant, collection string) string {
	return Join(tenant, "public", "data", collection)
}

// RoleProfilePath is the private per-user role document.
func RoleProfilePath(tenant, userID string) string {
	return Join(tenant, "users", userID, "profile", "role")
}

// ValidatePath checks that path has at least a collection and an id and no empty segments.
func ValidatePath(path string) error {
	if path == "" || strings.HasPrefix(path, "/") || strings.HasSuffix(path, "/") {
		return fmt.Errorf("%w: %q", ErrInvalidPath, path)
	}
	segments := strings.Split(path, "/")
	if len(segments) < 2 {
		return fmt.Errorf("%w: %q has no collection", ErrInvalidPath, path)
	}
	for _, segment := range segments {
		if strings.TrimSpace(segment) == "" {
			return fmt.Errorf("%w: %q has an empty segment", ErrInvalidPath, path)
		}
	}
	return nil
}

// normalize round-trips data through JSON so every backend stores the same value shapes.
func normalize(data map[string]interface{}) (map[string]interface{}, error) {
	if data == nil {
		return map[string]interface{}{}, nil
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("encode document: %w", err)
	}
	out := map[string]interface{}{}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("decode document: %w", err)
	}
	return out, nil
}

func normalizeValue(value interface{}) (interface{}, error) {
	wrapped, err := normalize(map[string]interface{}{"v": value})
	if err != nil {
		return nil, err
	}
	return wrapped["v"], nil
}

func (p *Precondition) matches(data map[string]interface{}) bool {
	if p == nil {
		return true
	}
	current, ok := data[p.Field]
	if !ok {
		return false
	}
	return reflect.DeepEqual(current, p.Equals)
}

func merge(dst, src map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(dst)+len(src))
	for k, v := range dst {
		out[k] = v
	}
	for k, v := range src {
		out[k] = v
	}
	return out
}

// Clone returns a deep copy of d.
func (d Document) Clone() Document {
	d.Data = cloneMap(d.Data)
	return d
}

func cloneMap(in map[string]interface{}) map[string]interface{} {
	if in == nil {
		return nil
	}
	out := make(map[string]interface{}, len(in))
	for k, v := range in {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v interface{}) interface{} {
	switch typed := v.(type) {
	case map[string]interface{}:
		return cloneMap(typed)
	case []interface{}:
		out := make([]interface{}, len(typed))
		for i, item := range typed {
			out[i] = cloneValue(item)
		}
		return out
	default:
		return typed
	}
}

type storedDocument struct {
	Data      map[string]interface{} `json:"data"`
	UpdatedAt time.Time              `json:"updatedAt"`
}

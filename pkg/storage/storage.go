// Package storage defines the Storage Port (C3): a back-end-agnostic
// contract for CRUD, filter, and change-stream operations over the
// heterogeneous indices RustyOps persists (users, roles, permissions,
// projects, groups, jobs, pipelines, agents, pipeline logs).
//
// Implementations (pkg/storage/postgres, pkg/storage/memory) are
// interchangeable at construction; callers never branch on backend
// identity — the re-architecture this package follows from the source's
// tagged-variant backend dispatch.
package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/codeready-toolchain/rustyops/pkg/queryfilter"
)

// Index names one of the persisted record collections.
type Index string

const (
	IndexUsers        Index = "users"
	IndexRoles        Index = "roles"
	IndexPermissions  Index = "permissions"
	IndexProjects     Index = "projects"
	IndexGroups       Index = "groups"
	IndexJobs         Index = "jobs"
	IndexPipelines    Index = "pipelines"
	IndexAgents       Index = "agents"
	IndexPipelineLogs Index = "pipelineLogs"
)

// ErrNotFound is returned by GetOne when no record, or more than one
// record, matches the filter — exactly-one semantics.
var ErrNotFound = errors.New("storage: not found")

// ErrStorage wraps backend-specific failures (connection errors, driver
// errors) so callers can match on it with errors.Is without depending on
// the backend's own error types.
var ErrStorage = errors.New("storage: backend error")

// Document is the backend-neutral record shape the Port operates on: a
// JSON-like map. Generic helpers below marshal typed domain structs into
// and out of Document so call sites work with concrete Go types while the
// Port itself stays untyped per index.
type Document map[string]any

// Field implements queryfilter.Record.
func (d Document) Field(name string) any { return d[name] }

// ChangeOp names the mutation kind an internal broadcast carries.
type ChangeOp string

const (
	ChangeCreate ChangeOp = "create"
	ChangeUpdate ChangeOp = "update"
	ChangeAppend ChangeOp = "append"
)

// ChangeEvent is published on every create/update (and, for pipeline logs,
// append) and delivered to change-stream subscribers of the matching
// index, FIFO, at-most-once from the point of subscription.
type ChangeEvent struct {
	Index Index
	Op    ChangeOp
	ID    string
	Item  Document
}

// Port is the uniform CRUD + filter + change-stream contract from spec §4.3.
type Port interface {
	GetAll(ctx context.Context, index Index, filter queryfilter.Filter, opts *queryfilter.SearchOptions) ([]Document, error)
	// GetOne returns (doc, true, nil) iff exactly one record matches filter;
	// (nil, false, nil) if zero or more than one match.
	GetOne(ctx context.Context, index Index, filter queryfilter.Filter) (Document, bool, error)
	Create(ctx context.Context, index Index, item Document) (id string, err error)
	Update(ctx context.Context, index Index, id string, item Document) (string, error)
	// Append upserts a row keyed by id and appends entry to its `entries`
	// list, creating the row (with an empty entries list) if absent.
	Append(ctx context.Context, index Index, id string, entry any) error
	DeleteOne(ctx context.Context, index Index, filter queryfilter.Filter) (int, error)
	DeleteMany(ctx context.Context, index Index, filter queryfilter.Filter) (int, error)
	DeleteAll(ctx context.Context, index Index) (int, error)
	Purge(ctx context.Context) error
	// ChangeStream returns a channel of ChangeEvents for index and an
	// unsubscribe function. The channel produces items as they are
	// created/updated/appended until unsubscribe is called; both backends
	// also close the channel when ctx is canceled.
	ChangeStream(ctx context.Context, index Index) (<-chan ChangeEvent, func(), error)
	Close() error
}

// ToDocument marshals a typed domain value into a Document via JSON, so
// typed call sites can build Create/Update payloads without hand-writing
// map literals.
func ToDocument(v any) (Document, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("storage: marshal document: %w", err)
	}
	var doc Document
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("storage: unmarshal document: %w", err)
	}
	return doc, nil
}

// FromDocument unmarshals a Document back into a typed domain value.
func FromDocument[T any](doc Document) (T, error) {
	var out T
	raw, err := json.Marshal(doc)
	if err != nil {
		return out, fmt.Errorf("storage: marshal document: %w", err)
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return out, fmt.Errorf("storage: unmarshal document: %w", err)
	}
	return out, nil
}

// GetAll is the typed convenience wrapper over Port.GetAll.
func GetAll[T any](ctx context.Context, p Port, index Index, filter queryfilter.Filter, opts *queryfilter.SearchOptions) ([]T, error) {
	docs, err := p.GetAll(ctx, index, filter, opts)
	if err != nil {
		return nil, err
	}
	out := make([]T, 0, len(docs))
	for _, doc := range docs {
		v, err := FromDocument[T](doc)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

// GetOne is the typed convenience wrapper over Port.GetOne.
func GetOne[T any](ctx context.Context, p Port, index Index, filter queryfilter.Filter) (*T, error) {
	doc, found, err := p.GetOne(ctx, index, filter)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, ErrNotFound
	}
	v, err := FromDocument[T](doc)
	if err != nil {
		return nil, err
	}
	return &v, nil
}

// Create is the typed convenience wrapper over Port.Create.
func Create[T any](ctx context.Context, p Port, index Index, item T) (string, error) {
	doc, err := ToDocument(item)
	if err != nil {
		return "", err
	}
	return p.Create(ctx, index, doc)
}

// Update is the typed convenience wrapper over Port.Update.
func Update[T any](ctx context.Context, p Port, index Index, id string, item T) (string, error) {
	doc, err := ToDocument(item)
	if err != nil {
		return "", err
	}
	return p.Update(ctx, index, id, doc)
}

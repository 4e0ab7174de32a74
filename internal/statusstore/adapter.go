// Package statusstore mirrors workflow status records into artifact metadata.
package statusstore

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"flowtrack/internal/flowstate"
	"flowtrack/internal/objectstore"
)

// Error kinds. Match them with errors.Is.
var (
	ErrNotFound      = errors.New("status object not found")
	ErrTransient     = errors.New("status store unavailable")
	ErrSerialization = errors.New("status serialization failed")
)

// Error describes a failed adapter operation.
type Error struct {
	Kind     error
	Op       string
	ObjectID string
	Err      error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString("status ")
	b.WriteString(e.Op)
	if e.ObjectID != "" {
		b.WriteString(" ")
		b.WriteString(e.ObjectID)
	}
	b.WriteString(": ")
	b.WriteString(e.Kind.Error())
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

// Is matches the kind sentinel.
func (e *Error) Is(target error) bool {
	return target == e.Kind
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Adapter reads and writes status records through an object store. It keeps
// no cache; every call goes to the store.
type Adapter struct {
	store objectstore.Store
}

// New wraps store.
func New(store objectstore.Store) *Adapter {
	return &Adapter{store: store}
}

// Persist serializes rec into the metadata of objectID.
func (a *Adapter) Persist(ctx context.Context, objectID string, rec flowstate.Record) error {
	const op = "persist"
	objectID = strings.TrimSpace(objectID)
	if objectID == "" {
		return &Error{Kind: ErrNotFound, Op: op, Err: errors.New("object id required")}
	}
	payload, err := rec.Marshal()
	if err != nil {
		return &Error{Kind: ErrSerialization, Op: op, ObjectID: objectID, Err: err}
	}
	if err := a.store.SetMetadata(ctx, objectID, payload); err != nil {
		return classify(op, objectID, err)
	}
	return nil
}

// Fetch loads the record mirrored on objectID. ErrNotFound covers both a
// missing object and an object without status metadata.
func (a *Adapter) Fetch(ctx context.Context, objectID string) (flowstate.Record, error) {
	const op = "fetch"
	objectID = strings.TrimSpace(objectID)
	if objectID == "" {
		return flowstate.Record{}, &Error{Kind: ErrNotFound, Op: op, Err: errors.New("object id required")}
	}
	payload, err := a.store.GetMetadata(ctx, objectID)
	if err != nil {
		return flowstate.Record{}, classify(op, objectID, err)
	}
	if len(payload) == 0 {
		return flowstate.Record{}, &Error{Kind: ErrNotFound, Op: op, ObjectID: objectID, Err: errors.New("no status metadata")}
	}
	rec, err := flowstate.Unmarshal(payload)
	if err != nil {
		return flowstate.Record{}, &Error{Kind: ErrSerialization, Op: op, ObjectID: objectID, Err: err}
	}
	return rec, nil
}

func classify(op, objectID string, err error) error {
	if errors.Is(err, objectstore.ErrObjectNotFound) {
		return &Error{Kind: ErrNotFound, Op: op, ObjectID: objectID, Err: err}
	}
	return &Error{Kind: ErrTransient, Op: op, ObjectID: objectID, Err: fmt.Errorf("%w", err)}
}

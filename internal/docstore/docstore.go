// Package docstore provides the path-keyed document store backing the
// dashboard: keyed JSON document read/write, equality queries, atomic
// multi-document batches and push-based snapshot subscriptions. Subscribers
// always receive the entire current collection on every change, never deltas.
package docstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// AppID is the fixed application namespace under artifacts/.
const AppID = "logistica-pro-360"

// StaffDocID is the id of the single roster document in the config collection.
const StaffDocID = "staff"

// Top-level collections outside the artifacts namespace.
const (
	AuthorizedUsersCollection = "authorized_users"
	StaffAccessCollection     = "staff_access"
)

// OrdersCollection returns the live orders collection path.
func OrdersCollection() string {
	return "artifacts/" + AppID + "/public/data/orders"
}

// ConfigCollection returns the public config collection path.
func ConfigCollection() string {
	return "artifacts/" + AppID + "/public/data/config"
}

// ArchiveOrdersCollection returns the month-partitioned archive path.
func ArchiveOrdersCollection(month string) string {
	return fmt.Sprintf("artifacts/%s/archive/%s/orders", AppID, month)
}

// ArchivePrefix returns the common prefix of every archive partition.
func ArchivePrefix() string {
	return "artifacts/" + AppID + "/archive/"
}

var (
	// ErrNotFound is returned when a requested document does not exist.
	ErrNotFound = errors.New("docstore: document not found")

	// ErrClosed is returned for operations on a closed store.
	ErrClosed = errors.New("docstore: store closed")
)

// Document is one stored document, decoded as loose JSON.
type Document map[string]any

// Snapshot is the full contents of a collection keyed by document id.
type Snapshot map[string]Document

// ServerTimestamp is a sentinel field value replaced with the store's
// authoritative clock (Unix milliseconds) at commit time.
var ServerTimestamp = serverTimestampSentinel{}

type serverTimestampSentinel struct{}

// BatchOpKind discriminates batch operations.
type BatchOpKind int

const (
	BatchSet BatchOpKind = iota
	BatchDelete
)

// BatchOp is a single operation inside an atomic batch.
type BatchOp struct {
	Kind       BatchOpKind
	Collection string
	ID         string
	Doc        Document // set ops only
}

// Store is the document store surface used by the service layer.
type Store interface {
	// Get returns a single document or ErrNotFound.
	Get(ctx context.Context, collection, id string) (Document, error)

	// Set writes a full document, creating or overwriting it.
	Set(ctx context.Context, collection, id string, doc Document) error

	// Merge applies a partial update to an existing document.
	// Returns ErrNotFound when the document does not exist.
	Merge(ctx context.Context, collection, id string, fields Document) error

	// Delete removes a document. Deleting an absent document is not an error.
	Delete(ctx context.Context, collection, id string) error

	// GetCollection returns the full current contents of a collection.
	GetCollection(ctx context.Context, collection string) (Snapshot, error)

	// QueryByField returns the documents whose given top-level field equals
	// the given string value.
	QueryByField(ctx context.Context, collection, field, value string) (Snapshot, error)

	// ListCollections returns the distinct collection paths starting with
	// the given prefix.
	ListCollections(ctx context.Context, prefix string) ([]string, error)

	// RunBatch commits all operations atomically; either every operation is
	// applied or none is.
	RunBatch(ctx context.Context, ops []BatchOp) error

	// SubscribeCollection registers a callback that receives the full
	// collection snapshot immediately and again after every change. The
	// returned function cancels the subscription; it is safe to call once.
	SubscribeCollection(collection string, cb func(Snapshot)) (func(), error)

	// SubscribeDoc is SubscribeCollection for a single document. The bool
	// argument reports whether the document exists.
	SubscribeDoc(collection, id string, cb func(Document, bool)) (func(), error)

	Close() error
}

// resolveTimestamps returns a copy of doc with every ServerTimestamp sentinel
// replaced by now (Unix milliseconds). The input is not modified.
func resolveTimestamps(doc Document, now int64) Document {
	out := make(Document, len(doc))
	for k, v := range doc {
		if _, ok := v.(serverTimestampSentinel); ok {
			out[k] = now
			continue
		}
		out[k] = v
	}
	return out
}

// cloneDocument deep-copies a document through JSON so snapshot receivers
// can never mutate stored state.
func cloneDocument(doc Document) Document {
	raw, err := json.Marshal(doc)
	if err != nil {
		// Documents are built from JSON-decodable values only.
		panic(fmt.Sprintf("docstore: unmarshalable document: %v", err))
	}
	var out Document
	if err := json.Unmarshal(raw, &out); err != nil {
		panic(fmt.Sprintf("docstore: clone round-trip: %v", err))
	}
	return out
}

// Package store defines the document schema (C2) and the storage backend
// contract shared by the lock protocol (C4) and the session store API (C5).
package store

import "time"

// ETag is an opaque per-document version token. It is never erased to
// any/interface{}: every credential derived from it (in particular a lock's
// release credential) keeps this concrete type end-to-end.
type ETag string

// ConsistencyLevel selects the read/write consistency a call is willing to
// accept. Only ContentRecord operations vary it; lock operations always run
// at the store's configured default (at least bounded-staleness).
type ConsistencyLevel int

const (
	// ConsistencyDefault uses whatever level the backend was configured
	// with (spec.md §6 default: Strong).
	ConsistencyDefault ConsistencyLevel = iota
	// ConsistencyEventual is the deliberately-weakened level used only by
	// the sliding-expiration replace (spec.md §4.4): concurrent extenders
	// racing on the same session are fine, last writer wins.
	ConsistencyEventual
)

// ContentRecord is the session content document (spec.md §3).
type ContentRecord struct {
	ID          string
	TTLSeconds  int64
	ETag        ETag
	CreatedDate time.Time
	Payload     []byte
	Compressed  bool
	IsNew       bool
}

// LockRecord is the presence-only lock document (spec.md §3). Its ETag is
// the only credential that may release it.
type LockRecord struct {
	ID          string
	TTLSeconds  int64
	ETag        ETag
	CreatedDate time.Time
}

// LockID derives the lock record's id from a content session id: the two
// records deliberately occupy different partitions so a lock and its
// content never contend on the same physical key.
func LockID(sessionID string) string {
	return sessionID + "_lock"
}

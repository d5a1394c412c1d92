package audit

import (
	"context"
	"time"
)

// Store is the single writer per process for the hash-chained audit log.
// Append assigns the record's sequence number and hash chain fields itself,
// under its own mutex, at record time rather than at flush time (see
// internal/adapter/outbound/audit for the file-backed implementation).
type Store interface {
	// Append allocates the next sequence number, sets PrevHash from the
	// current chain head, computes Hash, and enqueues the record in an
	// in-memory buffer. The caller supplies every field except Seq,
	// PrevHash, and Hash.
	Append(ctx context.Context, rec AuditRecord) error

	// Flush forces buffered records to the day's segment file.
	Flush(ctx context.Context) error

	// Head returns the current chain head (sequence, last hash).
	Head() ChainHead

	// VerifyChain re-derives every record's hash from oldest retained to
	// newest and compares it against the stored hash and the previous
	// record's hash. Returns the first broken sequence number, or 0 if intact.
	VerifyChain(ctx context.Context) (breakAt int64, err error)

	// Query scans the relevant day files for records matching the filter.
	Query(ctx context.Context, filter Filter) ([]AuditRecord, error)

	// Close flushes and releases resources.
	Close() error
}

// Filter specifies query parameters for an audit log scan.
type Filter struct {
	AgentID   string
	Verdict   string
	StartTime time.Time
	EndTime   time.Time
	Limit     int
}

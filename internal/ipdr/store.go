package ipdr

import (
	"context"
	"time"
)

// RecordOrder selects the ordering of FindRecords results.
type RecordOrder int

// Record orderings.
const (
	// OrderStored returns records in storage (primary key) order.
	OrderStored RecordOrder = iota
	// OrderNewestFirst returns records by descending StartTime.
	OrderNewestFirst
)

// RecordFilter narrows record reads. Zero values mean "no constraint".
type RecordFilter struct {
	PhoneNumber string
	// StartFrom and StartTo bound StartTime, both inclusive.
	StartFrom  time.Time
	StartTo    time.Time
	Suspicious *bool
	Order      RecordOrder
	Limit      int
	Offset     int
}

// ProfileFilter narrows profile reads.
type ProfileFilter struct {
	PhoneNumber string
	Limit       int
	Offset      int
}

// Store is the only component that touches persisted state. Implementations
// wrap every persistence failure in ErrStorageUnavailable and return copies.
type Store interface {
	// UpsertRecord inserts rec or replaces the record with the same
	// PhoneNumber and StartTime in one atomic statement.
	UpsertRecord(ctx context.Context, rec Record) (Record, error)
	// UpsertProfile inserts p or replaces the profile with the same PhoneNumber.
	UpsertProfile(ctx context.Context, p Profile) (Profile, error)
	FindRecords(ctx context.Context, filter RecordFilter) ([]Record, error)
	// ScanRecords streams matching records in primary key order, batchSize at
	// a time. Returning an error from fn stops the scan and is returned as is.
	ScanRecords(ctx context.Context, filter RecordFilter, batchSize int, fn func([]Record) error) error
	CountRecords(ctx context.Context, filter RecordFilter) (int64, error)
	FindProfiles(ctx context.Context, filter ProfileFilter) ([]Profile, error)
	// MarkSuspicious sets is_suspicious for the given record IDs.
	MarkSuspicious(ctx context.Context, flags map[uint]bool) error
	Ping(ctx context.Context) error
}

package store

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"procodus.dev/ipdr/internal/ipdr"
)

type recordKey struct {
	phone string
	start int64
}

// MemoryStore is a thread-safe ipdr.Store held in RAM, for tests and
// one-shot tooling. It hands out deep copies only.
type MemoryStore struct {
	mu       sync.RWMutex
	records  map[uint]ipdr.Record
	byKey    map[recordKey]uint
	profiles map[string]ipdr.Profile
	nextID   uint
	failErr  error
	now      func() time.Time
}

var _ ipdr.Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records:  make(map[uint]ipdr.Record),
		byKey:    make(map[recordKey]uint),
		profiles: make(map[string]ipdr.Profile),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// SetFailure makes every subsequent call fail with err wrapped in
// ipdr.ErrStorageUnavailable. A nil err restores normal operation.
func (m *MemoryStore) SetFailure(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failErr = err
}

func (m *MemoryStore) check(ctx context.Context, op string) error {
	if err := ctx.Err(); err != nil {
		return unavailable(op, err)
	}
	if m.failErr != nil {
		return unavailable(op, m.failErr)
	}
	return nil
}

// UpsertRecord implements ipdr.Store.
func (m *MemoryStore) UpsertRecord(ctx context.Context, rec ipdr.Record) (ipdr.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.check(ctx, "upsert record"); err != nil {
		return ipdr.Record{}, err
	}

	rec = cloneRecord(rec)
	rec.StartTime = rec.StartTime.UTC()
	rec.EndTime = rec.EndTime.UTC()
	key := recordKey{phone: rec.PhoneNumber, start: rec.StartTime.UnixNano()}
	now := m.now()

	if id, ok := m.byKey[key]; ok {
		rec.ID = id
		rec.CreatedAt = m.records[id].CreatedAt
	} else {
		m.nextID++
		rec.ID = m.nextID
		rec.CreatedAt = now
		m.byKey[key] = rec.ID
	}
	rec.UpdatedAt = now
	m.records[rec.ID] = rec

	return cloneRecord(rec), nil
}

// UpsertProfile implements ipdr.Store.
func (m *MemoryStore) UpsertProfile(ctx context.Context, p ipdr.Profile) (ipdr.Profile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.check(ctx, "upsert profile"); err != nil {
		return ipdr.Profile{}, err
	}

	p = cloneProfile(p)
	now := m.now()
	if existing, ok := m.profiles[p.PhoneNumber]; ok {
		p.ID = existing.ID
		p.CreatedAt = existing.CreatedAt
	} else {
		m.nextID++
		p.ID = m.nextID
		p.CreatedAt = now
	}
	p.UpdatedAt = now
	m.profiles[p.PhoneNumber] = p

	return cloneProfile(p), nil
}

func (m *MemoryStore) matching(filter ipdr.RecordFilter) []ipdr.Record {
	out := make([]ipdr.Record, 0)
	for _, rec := range m.records {
		if matches(rec, filter) {
			out = append(out, cloneRecord(rec))
		}
	}
	slices.SortFunc(out, func(a, b ipdr.Record) int { return cmp.Compare(a.ID, b.ID) })
	return out
}

// FindRecords implements ipdr.Store.
func (m *MemoryStore) FindRecords(ctx context.Context, filter ipdr.RecordFilter) ([]ipdr.Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if err := m.check(ctx, "find records"); err != nil {
		return nil, err
	}

	out := m.matching(filter)
	if filter.Order == ipdr.OrderNewestFirst {
		slices.SortStableFunc(out, func(a, b ipdr.Record) int {
			if c := b.StartTime.Compare(a.StartTime); c != 0 {
				return c
			}
			return cmp.Compare(b.ID, a.ID)
		})
	}
	return page(out, filter.Limit, filter.Offset), nil
}

// ScanRecords implements ipdr.Store. The matching set is captured before the
// first batch is delivered.
func (m *MemoryStore) ScanRecords(ctx context.Context, filter ipdr.RecordFilter, batchSize int, fn func([]ipdr.Record) error) error {
	m.mu.RLock()
	if err := m.check(ctx, "scan records"); err != nil {
		m.mu.RUnlock()
		return err
	}
	all := m.matching(filter)
	m.mu.RUnlock()

	if batchSize <= 0 {
		batchSize = ipdr.DefaultScanBatchSize
	}
	for batch := range slices.Chunk(all, batchSize) {
		if err := ctx.Err(); err != nil {
			return unavailable("scan records", err)
		}
		if err := fn(batch); err != nil {
			return err
		}
	}
	return nil
}

// CountRecords implements ipdr.Store.
func (m *MemoryStore) CountRecords(ctx context.Context, filter ipdr.RecordFilter) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if err := m.check(ctx, "count records"); err != nil {
		return 0, err
	}

	var n int64
	for _, rec := range m.records {
		if matches(rec, filter) {
			n++
		}
	}
	return n, nil
}

// FindProfiles implements ipdr.Store.
func (m *MemoryStore) FindProfiles(ctx context.Context, filter ipdr.ProfileFilter) ([]ipdr.Profile, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if err := m.check(ctx, "find profiles"); err != nil {
		return nil, err
	}

	out := make([]ipdr.Profile, 0)
	for _, p := range m.profiles {
		if filter.PhoneNumber == "" || p.PhoneNumber == filter.PhoneNumber {
			out = append(out, cloneProfile(p))
		}
	}
	slices.SortFunc(out, func(a, b ipdr.Profile) int { return cmp.Compare(a.ID, b.ID) })
	return page(out, filter.Limit, filter.Offset), nil
}

// MarkSuspicious implements ipdr.Store. Unknown IDs are ignored.
func (m *MemoryStore) MarkSuspicious(ctx context.Context, flags map[uint]bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.check(ctx, "mark suspicious"); err != nil {
		return err
	}

	for id, flag := range flags {
		rec, ok := m.records[id]
		if !ok {
			continue
		}
		rec.IsSuspicious = &flag
		rec.UpdatedAt = m.now()
		m.records[id] = rec
	}
	return nil
}

// Ping implements ipdr.Store.
func (m *MemoryStore) Ping(ctx context.Context) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.check(ctx, "ping")
}

// Len returns the number of stored records.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.records)
}

func matches(rec ipdr.Record, f ipdr.RecordFilter) bool {
	if f.PhoneNumber != "" && rec.PhoneNumber != f.PhoneNumber {
		return false
	}
	if !f.StartFrom.IsZero() && rec.StartTime.Before(f.StartFrom) {
		return false
	}
	if !f.StartTo.IsZero() && rec.StartTime.After(f.StartTo) {
		return false
	}
	if f.Suspicious != nil {
		flagged := rec.IsSuspicious != nil && *rec.IsSuspicious
		if flagged != *f.Suspicious {
			return false
		}
	}
	return true
}

func page[T any](items []T, limit, offset int) []T {
	if offset > 0 {
		if offset >= len(items) {
			return items[:0]
		}
		items = items[offset:]
	}
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}

func cloneRecord(rec ipdr.Record) ipdr.Record {
	rec.OriginLatLong = ipdr.LatLong{
		Lat:  clonePtr(rec.OriginLatLong.Lat),
		Long: clonePtr(rec.OriginLatLong.Long),
	}
	rec.IsSuspicious = clonePtr(rec.IsSuspicious)
	return rec
}

func cloneProfile(p ipdr.Profile) ipdr.Profile {
	p.AssociatedPhoneNumbers = append([]string{}, p.AssociatedPhoneNumbers...)
	p.AssociatedIMEIs = append([]string{}, p.AssociatedIMEIs...)
	return p
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

// String describes the store for logs.
func (m *MemoryStore) String() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return fmt.Sprintf("memory store (%d records, %d profiles)", len(m.records), len(m.profiles))
}

package session

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-process Store used when no database is configured.
//
// A single mutex guards all records. Atomic holds it for the whole unit of
// work, which makes every unit of work serializable.
type MemoryStore struct {
	mu sync.Mutex
	st memState
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{st: memState{
		byFP:   make(map[string]*Record),
		byUser: make(map[string]map[string]struct{}),
	}}
}

// Atomic implements Store. Changes are applied in place and every mutation
// records its inverse; the journal is replayed backwards when fn fails or
// panics, so the cost is proportional to what fn touched.
func (s *MemoryStore) Atomic(ctx context.Context, fn func(q Querier) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.st.journal = []func(){}
	committed := false
	defer func() {
		if !committed {
			s.st.rollback()
		}
		s.st.journal = nil
	}()

	if err := fn(&s.st); err != nil {
		return err
	}
	committed = true
	return nil
}

func (s *MemoryStore) Save(ctx context.Context, rec Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.Save(ctx, rec)
}

func (s *MemoryStore) FindByFingerprint(ctx context.Context, fingerprint string) (Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.FindByFingerprint(ctx, fingerprint)
}

func (s *MemoryStore) LockByFingerprint(ctx context.Context, fingerprint string) (Record, error) {
	return s.FindByFingerprint(ctx, fingerprint)
}

func (s *MemoryStore) LockUser(context.Context, string) error { return nil }

func (s *MemoryStore) FindActiveByUser(ctx context.Context, userID string, now time.Time) ([]Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.FindActiveByUser(ctx, userID, now)
}

func (s *MemoryStore) CountActiveByUser(ctx context.Context, userID string, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.CountActiveByUser(ctx, userID, now)
}

func (s *MemoryStore) MarkRotated(ctx context.Context, fingerprint string, now time.Time, successor string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.MarkRotated(ctx, fingerprint, now, successor)
}

func (s *MemoryStore) Revoke(ctx context.Context, fingerprint string, now time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.Revoke(ctx, fingerprint, now)
}

func (s *MemoryStore) RevokeAllByUser(ctx context.Context, userID string, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.RevokeAllByUser(ctx, userID, now)
}

func (s *MemoryStore) DeleteExpiredOrStaleRevoked(ctx context.Context, now time.Time, threshold time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.DeleteExpiredOrStaleRevoked(ctx, now, threshold)
}

// memState holds records without locking; callers hold MemoryStore.mu.
// journal is non-nil only inside Atomic.
type memState struct {
	byFP    map[string]*Record
	byUser  map[string]map[string]struct{}
	journal []func()
}

func (m *memState) onRollback(undo func()) {
	if m.journal != nil {
		m.journal = append(m.journal, undo)
	}
}

func (m *memState) rollback() {
	for i := len(m.journal) - 1; i >= 0; i-- {
		m.journal[i]()
	}
}

// update snapshots *rec so a rollback restores it.
func (m *memState) update(rec *Record) {
	old := *rec
	m.onRollback(func() { *rec = old })
}

func (m *memState) link(rec *Record) {
	m.byFP[rec.Fingerprint] = rec
	set, ok := m.byUser[rec.UserID]
	if !ok {
		set = make(map[string]struct{})
		m.byUser[rec.UserID] = set
	}
	set[rec.Fingerprint] = struct{}{}
}

func (m *memState) unlink(rec *Record) {
	delete(m.byFP, rec.Fingerprint)
	if set := m.byUser[rec.UserID]; set != nil {
		delete(set, rec.Fingerprint)
		if len(set) == 0 {
			delete(m.byUser, rec.UserID)
		}
	}
}

func (m *memState) Save(_ context.Context, rec Record) error {
	if !rec.ExpiresAt.After(rec.CreatedAt) || rec.Fingerprint == "" || rec.UserID == "" {
		return ErrInvalidRecord
	}
	if _, exists := m.byFP[rec.Fingerprint]; exists {
		return ErrDuplicateFingerprint
	}
	cp := rec
	m.link(&cp)
	m.onRollback(func() { m.unlink(&cp) })
	return nil
}

func (m *memState) FindByFingerprint(_ context.Context, fingerprint string) (Record, error) {
	rec, ok := m.byFP[fingerprint]
	if !ok {
		return Record{}, ErrRecordNotFound
	}
	return *rec, nil
}

func (m *memState) LockByFingerprint(ctx context.Context, fingerprint string) (Record, error) {
	return m.FindByFingerprint(ctx, fingerprint)
}

func (m *memState) LockUser(context.Context, string) error { return nil }

func (m *memState) FindActiveByUser(_ context.Context, userID string, now time.Time) ([]Record, error) {
	var out []Record
	for fp := range m.byUser[userID] {
		if rec := m.byFP[fp]; rec.Active(now) {
			out = append(out, *rec)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *memState) CountActiveByUser(_ context.Context, userID string, now time.Time) (int, error) {
	n := 0
	for fp := range m.byUser[userID] {
		if m.byFP[fp].Active(now) {
			n++
		}
	}
	return n, nil
}

func (m *memState) MarkRotated(_ context.Context, fingerprint string, now time.Time, successor string) (bool, error) {
	rec, ok := m.byFP[fingerprint]
	if !ok || rec.Revoked || rec.ReplacedBy != nil {
		return false, nil
	}
	m.update(rec)
	at := now
	next := successor
	rec.Revoked = true
	rec.RevokedAt = &at
	rec.ReplacedBy = &next
	return true, nil
}

func (m *memState) Revoke(_ context.Context, fingerprint string, now time.Time) (bool, error) {
	rec, ok := m.byFP[fingerprint]
	if !ok || rec.Revoked {
		return false, nil
	}
	m.update(rec)
	at := now
	rec.Revoked = true
	rec.RevokedAt = &at
	return true, nil
}

func (m *memState) RevokeAllByUser(_ context.Context, userID string, now time.Time) (int, error) {
	n := 0
	for fp := range m.byUser[userID] {
		rec := m.byFP[fp]
		if !rec.Active(now) {
			continue
		}
		m.update(rec)
		at := now
		rec.Revoked = true
		rec.RevokedAt = &at
		n++
	}
	return n, nil
}

func (m *memState) DeleteExpiredOrStaleRevoked(_ context.Context, now time.Time, threshold time.Time) (int, error) {
	n := 0
	for _, rec := range m.byFP {
		expired := !now.Before(rec.ExpiresAt)
		stale := rec.Revoked && rec.RevokedAt != nil && rec.RevokedAt.Before(threshold)
		if !expired && !stale {
			continue
		}
		m.unlink(rec)
		m.onRollback(func() { m.link(rec) })
		n++
	}
	return n, nil
}

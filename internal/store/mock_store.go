// ABOUTME: Mock Store implementation for testing and memory-only deployments
// ABOUTME: Keeps sessions and listings in maps guarded by a single RWMutex

package store

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/marksk1/chatmarket-mvp/internal/slots"
)

// MockStore is an in-memory Store implementation.
type MockStore struct {
	mu       sync.RWMutex
	sessions map[SessionKey]*Session
	listings map[string]*Listing
	order    map[string]int // listing ID -> insertion sequence
	seq      int
}

// NewMockStore creates a new MockStore.
func NewMockStore() *MockStore {
	return &MockStore{
		sessions: make(map[SessionKey]*Session),
		listings: make(map[string]*Listing),
		order:    make(map[string]int),
	}
}

// sessionLocked returns the stored session for key, creating it. Must be called with mu held.
func (m *MockStore) sessionLocked(key SessionKey) *Session {
	sess, ok := m.sessions[key]
	if !ok {
		now := time.Now()
		sess = &Session{
			Key:       key,
			Slots:     slots.Values{},
			Stage:     slots.StageGreeting,
			CreatedAt: now,
			UpdatedAt: now,
		}
		m.sessions[key] = sess
	}
	return sess
}

// GetSession returns a copy of the session for key, creating it if needed.
func (m *MockStore) GetSession(ctx context.Context, key SessionKey) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sessionLocked(key).Clone(), nil
}

// AppendMessage adds turn to the session history.
func (m *MockStore) AppendMessage(ctx context.Context, key SessionKey, turn Turn) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	if turn.CreatedAt.IsZero() {
		turn.CreatedAt = now
	}
	sess := m.sessionLocked(key)
	sess.Messages = append(sess.Messages, turn)
	sess.UpdatedAt = now
	return nil
}

// MergeSlots applies update and returns a copy of the result.
func (m *MockStore) MergeSlots(ctx context.Context, key SessionKey, update SlotUpdate) (*Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	sess := m.sessionLocked(key)
	sess.Slots = slots.Merge(sess.Slots, update.Delta.Clone())
	if update.Classification != nil {
		sess.Classification = *update.Classification
	}
	if update.Stage != "" {
		sess.Stage = update.Stage
	}
	sess.UpdatedAt = time.Now()
	return sess.Clone(), nil
}

// ResetSlots clears slots and returns the stage to greeting.
func (m *MockStore) ResetSlots(ctx context.Context, key SessionKey) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	sess, ok := m.sessions[key]
	if !ok {
		return ErrNotFound
	}
	sess.Slots = slots.Values{}
	sess.Stage = slots.StageGreeting
	sess.UpdatedAt = time.Now()
	return nil
}

// SearchListings returns active listings matching criteria in creation order.
func (m *MockStore) SearchListings(ctx context.Context, criteria SearchCriteria) ([]*Listing, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	query := strings.ToLower(strings.TrimSpace(criteria.Query))
	var out []*Listing
	for _, l := range m.listings {
		if l.Status != ListingActive {
			continue
		}
		if query != "" &&
			!strings.Contains(strings.ToLower(l.Name), query) &&
			!strings.Contains(strings.ToLower(l.Description), query) {
			continue
		}
		if criteria.BudgetMin != nil && (l.Price == nil || *l.Price < *criteria.BudgetMin) {
			continue
		}
		if criteria.BudgetMax != nil && (l.Price == nil || *l.Price > *criteria.BudgetMax) {
			continue
		}
		cp := *l
		out = append(out, &cp)
	}

	sort.Slice(out, func(i, j int) bool {
		return m.order[out[i].ID] < m.order[out[j].ID]
	})

	limit := criteria.Limit
	if limit <= 0 {
		limit = DefaultSearchLimit
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// GetListing returns a copy of the listing with the given ID.
func (m *MockStore) GetListing(ctx context.Context, id string) (*Listing, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	l, ok := m.listings[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *l
	return &cp, nil
}

// CreateListing stores a copy of listing, assigning an ID and timestamps when unset.
func (m *MockStore) CreateListing(ctx context.Context, listing *Listing) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now().UTC()
	if listing.ID == "" {
		listing.ID = uuid.NewString()
	}
	if listing.Status == "" {
		listing.Status = ListingActive
	}
	if listing.CreatedAt.IsZero() {
		listing.CreatedAt = now
	}
	listing.UpdatedAt = now

	cp := *listing
	m.listings[cp.ID] = &cp
	m.seq++
	m.order[cp.ID] = m.seq
	return nil
}

// ownedLocked returns the listing if ownerID owns it. Must be called with mu held.
func (m *MockStore) ownedLocked(id, ownerID string) (*Listing, error) {
	l, ok := m.listings[id]
	if !ok {
		return nil, ErrNotFound
	}
	if l.OwnerID != ownerID {
		return nil, ErrNotOwner
	}
	return l, nil
}

// UpdateListing applies patch to a listing owned by ownerID.
func (m *MockStore) UpdateListing(ctx context.Context, id, ownerID string, patch ListingPatch) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	l, err := m.ownedLocked(id, ownerID)
	if err != nil {
		return err
	}
	if patch.Empty() {
		return nil
	}

	setString := func(dst *string, src *string) {
		if src != nil {
			*dst = *src
		}
	}
	setString(&l.Name, patch.Name)
	setString(&l.Description, patch.Description)
	setString(&l.Category, patch.Category)
	setString(&l.Brand, patch.Brand)
	setString(&l.Location, patch.Location)
	setString(&l.Condition, patch.Condition)
	setString(&l.Status, patch.Status)
	if patch.Price != nil {
		p := *patch.Price
		l.Price = &p
	}
	if patch.Negotiable != nil {
		l.Negotiable = *patch.Negotiable
	}
	l.UpdatedAt = time.Now().UTC()
	return nil
}

// DeleteListing removes a listing owned by ownerID.
func (m *MockStore) DeleteListing(ctx context.Context, id, ownerID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, err := m.ownedLocked(id, ownerID); err != nil {
		return err
	}
	delete(m.listings, id)
	delete(m.order, id)
	return nil
}

// GetListingStatus returns status and engagement for a listing owned by ownerID.
func (m *MockStore) GetListingStatus(ctx context.Context, id, ownerID string) (*ListingStatus, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	l, err := m.ownedLocked(id, ownerID)
	if err != nil {
		return nil, err
	}
	return &ListingStatus{
		Status:           l.Status,
		Views:            l.Views,
		InterestedBuyers: l.InterestedBuyers,
	}, nil
}

// RecordView increments a listing's view counter.
func (m *MockStore) RecordView(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	l, ok := m.listings[id]
	if !ok {
		return ErrNotFound
	}
	l.Views++
	return nil
}

// RecordInterest increments a listing's interested buyer counter.
func (m *MockStore) RecordInterest(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	l, ok := m.listings[id]
	if !ok {
		return ErrNotFound
	}
	l.InterestedBuyers++
	return nil
}

// Close is a no-op.
func (m *MockStore) Close() error {
	return nil
}

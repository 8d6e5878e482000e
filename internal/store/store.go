// ABOUTME: Store interfaces and data types for chatmarket persistence
// ABOUTME: Defines conversation sessions, catalog listings, and the interfaces over them

package store

import (
	"context"
	"errors"
	"time"

	"github.com/marksk1/chatmarket-mvp/internal/message"
	"github.com/marksk1/chatmarket-mvp/internal/slots"
)

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = errors.New("not found")

// ErrNotOwner is returned when a caller mutates or inspects a listing it does not own
var ErrNotOwner = errors.New("listing not owned by caller")

// Speaker identifies who produced a turn.
type Speaker string

const (
	SpeakerUser      Speaker = "user"
	SpeakerAssistant Speaker = "assistant"
)

// Turn is one utterance in a conversation.
type Turn struct {
	Speaker   Speaker
	Text      string
	CreatedAt time.Time
}

// Classification is the last observed emotion/intent reading for a session.
// It is overwritten each turn, never merged.
type Classification struct {
	Emotion         string `json:"emotion"`
	Intent          string `json:"intent"`
	ConfidenceLevel string `json:"confidence_level"`
	Tone            string `json:"conversation_tone"`
}

// SessionKey identifies a conversation session.
type SessionKey struct {
	Role   slots.Role
	UserID string
}

func (k SessionKey) String() string {
	return string(k.Role) + ":" + k.UserID
}

// Session is the per-(role, user) dialogue state.
type Session struct {
	Key            SessionKey
	Messages       []Turn
	Slots          slots.Values
	Classification Classification
	Stage          string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Clone returns a deep copy of s.
func (s *Session) Clone() *Session {
	cp := *s
	cp.Messages = append([]Turn(nil), s.Messages...)
	cp.Slots = s.Slots.Clone()
	return &cp
}

// Recent returns the last n turns in order. n <= 0 returns all turns.
func (s *Session) Recent(n int) []Turn {
	if n <= 0 || n >= len(s.Messages) {
		return s.Messages
	}
	return s.Messages[len(s.Messages)-n:]
}

// SlotUpdate is applied atomically by SessionStore.MergeSlots.
type SlotUpdate struct {
	// Delta is merged last-non-null-wins into the stored slots.
	Delta slots.Values
	// Classification replaces the stored reading when non-nil.
	Classification *Classification
	// Stage replaces the stored stage when non-empty.
	Stage string
}

// SessionStore owns conversation sessions. Sessions are created lazily by
// any operation on a key that has not been seen.
type SessionStore interface {
	GetSession(ctx context.Context, key SessionKey) (*Session, error)
	AppendMessage(ctx context.Context, key SessionKey, turn Turn) error
	MergeSlots(ctx context.Context, key SessionKey, update SlotUpdate) (*Session, error)
	// ResetSlots clears slots and stage after a terminal action. Messages
	// and the last classification are kept.
	ResetSlots(ctx context.Context, key SessionKey) error
}

// Listing statuses.
const (
	ListingActive = "active"
	ListingSold   = "sold"
	ListingPaused = "paused"
)

// Listing is a catalog entry.
type Listing struct {
	ID               string
	OwnerID          string
	Name             string
	Description      string
	Price            *float64
	Category         string
	Brand            string
	Location         string
	Condition        string
	Negotiable       bool
	Status           string
	Views            int
	InterestedBuyers int
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// Item converts l to the shape agents exchange.
func (l *Listing) Item() message.Item {
	return message.Item{
		ID:          l.ID,
		Name:        l.Name,
		Description: l.Description,
		Price:       l.Price,
		Category:    l.Category,
		Condition:   l.Condition,
		Location:    l.Location,
		OwnerID:     l.OwnerID,
		Status:      l.Status,
	}
}

// ListingPatch holds the fields an owner may change. Nil fields are untouched.
type ListingPatch struct {
	Name        *string
	Description *string
	Price       *float64
	Category    *string
	Brand       *string
	Location    *string
	Condition   *string
	Negotiable  *bool
	Status      *string
}

// Empty reports whether the patch changes nothing.
func (p ListingPatch) Empty() bool {
	return p.Name == nil && p.Description == nil && p.Price == nil &&
		p.Category == nil && p.Brand == nil && p.Location == nil &&
		p.Condition == nil && p.Negotiable == nil && p.Status == nil
}

// SearchCriteria filters active listings. Query matches name or description
// case-insensitively; nil budget bounds are open.
type SearchCriteria struct {
	Query     string
	BudgetMin *float64
	BudgetMax *float64
	Limit     int
}

// DefaultSearchLimit caps searches that do not set Limit.
const DefaultSearchLimit = 50

// ListingStatus reports a listing's state and engagement.
type ListingStatus struct {
	Status           string
	Views            int
	InterestedBuyers int
}

// CatalogStore persists listings. Mutations and status are owner-scoped.
type CatalogStore interface {
	SearchListings(ctx context.Context, criteria SearchCriteria) ([]*Listing, error)
	GetListing(ctx context.Context, id string) (*Listing, error)
	CreateListing(ctx context.Context, listing *Listing) error
	UpdateListing(ctx context.Context, id, ownerID string, patch ListingPatch) error
	DeleteListing(ctx context.Context, id, ownerID string) error
	GetListingStatus(ctx context.Context, id, ownerID string) (*ListingStatus, error)
	RecordView(ctx context.Context, id string) error
	RecordInterest(ctx context.Context, id string) error
}

// Store is implemented by both backends.
type Store interface {
	SessionStore
	CatalogStore
	Close() error
}

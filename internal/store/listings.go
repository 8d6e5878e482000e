// ABOUTME: SQLite catalog persistence for marketplace listings
// ABOUTME: Search returns active listings in creation order; mutations are owner-scoped

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

const listingColumns = `id, owner_id, name, description, price, category, brand, location,
	condition, negotiable, status, views, interested_buyers, created_at, updated_at`

// likePattern escapes LIKE wildcards in s and wraps it for substring matching.
func likePattern(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return "%" + r.Replace(strings.ToLower(s)) + "%"
}

// SearchListings returns active listings matching criteria in creation order.
func (s *SQLiteStore) SearchListings(ctx context.Context, criteria SearchCriteria) ([]*Listing, error) {
	query := `SELECT ` + listingColumns + ` FROM listings WHERE status = 'active'`
	var args []any

	if q := strings.TrimSpace(criteria.Query); q != "" {
		query += ` AND (LOWER(name) LIKE ? ESCAPE '\' OR LOWER(description) LIKE ? ESCAPE '\')`
		pattern := likePattern(q)
		args = append(args, pattern, pattern)
	}
	if criteria.BudgetMin != nil {
		query += ` AND price >= ?`
		args = append(args, *criteria.BudgetMin)
	}
	if criteria.BudgetMax != nil {
		query += ` AND price <= ?`
		args = append(args, *criteria.BudgetMax)
	}

	limit := criteria.Limit
	if limit <= 0 {
		limit = DefaultSearchLimit
	}
	query += ` ORDER BY rowid ASC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("searching listings: %w", err)
	}
	defer rows.Close()

	var listings []*Listing
	for rows.Next() {
		l, err := scanListing(rows)
		if err != nil {
			return nil, err
		}
		listings = append(listings, l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating listings: %w", err)
	}
	return listings, nil
}

// GetListing returns the listing with the given ID.
func (s *SQLiteStore) GetListing(ctx context.Context, id string) (*Listing, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+listingColumns+` FROM listings WHERE id = ?`, id)
	l, err := scanListing(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return l, err
}

// CreateListing inserts listing, assigning an ID and timestamps when unset.
func (s *SQLiteStore) CreateListing(ctx context.Context, listing *Listing) error {
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

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO listings (`+listingColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		listing.ID,
		listing.OwnerID,
		listing.Name,
		listing.Description,
		listing.Price,
		listing.Category,
		listing.Brand,
		listing.Location,
		listing.Condition,
		listing.Negotiable,
		listing.Status,
		listing.Views,
		listing.InterestedBuyers,
		formatTime(listing.CreatedAt),
		formatTime(listing.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("inserting listing: %w", err)
	}
	return nil
}

// checkOwner returns ErrNotFound or ErrNotOwner unless ownerID owns id.
func checkOwner(ctx context.Context, q querier, id, ownerID string) error {
	var owner string
	err := q.QueryRowContext(ctx, `SELECT owner_id FROM listings WHERE id = ?`, id).Scan(&owner)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("querying listing owner: %w", err)
	}
	if owner != ownerID {
		return ErrNotOwner
	}
	return nil
}

// UpdateListing applies patch to a listing owned by ownerID.
func (s *SQLiteStore) UpdateListing(ctx context.Context, id, ownerID string, patch ListingPatch) error {
	if err := checkOwner(ctx, s.db, id, ownerID); err != nil {
		return err
	}
	if patch.Empty() {
		return nil
	}

	var sets []string
	var args []any
	add := func(column string, value any) {
		sets = append(sets, column+" = ?")
		args = append(args, value)
	}
	if patch.Name != nil {
		add("name", *patch.Name)
	}
	if patch.Description != nil {
		add("description", *patch.Description)
	}
	if patch.Price != nil {
		add("price", *patch.Price)
	}
	if patch.Category != nil {
		add("category", *patch.Category)
	}
	if patch.Brand != nil {
		add("brand", *patch.Brand)
	}
	if patch.Location != nil {
		add("location", *patch.Location)
	}
	if patch.Condition != nil {
		add("condition", *patch.Condition)
	}
	if patch.Negotiable != nil {
		add("negotiable", *patch.Negotiable)
	}
	if patch.Status != nil {
		add("status", *patch.Status)
	}
	add("updated_at", formatTime(time.Now()))

	args = append(args, id, ownerID)
	_, err := s.db.ExecContext(ctx,
		`UPDATE listings SET `+strings.Join(sets, ", ")+` WHERE id = ? AND owner_id = ?`,
		args...,
	)
	if err != nil {
		return fmt.Errorf("updating listing: %w", err)
	}
	return nil
}

// DeleteListing removes a listing owned by ownerID.
func (s *SQLiteStore) DeleteListing(ctx context.Context, id, ownerID string) error {
	if err := checkOwner(ctx, s.db, id, ownerID); err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM listings WHERE id = ? AND owner_id = ?`, id, ownerID); err != nil {
		return fmt.Errorf("deleting listing: %w", err)
	}
	return nil
}

// GetListingStatus returns status and engagement for a listing owned by ownerID.
func (s *SQLiteStore) GetListingStatus(ctx context.Context, id, ownerID string) (*ListingStatus, error) {
	if err := checkOwner(ctx, s.db, id, ownerID); err != nil {
		return nil, err
	}

	var st ListingStatus
	err := s.db.QueryRowContext(ctx, `
		SELECT status, views, interested_buyers FROM listings WHERE id = ?
	`, id).Scan(&st.Status, &st.Views, &st.InterestedBuyers)
	if err != nil {
		return nil, fmt.Errorf("querying listing status: %w", err)
	}
	return &st, nil
}

// RecordView increments a listing's view counter.
func (s *SQLiteStore) RecordView(ctx context.Context, id string) error {
	return s.bump(ctx, id, "views")
}

// RecordInterest increments a listing's interested buyer counter.
func (s *SQLiteStore) RecordInterest(ctx context.Context, id string) error {
	return s.bump(ctx, id, "interested_buyers")
}

func (s *SQLiteStore) bump(ctx context.Context, id, column string) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE listings SET `+column+` = `+column+` + 1 WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("incrementing %s: %w", column, err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanListing(row rowScanner) (*Listing, error) {
	var l Listing
	var price sql.NullFloat64
	var createdAt, updatedAt string

	err := row.Scan(
		&l.ID,
		&l.OwnerID,
		&l.Name,
		&l.Description,
		&price,
		&l.Category,
		&l.Brand,
		&l.Location,
		&l.Condition,
		&l.Negotiable,
		&l.Status,
		&l.Views,
		&l.InterestedBuyers,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scanning listing row: %w", err)
	}

	if price.Valid {
		p := price.Float64
		l.Price = &p
	}
	if l.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if l.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}
	return &l, nil
}

// ABOUTME: Listing agent creating, updating, deleting, and reporting on catalog listings.
// ABOUTME: Maps store ownership errors and validation failures to user-facing responses.

package listing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/marksk1/chatmarket-mvp/internal/bus"
	"github.com/marksk1/chatmarket-mvp/internal/message"
	"github.com/marksk1/chatmarket-mvp/internal/store"
)

// Response messages.
const (
	MsgCreated     = "Item listed successfully on the marketplace!"
	MsgUpdated     = "Listing updated successfully!"
	MsgDeleted     = "Listing deleted successfully!"
	MsgNotOwned    = "Listing not found or not owned by user"
	MsgNotFound    = "Listing not found"
	MsgStoreFailed = "Database operation failed"
)

// Agent performs listing operations against the catalog.
type Agent struct {
	catalog store.CatalogStore
	logger  *slog.Logger
}

// NewAgent creates an Agent.
func NewAgent(catalog store.CatalogStore, logger *slog.Logger) *Agent {
	if logger == nil {
		logger = slog.Default()
	}
	return &Agent{catalog: catalog, logger: logger.With("component", "listing")}
}

// Create validates the product and publishes it at the final price.
func (a *Agent) Create(ctx context.Context, req message.ListingRequest) message.ListingResponse {
	resp := message.ListingResponse{UserID: req.UserID}

	product, err := Validate(req.ProductInfo)
	if err == nil && req.FinalPrice < 0 {
		err = &ValidationError{Reason: "Price must not be negative"}
	}
	if err == nil && req.OwnerID == "" {
		err = &ValidationError{Missing: []string{"owner_id"}}
	}
	if err != nil {
		a.logger.Info("listing rejected", "user_id", req.UserID, "reason", err)
		resp.Message = err.Error()
		return resp
	}

	l := product.Listing(req.OwnerID, req.FinalPrice)
	if err := a.catalog.CreateListing(ctx, l); err != nil {
		a.logger.Error("creating listing", "user_id", req.UserID, "error", err)
		resp.Message = MsgStoreFailed
		return resp
	}

	a.logger.Info("listing created",
		"user_id", req.UserID,
		"listing_id", l.ID,
		"name", l.Name,
		"price", req.FinalPrice,
	)
	resp.ListingID = l.ID
	resp.Success = true
	resp.Message = MsgCreated
	return resp
}

// Update applies an owner-scoped patch.
func (a *Agent) Update(ctx context.Context, req message.ListingUpdateRequest) message.ListingResponse {
	resp := message.ListingResponse{UserID: req.UserID, ListingID: req.ListingID}

	patch, err := PatchFrom(req.Patch)
	if err != nil {
		resp.Message = err.Error()
		return resp
	}
	if err := a.catalog.UpdateListing(ctx, req.ListingID, req.OwnerID, patch); err != nil {
		resp.Message = a.failure("updating listing", req.ListingID, err)
		return resp
	}
	resp.Success = true
	resp.Message = MsgUpdated
	return resp
}

// Delete removes an owned listing.
func (a *Agent) Delete(ctx context.Context, req message.ListingDeleteRequest) message.ListingResponse {
	resp := message.ListingResponse{UserID: req.UserID, ListingID: req.ListingID}
	if err := a.catalog.DeleteListing(ctx, req.ListingID, req.OwnerID); err != nil {
		resp.Message = a.failure("deleting listing", req.ListingID, err)
		return resp
	}
	a.logger.Info("listing deleted", "listing_id", req.ListingID, "owner_id", req.OwnerID)
	resp.Success = true
	resp.Message = MsgDeleted
	return resp
}

// Status reports an owned listing's status and engagement.
func (a *Agent) Status(ctx context.Context, req message.ListingStatusRequest) message.ListingStatusResponse {
	resp := message.ListingStatusResponse{UserID: req.UserID, ListingID: req.ListingID}
	st, err := a.catalog.GetListingStatus(ctx, req.ListingID, req.OwnerID)
	if err != nil {
		resp.Message = a.failure("reading listing status", req.ListingID, err)
		if errors.Is(err, store.ErrNotFound) {
			resp.Message = MsgNotFound
		}
		return resp
	}
	resp.Status = st.Status
	resp.Views = st.Views
	resp.InterestedBuyers = st.InterestedBuyers
	resp.Success = true
	return resp
}

func (a *Agent) failure(op, id string, err error) string {
	if errors.Is(err, store.ErrNotFound) || errors.Is(err, store.ErrNotOwner) {
		a.logger.Info(op+" refused", "listing_id", id, "reason", err)
		return MsgNotOwned
	}
	a.logger.Error(op, "listing_id", id, "error", err)
	return MsgStoreFailed
}

// Register binds the listing agent to b.
func Register(b *bus.Bus, a *Agent) error {
	return b.Register(message.AgentListing, b.Respond(func(ctx context.Context, env message.Envelope) (message.Payload, error) {
		switch req := env.Payload.(type) {
		case message.ListingRequest:
			return a.Create(ctx, req), nil
		case message.ListingUpdateRequest:
			return a.Update(ctx, req), nil
		case message.ListingDeleteRequest:
			return a.Delete(ctx, req), nil
		case message.ListingStatusRequest:
			return a.Status(ctx, req), nil
		default:
			return nil, fmt.Errorf("listing agent: unexpected payload %s", env.Payload.Kind())
		}
	}))
}

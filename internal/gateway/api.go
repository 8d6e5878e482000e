// ABOUTME: HTTP API handlers for chat turns, listings, and session inspection
// ABOUTME: Chat and listing mutations travel over the agent bus; session events stream as SSE

package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/yuin/goldmark"

	"github.com/marksk1/chatmarket-mvp/internal/bus"
	"github.com/marksk1/chatmarket-mvp/internal/conversation"
	"github.com/marksk1/chatmarket-mvp/internal/listing"
	"github.com/marksk1/chatmarket-mvp/internal/message"
	"github.com/marksk1/chatmarket-mvp/internal/slots"
	"github.com/marksk1/chatmarket-mvp/internal/store"
)

// ChatRequest is the JSON request body for POST /api/chat/{role}.
type ChatRequest struct {
	UserID  string `json:"user_id"`
	Message string `json:"message"`
}

// ChatResponse is the JSON response for chat turns and listing confirmation.
type ChatResponse struct {
	UserID     string   `json:"user_id"`
	Reply      string   `json:"reply"`
	HTML       string   `json:"html"`
	Stage      string   `json:"stage,omitempty"`
	Missing    []string `json:"missing,omitempty"`
	Dispatched bool     `json:"dispatched"`
}

// ConfirmListingRequest is the JSON request body for POST /api/listings/confirm.
type ConfirmListingRequest struct {
	UserID  string   `json:"user_id"`
	OwnerID string   `json:"owner_id,omitempty"`
	Price   *float64 `json:"price,omitempty"`
}

// UpdateListingRequest is the JSON request body for PUT /api/listings/{id}.
type UpdateListingRequest struct {
	OwnerID string         `json:"owner_id"`
	Patch   map[string]any `json:"patch"`
}

// ListingResponse is a listing as returned by the API.
type ListingResponse struct {
	ID               string   `json:"id"`
	OwnerID          string   `json:"owner_id"`
	Name             string   `json:"name"`
	Description      string   `json:"description"`
	Price            *float64 `json:"price,omitempty"`
	Category         string   `json:"category,omitempty"`
	Brand            string   `json:"brand,omitempty"`
	Location         string   `json:"location,omitempty"`
	Condition        string   `json:"condition,omitempty"`
	Negotiable       bool     `json:"negotiable"`
	Status           string   `json:"status"`
	Views            int      `json:"views"`
	InterestedBuyers int      `json:"interested_buyers"`
	CreatedAt        string   `json:"created_at"`
}

// ListingActionResponse reports a listing mutation or status read.
type ListingActionResponse struct {
	ListingID        string `json:"listing_id"`
	Success          bool   `json:"success"`
	Message          string `json:"message,omitempty"`
	Status           string `json:"status,omitempty"`
	Views            int    `json:"views,omitempty"`
	InterestedBuyers int    `json:"interested_buyers,omitempty"`
}

// TurnResponse is one message in a session transcript.
type TurnResponse struct {
	Speaker   string `json:"speaker"`
	Text      string `json:"text"`
	CreatedAt string `json:"created_at"`
}

// SessionResponse is the JSON response for GET /api/sessions/{role}/{user}.
type SessionResponse struct {
	Role           string               `json:"role"`
	UserID         string               `json:"user_id"`
	Stage          string               `json:"stage"`
	Slots          map[string]any       `json:"slots"`
	Classification store.Classification `json:"classification"`
	Messages       []TurnResponse       `json:"messages"`
}

func (g *Gateway) registerAPIRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/chat/{role}", g.handleChat)
	mux.HandleFunc("POST /api/listings/confirm", g.handleConfirmListing)
	mux.HandleFunc("GET /api/listings", g.handleSearchListings)
	mux.HandleFunc("GET /api/listings/{id}", g.handleGetListing)
	mux.HandleFunc("PUT /api/listings/{id}", g.handleUpdateListing)
	mux.HandleFunc("DELETE /api/listings/{id}", g.handleDeleteListing)
	mux.HandleFunc("GET /api/listings/{id}/status", g.handleListingStatus)
	mux.HandleFunc("POST /api/listings/{id}/interest", g.handleListingInterest)
	mux.HandleFunc("GET /api/sessions/{role}/{user}", g.handleGetSession)
	mux.HandleFunc("GET /api/sessions/{role}/{user}/events", g.handleSessionEvents)
}

// userAddress is the bus sender address for requests made on behalf of a user.
func userAddress(userID string) string {
	return "user:" + userID
}

// handleChat handles POST /api/chat/{role}. The turn is delivered to the
// role's conversation agent over the bus.
func (g *Gateway) handleChat(w http.ResponseWriter, r *http.Request) {
	role := slots.Role(r.PathValue("role"))
	if !role.Valid() {
		g.sendJSONError(w, http.StatusNotFound, "unknown role")
		return
	}

	var req ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		g.sendJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	req.Message = strings.TrimSpace(req.Message)
	if req.UserID == "" || req.Message == "" {
		g.sendJSONError(w, http.StatusBadRequest, "user_id and message are required")
		return
	}

	var (
		to      = message.AgentBuyerConversation
		payload message.Payload = message.BuyerQuery{UserID: req.UserID, Message: req.Message}
	)
	if role == slots.Seller {
		to = message.AgentSellerConversation
		payload = message.SellerQuery{UserID: req.UserID, Message: req.Message}
	}

	reply, err := g.bus.Request(r.Context(), userAddress(req.UserID), to, payload, 0)
	if errors.Is(err, bus.ErrTimeout) {
		// The turn keeps running and its reply lands in the session history.
		g.logger.Warn("chat turn outlived request timeout", "agent", to, "user_id", req.UserID)
		g.sendJSON(w, http.StatusOK, g.chatResponse(message.ChatReply{
			UserID: req.UserID,
			Text:   conversation.StillWorking(role),
		}))
		return
	}
	if err != nil {
		g.sendBusError(w, to, err)
		return
	}
	chat, ok := reply.(message.ChatReply)
	if !ok {
		g.logger.Error("unexpected chat reply", "kind", reply.Kind())
		g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	g.sendJSON(w, http.StatusOK, g.chatResponse(chat))
}

// handleConfirmListing handles POST /api/listings/confirm.
func (g *Gateway) handleConfirmListing(w http.ResponseWriter, r *http.Request) {
	var req ConfirmListingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		g.sendJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.UserID == "" {
		g.sendJSONError(w, http.StatusBadRequest, "user_id is required")
		return
	}

	chat, err := g.conversation.ConfirmListing(r.Context(), req.UserID, req.OwnerID, req.Price)
	if errors.Is(err, conversation.ErrNoPrice) {
		g.sendJSONError(w, http.StatusConflict, "no price known; research a price or pass one")
		return
	}
	if err != nil {
		g.logger.Error("failed to confirm listing", "user_id", req.UserID, "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	g.sendJSON(w, http.StatusOK, g.chatResponse(chat))
}

// handleSearchListings handles GET /api/listings?q=&budget_min=&budget_max=&limit=.
func (g *Gateway) handleSearchListings(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	criteria := store.SearchCriteria{Query: q.Get("q")}

	var err error
	if criteria.BudgetMin, err = optionalFloat(q.Get("budget_min")); err != nil {
		g.sendJSONError(w, http.StatusBadRequest, "invalid budget_min")
		return
	}
	if criteria.BudgetMax, err = optionalFloat(q.Get("budget_max")); err != nil {
		g.sendJSONError(w, http.StatusBadRequest, "invalid budget_max")
		return
	}
	if v := q.Get("limit"); v != "" {
		if criteria.Limit, err = strconv.Atoi(v); err != nil || criteria.Limit < 0 {
			g.sendJSONError(w, http.StatusBadRequest, "invalid limit")
			return
		}
	}

	listings, err := g.store.SearchListings(r.Context(), criteria)
	if err != nil {
		g.logger.Error("failed to search listings", "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	out := make([]ListingResponse, len(listings))
	for i, l := range listings {
		out[i] = listingResponse(l)
	}
	g.sendJSON(w, http.StatusOK, map[string]any{"listings": out})
}

// handleGetListing handles GET /api/listings/{id} and counts a view.
func (g *Gateway) handleGetListing(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	l, err := g.store.GetListing(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		g.sendJSONError(w, http.StatusNotFound, "listing not found")
		return
	}
	if err != nil {
		g.logger.Error("failed to get listing", "listing_id", id, "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	if err := g.store.RecordView(r.Context(), id); err != nil {
		g.logger.Warn("failed to record listing view", "listing_id", id, "error", err)
	}
	g.sendJSON(w, http.StatusOK, listingResponse(l))
}

// handleUpdateListing handles PUT /api/listings/{id}.
func (g *Gateway) handleUpdateListing(w http.ResponseWriter, r *http.Request) {
	var req UpdateListingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		g.sendJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.OwnerID == "" {
		g.sendJSONError(w, http.StatusBadRequest, "owner_id is required")
		return
	}

	g.listingAction(w, r, req.OwnerID, message.ListingUpdateRequest{
		UserID:    req.OwnerID,
		ListingID: r.PathValue("id"),
		Patch:     req.Patch,
		OwnerID:   req.OwnerID,
	})
}

// handleDeleteListing handles DELETE /api/listings/{id}?owner_id=.
func (g *Gateway) handleDeleteListing(w http.ResponseWriter, r *http.Request) {
	owner := r.URL.Query().Get("owner_id")
	if owner == "" {
		g.sendJSONError(w, http.StatusBadRequest, "owner_id is required")
		return
	}
	g.listingAction(w, r, owner, message.ListingDeleteRequest{
		UserID:    owner,
		ListingID: r.PathValue("id"),
		OwnerID:   owner,
	})
}

// handleListingStatus handles GET /api/listings/{id}/status?owner_id=.
func (g *Gateway) handleListingStatus(w http.ResponseWriter, r *http.Request) {
	owner := r.URL.Query().Get("owner_id")
	if owner == "" {
		g.sendJSONError(w, http.StatusBadRequest, "owner_id is required")
		return
	}
	g.listingAction(w, r, owner, message.ListingStatusRequest{
		UserID:    owner,
		ListingID: r.PathValue("id"),
		OwnerID:   owner,
	})
}

// listingAction sends an owner-scoped request to the listing agent and maps
// its outcome to an HTTP status.
func (g *Gateway) listingAction(w http.ResponseWriter, r *http.Request, owner string, req message.Payload) {
	reply, err := g.bus.Request(r.Context(), userAddress(owner), message.AgentListing, req, 0)
	if err != nil {
		g.sendBusError(w, message.AgentListing, err)
		return
	}

	var resp ListingActionResponse
	switch v := reply.(type) {
	case message.ListingResponse:
		resp = ListingActionResponse{ListingID: v.ListingID, Success: v.Success, Message: v.Message}
	case message.ListingStatusResponse:
		resp = ListingActionResponse{
			ListingID:        v.ListingID,
			Success:          v.Success,
			Message:          v.Message,
			Status:           v.Status,
			Views:            v.Views,
			InterestedBuyers: v.InterestedBuyers,
		}
	default:
		g.logger.Error("unexpected listing reply", "kind", reply.Kind())
		g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	status := http.StatusOK
	if !resp.Success {
		switch resp.Message {
		case listing.MsgNotOwned, listing.MsgNotFound:
			status = http.StatusNotFound
		case listing.MsgStoreFailed:
			status = http.StatusInternalServerError
		default:
			status = http.StatusBadRequest
		}
	}
	g.sendJSON(w, status, resp)
}

// handleListingInterest handles POST /api/listings/{id}/interest.
func (g *Gateway) handleListingInterest(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	err := g.store.RecordInterest(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		g.sendJSONError(w, http.StatusNotFound, "listing not found")
		return
	}
	if err != nil {
		g.logger.Error("failed to record interest", "listing_id", id, "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleGetSession handles GET /api/sessions/{role}/{user}.
func (g *Gateway) handleGetSession(w http.ResponseWriter, r *http.Request) {
	role := slots.Role(r.PathValue("role"))
	user := r.PathValue("user")

	sess, err := g.conversation.Session(r.Context(), role, user)
	if errors.Is(err, conversation.ErrInvalidRole) {
		g.sendJSONError(w, http.StatusNotFound, "unknown role")
		return
	}
	if err != nil {
		g.logger.Error("failed to load session", "role", role, "user_id", user, "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	resp := SessionResponse{
		Role:           string(role),
		UserID:         user,
		Stage:          sess.Stage,
		Slots:          map[string]any(sess.Slots),
		Classification: sess.Classification,
		Messages:       make([]TurnResponse, len(sess.Messages)),
	}
	if resp.Slots == nil {
		resp.Slots = map[string]any{}
	}
	for i, t := range sess.Messages {
		resp.Messages[i] = TurnResponse{
			Speaker:   string(t.Speaker),
			Text:      t.Text,
			CreatedAt: t.CreatedAt.Format(time.RFC3339),
		}
	}
	g.sendJSON(w, http.StatusOK, resp)
}

// handleSessionEvents handles GET /api/sessions/{role}/{user}/events,
// streaming each recorded turn of the session as an SSE "message" event.
func (g *Gateway) handleSessionEvents(w http.ResponseWriter, r *http.Request) {
	role := slots.Role(r.PathValue("role"))
	if !role.Valid() {
		g.sendJSONError(w, http.StatusNotFound, "unknown role")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		g.logger.Error("streaming not supported")
		g.sendJSONError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	key := store.SessionKey{Role: role, UserID: r.PathValue("user")}
	events, _ := g.conversation.Broadcaster().Subscribe(r.Context(), key)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	g.writeSSEEvent(w, "subscribed", map[string]string{"session": key.String()})
	flusher.Flush()

	g.streamEvents(r.Context(), w, flusher, events)
}

// streamEvents writes session events until the client leaves or the
// broadcaster closes the channel.
func (g *Gateway) streamEvents(ctx context.Context, w http.ResponseWriter, flusher http.Flusher, events <-chan conversation.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			g.writeSSEEvent(w, "message", map[string]string{
				"speaker":    string(ev.Speaker),
				"text":       ev.Text,
				"stage":      ev.Stage,
				"created_at": ev.CreatedAt.Format(time.RFC3339Nano),
			})
			flusher.Flush()
		}
	}
}

func (g *Gateway) chatResponse(chat message.ChatReply) ChatResponse {
	return ChatResponse{
		UserID:     chat.UserID,
		Reply:      chat.Text,
		HTML:       g.renderMarkdown(chat.Text),
		Stage:      chat.Stage,
		Missing:    chat.Missing,
		Dispatched: chat.Dispatched,
	}
}

// renderMarkdown converts a chat reply to HTML for web clients.
func (g *Gateway) renderMarkdown(text string) string {
	var buf bytes.Buffer
	if err := goldmark.Convert([]byte(text), &buf); err != nil {
		g.logger.Warn("failed to convert markdown", "error", err)
		return ""
	}
	return buf.String()
}

func listingResponse(l *store.Listing) ListingResponse {
	return ListingResponse{
		ID:               l.ID,
		OwnerID:          l.OwnerID,
		Name:             l.Name,
		Description:      l.Description,
		Price:            l.Price,
		Category:         l.Category,
		Brand:            l.Brand,
		Location:         l.Location,
		Condition:        l.Condition,
		Negotiable:       l.Negotiable,
		Status:           l.Status,
		Views:            l.Views,
		InterestedBuyers: l.InterestedBuyers,
		CreatedAt:        l.CreatedAt.Format(time.RFC3339),
	}
}

func optionalFloat(s string) (*float64, error) {
	if s == "" {
		return nil, nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil, err
	}
	return &v, nil
}

// sendBusError maps a failed bus request to an HTTP error.
func (g *Gateway) sendBusError(w http.ResponseWriter, agent string, err error) {
	var herr *bus.HandlerError
	switch {
	case errors.Is(err, bus.ErrTimeout):
		g.logger.Warn("agent request timed out", "agent", agent)
		g.sendJSONError(w, http.StatusGatewayTimeout, "agent did not reply in time")
	case errors.As(err, &herr):
		g.logger.Error("agent failed", "agent", herr.Agent, "reason", herr.Reason)
		g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
	case errors.Is(err, bus.ErrClosed):
		g.sendJSONError(w, http.StatusServiceUnavailable, "shutting down")
	default:
		g.logger.Error("agent request failed", "agent", agent, "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
	}
}

// writeSSEEvent writes a single SSE event to the response writer.
func (g *Gateway) writeSSEEvent(w http.ResponseWriter, event string, data any) {
	dataJSON, err := json.Marshal(data)
	if err != nil {
		g.logger.Error("failed to marshal SSE data", "error", err)
		return
	}
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, dataJSON)
}

func (g *Gateway) sendJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		g.logger.Warn("failed to write response", "error", err)
	}
}

// sendJSONError writes a JSON error response.
func (g *Gateway) sendJSONError(w http.ResponseWriter, status int, message string) {
	g.sendJSON(w, status, map[string]string{"error": message})
}

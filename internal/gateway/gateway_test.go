// ABOUTME: End-to-end tests for the gateway HTTP API over a fully wired system
// ABOUTME: Uses an in-memory SQLite store and a scripted language service

package gateway

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marksk1/chatmarket-mvp/internal/config"
	"github.com/marksk1/chatmarket-mvp/internal/conversation"
	"github.com/marksk1/chatmarket-mvp/internal/listing"
	"github.com/marksk1/chatmarket-mvp/internal/llm"
	"github.com/marksk1/chatmarket-mvp/internal/slots"
	"github.com/marksk1/chatmarket-mvp/internal/store"
)

func newTestGateway(t *testing.T, completer llm.Completer, tweaks ...func(*config.Config)) (*Gateway, *httptest.Server) {
	t.Helper()
	cfg := config.Default()
	cfg.Metrics.Enabled = true
	cfg.Conversation.DispatchTimeout = 2 * time.Second
	for _, tweak := range tweaks {
		tweak(cfg)
	}

	gw, err := New(context.Background(), cfg, nil, WithLLM(completer))
	require.NoError(t, err)

	srv := httptest.NewServer(gw.Handler())
	t.Cleanup(func() {
		srv.Close()
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = gw.Shutdown(ctx)
	})
	return gw, srv
}

func seedListing(t *testing.T, gw *Gateway, owner, name string, price float64) *store.Listing {
	t.Helper()
	l := &store.Listing{OwnerID: owner, Name: name, Description: name + " in good shape", Price: &price, Condition: "good"}
	require.NoError(t, gw.store.CreateListing(context.Background(), l))
	return l
}

func doJSON(t *testing.T, method, url string, body any, out any) int {
	t.Helper()
	var rd io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		rd = strings.NewReader(string(data))
	}
	req, err := http.NewRequest(method, url, rd)
	require.NoError(t, err)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func TestHealth(t *testing.T) {
	_, srv := newTestGateway(t, llm.NewMock())

	resp, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "OK", string(body))
}

func TestChat_BuyerFindsLaptop(t *testing.T) {
	mock := llm.NewMock().
		On("Analyze this", `{"emotion":"excited","intent":"browsing","confidence_level":"high","conversation_tone":"casual"}`).
		On("Already known", `{"product_type":"laptop","budget_max":500}`).
		On("personalized explanation", "These fit your budget nicely.")
	gw, srv := newTestGateway(t, mock)
	seedListing(t, gw, "seller-1", "Budget Laptop", 450)
	seedListing(t, gw, "seller-1", "Gaming Laptop", 1500)

	var out ChatResponse
	status := doJSON(t, http.MethodPost, srv.URL+"/api/chat/buyer",
		ChatRequest{UserID: "alice", Message: "I need a laptop under $500"}, &out)

	require.Equal(t, http.StatusOK, status)
	assert.True(t, out.Dispatched)
	assert.Contains(t, out.Reply, "These fit your budget nicely.")
	assert.Contains(t, out.Reply, "**Budget Laptop** - $450")
	assert.NotContains(t, out.Reply, "Gaming Laptop")
	assert.Contains(t, out.HTML, "<strong>Budget Laptop</strong>")

	var sess SessionResponse
	require.Equal(t, http.StatusOK, doJSON(t, http.MethodGet, srv.URL+"/api/sessions/buyer/alice", nil, &sess))
	assert.Len(t, sess.Messages, 2)
	assert.Empty(t, sess.Slots)
	assert.Equal(t, "greeting", sess.Stage)
	assert.Equal(t, "browsing", sess.Classification.Intent)
}

func TestChat_OfflineFallsBackToFollowUp(t *testing.T) {
	_, srv := newTestGateway(t, llm.NewMock())

	var out ChatResponse
	status := doJSON(t, http.MethodPost, srv.URL+"/api/chat/seller",
		ChatRequest{UserID: "sam", Message: "I want to sell something"}, &out)

	require.Equal(t, http.StatusOK, status)
	assert.False(t, out.Dispatched)
	assert.Equal(t, []string{"product_name", "condition", "suggested_price"}, out.Missing)
	assert.NotEmpty(t, out.Reply)
}

// slowCompleter answers every call with an error after delay.
type slowCompleter struct {
	delay time.Duration
}

func (s slowCompleter) Complete(ctx context.Context, _, _ string) (string, error) {
	select {
	case <-time.After(s.delay):
		return "", errors.New("model overloaded")
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func TestChat_SlowTurnRepliesStillWorking(t *testing.T) {
	gw, srv := newTestGateway(t, slowCompleter{delay: 300 * time.Millisecond}, func(cfg *config.Config) {
		cfg.Bus.RequestTimeout = 100 * time.Millisecond
	})

	var out ChatResponse
	status := doJSON(t, http.MethodPost, srv.URL+"/api/chat/buyer",
		ChatRequest{UserID: "bob", Message: "I need a laptop"}, &out)

	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, conversation.BuyerStillWorking, out.Reply)
	assert.False(t, out.Dispatched)

	// The turn finishes on its own and its follow-up lands in history.
	assert.Eventually(t, func() bool {
		sess, err := gw.conversation.Session(context.Background(), slots.Buyer, "bob")
		return err == nil && len(sess.Messages) == 2
	}, 3*time.Second, 20*time.Millisecond)
}

func TestChat_RejectsBadRequests(t *testing.T) {
	_, srv := newTestGateway(t, llm.NewMock())

	tests := []struct {
		name string
		path string
		body any
		want int
	}{
		{"unknown role", "/api/chat/admin", ChatRequest{UserID: "u", Message: "hi"}, http.StatusNotFound},
		{"empty message", "/api/chat/buyer", ChatRequest{UserID: "u", Message: "  "}, http.StatusBadRequest},
		{"missing user", "/api/chat/buyer", ChatRequest{Message: "hi"}, http.StatusBadRequest},
		{"not json", "/api/chat/buyer", "hello", http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var out map[string]string
			assert.Equal(t, tt.want, doJSON(t, http.MethodPost, srv.URL+tt.path, tt.body, &out))
			assert.NotEmpty(t, out["error"])
		})
	}
}

func TestSellerFlow_ConfirmAndManageListing(t *testing.T) {
	mock := llm.NewMock().
		On("Analyze this", `{"emotion":"urgent","intent":"quick_sell","confidence_level":"high","conversation_tone":"casual"}`).
		On("Already known", `{"product_name":"Road Bike","condition":"good","brand":"Trek"}`).
		Default("Sounds good!")
	gw, srv := newTestGateway(t, mock)
	seedListing(t, gw, "other", "Road Bike", 200)
	seedListing(t, gw, "other", "Road Bike", 240)

	var chat ChatResponse
	require.Equal(t, http.StatusOK, doJSON(t, http.MethodPost, srv.URL+"/api/chat/seller",
		ChatRequest{UserID: "sam", Message: "selling my Trek road bike, good condition"}, &chat))
	assert.True(t, chat.Dispatched)
	assert.Contains(t, chat.Reply, "Market Research Results")
	assert.Contains(t, chat.Reply, "$200.00 - $240.00")

	price := 210.0
	var confirm ChatResponse
	require.Equal(t, http.StatusOK, doJSON(t, http.MethodPost, srv.URL+"/api/listings/confirm",
		ConfirmListingRequest{UserID: "sam", Price: &price}, &confirm))
	assert.Contains(t, confirm.Reply, listing.MsgCreated)

	var found struct {
		Listings []ListingResponse `json:"listings"`
	}
	require.Equal(t, http.StatusOK, doJSON(t, http.MethodGet, srv.URL+"/api/listings?q=road+bike&budget_max=215", nil, &found))
	require.Len(t, found.Listings, 2)
	var mine ListingResponse
	for _, l := range found.Listings {
		if l.OwnerID == "sam" {
			mine = l
		}
	}
	require.NotEmpty(t, mine.ID)
	assert.Equal(t, 210.0, *mine.Price)
	assert.Equal(t, "good", mine.Condition)

	var got ListingResponse
	require.Equal(t, http.StatusOK, doJSON(t, http.MethodGet, srv.URL+"/api/listings/"+mine.ID, nil, &got))
	assert.Equal(t, "Road Bike", got.Name)
	require.Equal(t, http.StatusNoContent, doJSON(t, http.MethodPost, srv.URL+"/api/listings/"+mine.ID+"/interest", nil, nil))

	var status ListingActionResponse
	require.Equal(t, http.StatusOK, doJSON(t, http.MethodGet, srv.URL+"/api/listings/"+mine.ID+"/status?owner_id=sam", nil, &status))
	assert.Equal(t, "active", status.Status)
	assert.Equal(t, 1, status.Views)
	assert.Equal(t, 1, status.InterestedBuyers)

	var denied ListingActionResponse
	assert.Equal(t, http.StatusNotFound, doJSON(t, http.MethodPut, srv.URL+"/api/listings/"+mine.ID,
		UpdateListingRequest{OwnerID: "mallory", Patch: map[string]any{"price": 1}}, &denied))
	assert.Equal(t, listing.MsgNotOwned, denied.Message)

	var updated ListingActionResponse
	require.Equal(t, http.StatusOK, doJSON(t, http.MethodPut, srv.URL+"/api/listings/"+mine.ID,
		UpdateListingRequest{OwnerID: "sam", Patch: map[string]any{"status": "sold"}}, &updated))
	assert.Equal(t, listing.MsgUpdated, updated.Message)

	var deleted ListingActionResponse
	require.Equal(t, http.StatusOK, doJSON(t, http.MethodDelete, srv.URL+"/api/listings/"+mine.ID+"?owner_id=sam", nil, &deleted))
	assert.Equal(t, listing.MsgDeleted, deleted.Message)

	var gone map[string]string
	assert.Equal(t, http.StatusNotFound, doJSON(t, http.MethodGet, srv.URL+"/api/listings/"+mine.ID, nil, &gone))
}

func TestConfirmListing_WithoutPriceConflicts(t *testing.T) {
	_, srv := newTestGateway(t, llm.NewMock())

	var out map[string]string
	assert.Equal(t, http.StatusConflict, doJSON(t, http.MethodPost, srv.URL+"/api/listings/confirm",
		ConfirmListingRequest{UserID: "nobody"}, &out))
}

func TestSessionEvents_StreamTurns(t *testing.T) {
	_, srv := newTestGateway(t, llm.NewMock().Default("Tell me more!"))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/api/sessions/buyer/eve/events", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	lines := bufio.NewScanner(resp.Body)
	next := func() string {
		for lines.Scan() {
			if line := lines.Text(); strings.HasPrefix(line, "data: ") {
				return strings.TrimPrefix(line, "data: ")
			}
		}
		return ""
	}
	require.Contains(t, next(), `"session":"buyer:eve"`)

	var out ChatResponse
	require.Equal(t, http.StatusOK, doJSON(t, http.MethodPost, srv.URL+"/api/chat/buyer",
		ChatRequest{UserID: "eve", Message: "hello"}, &out))

	assert.Contains(t, next(), `"text":"hello"`)
	assert.Contains(t, next(), `"text":"Tell me more!"`)
}

func TestMetricsEndpoint(t *testing.T) {
	_, srv := newTestGateway(t, llm.NewMock().Default("ok"))

	var out ChatResponse
	require.Equal(t, http.StatusOK, doJSON(t, http.MethodPost, srv.URL+"/api/chat/buyer",
		ChatRequest{UserID: "m", Message: "hi"}, &out))

	resp, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	assert.Contains(t, string(body), "chatmarket_conversation_turns_total")
	assert.Contains(t, string(body), "chatmarket_bus_messages_total")
}

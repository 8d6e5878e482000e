// ABOUTME: Conversation state machine turning buyer and seller utterances into replies or dispatches
// ABOUTME: Records turns first, merges extracted slots atomically, and gates dispatch on missing fields

package conversation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/marksk1/chatmarket-mvp/internal/bus"
	"github.com/marksk1/chatmarket-mvp/internal/extraction"
	"github.com/marksk1/chatmarket-mvp/internal/llm"
	"github.com/marksk1/chatmarket-mvp/internal/message"
	"github.com/marksk1/chatmarket-mvp/internal/metrics"
	"github.com/marksk1/chatmarket-mvp/internal/recommend"
	"github.com/marksk1/chatmarket-mvp/internal/slots"
	"github.com/marksk1/chatmarket-mvp/internal/store"
)

// ErrInvalidRole is returned for roles other than buyer and seller.
var ErrInvalidRole = errors.New("invalid role")

// ErrEmptyMessage is returned when an utterance has no text.
var ErrEmptyMessage = errors.New("message is empty")

// ErrNoPrice is returned by ConfirmListing when no price is known.
var ErrNoPrice = errors.New("no listing price known")

// DefaultDispatchTimeout bounds a downstream agent request.
const DefaultDispatchTimeout = 10 * time.Second

// persistTimeout bounds writes that must survive a cancelled turn.
const persistTimeout = 5 * time.Second

// Store is what the service needs from persistence.
type Store interface {
	store.SessionStore
	SearchListings(ctx context.Context, criteria store.SearchCriteria) ([]*store.Listing, error)
}

// Config configures a Service.
type Config struct {
	Store           Store
	Bus             *bus.Bus
	LLM             llm.Completer
	Broadcaster     *EventBroadcaster
	Logger          *slog.Logger
	Metrics         *metrics.Metrics
	DispatchTimeout time.Duration
	HistoryWindow   int
}

// Service runs buyer and seller dialogue turns.
type Service struct {
	store           Store
	bus             *bus.Bus
	llm             llm.Completer
	pipeline        *extraction.Pipeline
	broadcaster     *EventBroadcaster
	logger          *slog.Logger
	metrics         *metrics.Metrics
	dispatchTimeout time.Duration
	historyWindow   int

	locks *keyedMutex

	quotesMu sync.Mutex
	quotes   map[string]quote
}

// quote is the last price researched for a seller, tied to the item it priced.
type quote struct {
	product string
	resp    message.PriceResearchResponse
}

// New creates a Service.
func New(cfg Config) *Service {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	timeout := cfg.DispatchTimeout
	if timeout <= 0 {
		timeout = DefaultDispatchTimeout
	}
	window := cfg.HistoryWindow
	if window <= 0 || window > extraction.DefaultHistoryWindow {
		window = extraction.DefaultHistoryWindow
	}
	broadcaster := cfg.Broadcaster
	if broadcaster == nil {
		broadcaster = NewEventBroadcaster(logger)
	}

	return &Service{
		store: cfg.Store,
		bus:   cfg.Bus,
		llm:   cfg.LLM,
		pipeline: extraction.New(extraction.Config{
			LLM:           cfg.LLM,
			Logger:        logger,
			Metrics:       cfg.Metrics,
			HistoryWindow: window,
		}),
		broadcaster:     broadcaster,
		logger:          logger.With("component", "conversation"),
		metrics:         cfg.Metrics,
		dispatchTimeout: timeout,
		historyWindow:   window,
		locks:           newKeyedMutex(),
		quotes:          make(map[string]quote),
	}
}

// Broadcaster returns the broadcaster turns are published on.
func (s *Service) Broadcaster() *EventBroadcaster {
	return s.broadcaster
}

// Session returns a snapshot of a session.
func (s *Service) Session(ctx context.Context, role slots.Role, userID string) (*store.Session, error) {
	if !role.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidRole, role)
	}
	return s.store.GetSession(ctx, store.SessionKey{Role: role, UserID: userID})
}

// turn accumulates the outcome of one HandleTurn call.
type turn struct {
	key      store.SessionKey
	sess     *store.Session
	class    store.Classification
	missing  []string
	reply    string
	outcome  string
	terminal bool
}

// HandleTurn processes one utterance and returns the reply for the user.
// Turns for the same session run one at a time. Collaborator failures are
// absorbed into fallback replies; only persistence errors are returned.
func (s *Service) HandleTurn(ctx context.Context, role slots.Role, userID, text string) (message.ChatReply, error) {
	start := time.Now()
	if !role.Valid() {
		return message.ChatReply{}, fmt.Errorf("%w: %q", ErrInvalidRole, role)
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return message.ChatReply{}, ErrEmptyMessage
	}

	key := store.SessionKey{Role: role, UserID: userID}
	unlock, err := s.locks.lock(ctx, key)
	if err != nil {
		return message.ChatReply{}, err
	}
	defer unlock()

	// Record first, then act.
	if err := s.record(ctx, key, store.SpeakerUser, text, ""); err != nil {
		return message.ChatReply{}, err
	}

	sess, err := s.store.GetSession(ctx, key)
	if err != nil {
		return message.ChatReply{}, fmt.Errorf("loading session: %w", err)
	}

	ext := s.pipeline.Run(ctx, sess, text)

	projected := slots.Merge(sess.Slots.Clone(), ext.Delta)
	stage := slots.StageFor(role, projected, slots.Missing(role, ext.Classification.Intent, projected))

	class := ext.Classification
	sess, err = s.store.MergeSlots(ctx, key, store.SlotUpdate{
		Delta:          ext.Delta,
		Classification: &class,
		Stage:          stage,
	})
	if err != nil {
		return message.ChatReply{}, fmt.Errorf("merging slots: %w", err)
	}

	t := &turn{
		key:     key,
		sess:    sess,
		class:   class,
		missing: slots.Missing(role, class.Intent, sess.Slots),
	}

	if len(t.missing) > 0 {
		t.reply = s.followUp(ctx, t)
		t.outcome = "follow_up"
	} else if role == slots.Buyer {
		s.dispatchBuyer(ctx, t)
	} else {
		s.dispatchSeller(ctx, t)
	}

	if err := s.record(ctx, key, store.SpeakerAssistant, t.reply, sess.Stage); err != nil {
		return message.ChatReply{}, err
	}
	if t.terminal {
		s.reset(ctx, key)
	}

	s.metrics.Turn(string(role), t.outcome, time.Since(start))
	s.logger.Info("turn handled",
		"session", key.String(),
		"intent", class.Intent,
		"emotion", class.Emotion,
		"stage", sess.Stage,
		"missing", t.missing,
		"outcome", t.outcome,
		"duration", time.Since(start),
	)

	return message.ChatReply{
		UserID:     userID,
		Text:       t.reply,
		Stage:      sess.Stage,
		Missing:    t.missing,
		Dispatched: len(t.missing) == 0,
	}, nil
}

// record appends a turn and publishes it. Assistant turns are written even
// if the caller has gone away so history matches what was decided.
func (s *Service) record(ctx context.Context, key store.SessionKey, speaker store.Speaker, text, stage string) error {
	if speaker == store.SpeakerAssistant {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
		defer cancel()
	}

	now := time.Now().UTC()
	if err := s.store.AppendMessage(ctx, key, store.Turn{Speaker: speaker, Text: text, CreatedAt: now}); err != nil {
		return fmt.Errorf("recording %s message: %w", speaker, err)
	}
	s.broadcaster.Publish(Event{Key: key, Speaker: speaker, Text: text, Stage: stage, CreatedAt: now})
	return nil
}

// reset clears slots after a terminal action. Failure only risks stale
// slots on the next topic, so it is logged rather than returned.
func (s *Service) reset(ctx context.Context, key store.SessionKey) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
	defer cancel()

	if err := s.store.ResetSlots(ctx, key); err != nil {
		s.logger.Error("resetting session", "session", key.String(), "error", err)
		return
	}
	s.metrics.SessionReset(string(key.Role))
	s.logger.Debug("session reset", "session", key.String())
}

func (s *Service) dispatchBuyer(ctx context.Context, t *turn) {
	known := t.sess.Slots
	criteria := store.SearchCriteria{Query: known.Text("product_type")}
	if v, ok := known.Number("budget_min"); ok {
		criteria.BudgetMin = &v
	}
	if v, ok := known.Number("budget_max"); ok {
		criteria.BudgetMax = &v
	}

	listings, err := s.store.SearchListings(ctx, criteria)
	if err != nil {
		s.metrics.Fallback("catalog_search")
		s.logger.Warn("catalog search failed", "session", t.key.String(), "error", err)
		t.reply, t.outcome = SearchUnavailable, "degraded"
		return
	}

	items := make([]message.Item, len(listings))
	for i, l := range listings {
		items[i] = l.Item()
	}

	req := message.RecommendationRequest{
		UserID:        t.key.UserID,
		SearchResults: items,
		UserContext: map[string]any{
			recommend.ContextMessages:      texts(t.sess.Recent(10)),
			recommend.ContextEmotion:       t.class.Emotion,
			recommend.ContextExtractedInfo: map[string]any(known.Clone()),
		},
		SearchCriteria: map[string]any(known.Clone()),
	}

	reply, err := s.bus.Request(ctx, message.AgentBuyerConversation, message.AgentRecommendation, req, s.dispatchTimeout)
	if err != nil {
		t.reply, t.outcome = s.dispatchFailed(t.key, message.AgentRecommendation, err, recommend.ErrorExplanation)
		return
	}
	resp, ok := reply.(message.RecommendationResponse)
	if !ok {
		t.reply, t.outcome = s.dispatchFailed(t.key, message.AgentRecommendation,
			fmt.Errorf("unexpected reply %s", reply.Kind()), recommend.ErrorExplanation)
		return
	}

	t.reply = FormatRecommendations(resp)
	t.outcome = "dispatched"
	t.terminal = len(resp.Recommendations) > 0
}

func (s *Service) dispatchSeller(ctx context.Context, t *turn) {
	known := t.sess.Slots
	suggested, _ := known.Number("suggested_price")

	req := message.PriceResearchRequest{
		UserID:         t.key.UserID,
		ProductName:    known.Text("product_name"),
		SuggestedPrice: suggested,
		ProductInfo:    map[string]any(known.Clone()),
	}

	reply, err := s.bus.Request(ctx, message.AgentSellerConversation, message.AgentPriceResearch, req, s.dispatchTimeout)
	if err != nil {
		t.reply, t.outcome = s.dispatchFailed(t.key, message.AgentPriceResearch, err, PricingUnavailable)
		return
	}
	resp, ok := reply.(message.PriceResearchResponse)
	if !ok {
		t.reply, t.outcome = s.dispatchFailed(t.key, message.AgentPriceResearch,
			fmt.Errorf("unexpected reply %s", reply.Kind()), PricingUnavailable)
		return
	}

	s.quotesMu.Lock()
	s.quotes[t.key.UserID] = quote{product: productKey(req.ProductName), resp: resp}
	s.quotesMu.Unlock()

	t.reply = SellerDispatchAck + "\n\n" + FormatPriceResearch(resp)
	t.outcome = "dispatched"
}

// dispatchFailed picks the reply for a failed downstream request.
func (s *Service) dispatchFailed(key store.SessionKey, agent string, err error, degraded string) (string, string) {
	if errors.Is(err, bus.ErrTimeout) {
		s.logger.Warn("downstream agent timed out", "session", key.String(), "agent", agent)
		return stillWorking(key.Role, agent), "timeout"
	}
	s.metrics.Fallback(agent)
	s.logger.Warn("downstream agent failed", "session", key.String(), "agent", agent, "error", err)
	return degraded, "degraded"
}

// ConfirmListing publishes the seller's current item. A nil price uses the
// last researched suggestion, then the seller's own price. ownerID defaults
// to userID.
func (s *Service) ConfirmListing(ctx context.Context, userID, ownerID string, price *float64) (message.ChatReply, error) {
	start := time.Now()
	key := store.SessionKey{Role: slots.Seller, UserID: userID}
	if ownerID == "" {
		ownerID = userID
	}

	unlock, err := s.locks.lock(ctx, key)
	if err != nil {
		return message.ChatReply{}, err
	}
	defer unlock()

	sess, err := s.store.GetSession(ctx, key)
	if err != nil {
		return message.ChatReply{}, fmt.Errorf("loading session: %w", err)
	}

	final, ok := s.listingPrice(sess, price)
	if !ok {
		return message.ChatReply{}, ErrNoPrice
	}

	req := message.ListingRequest{
		UserID:      userID,
		ProductInfo: map[string]any(sess.Slots.Clone()),
		FinalPrice:  final,
		OwnerID:     ownerID,
	}

	var text, outcome string
	reply, err := s.bus.Request(ctx, message.AgentSellerConversation, message.AgentListing, req, s.dispatchTimeout)
	resp, isListing := reply.(message.ListingResponse)
	switch {
	case err != nil:
		text, outcome = s.dispatchFailed(key, message.AgentListing, err, FormatListing(message.ListingResponse{Message: ListingUnavailable}))
	case !isListing:
		text, outcome = FormatListing(message.ListingResponse{Message: ListingUnavailable}), "degraded"
	default:
		text, outcome = FormatListing(resp), "listed"
		if !resp.Success {
			outcome = "rejected"
		}
	}

	if err := s.record(ctx, key, store.SpeakerAssistant, text, sess.Stage); err != nil {
		return message.ChatReply{}, err
	}
	if outcome == "listed" {
		s.quotesMu.Lock()
		delete(s.quotes, userID)
		s.quotesMu.Unlock()
		s.reset(ctx, key)
	}

	s.metrics.Turn(string(slots.Seller), outcome, time.Since(start))
	s.logger.Info("listing confirmation handled",
		"session", key.String(),
		"price", final,
		"outcome", outcome,
		"listing_id", resp.ListingID,
	)

	return message.ChatReply{
		UserID:     userID,
		Text:       text,
		Stage:      sess.Stage,
		Dispatched: true,
	}, nil
}

func (s *Service) listingPrice(sess *store.Session, price *float64) (float64, bool) {
	if price != nil {
		return *price, true
	}
	s.quotesMu.Lock()
	q, ok := s.quotes[sess.Key.UserID]
	if ok && q.product != productKey(sess.Slots.Text("product_name")) {
		// The seller moved on to another item since the research ran.
		delete(s.quotes, sess.Key.UserID)
		ok = false
	}
	s.quotesMu.Unlock()
	if ok {
		return q.resp.SuggestedPrice, true
	}
	return sess.Slots.Number("suggested_price")
}

func productKey(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// Register binds the buyer and seller conversation agents to the bus so
// inbound queries can arrive as messages.
func (s *Service) Register() error {
	err := s.bus.Register(message.AgentBuyerConversation, s.bus.Respond(func(ctx context.Context, env message.Envelope) (message.Payload, error) {
		q, ok := env.Payload.(message.BuyerQuery)
		if !ok {
			return nil, fmt.Errorf("buyer conversation: unexpected payload %s", env.Payload.Kind())
		}
		return s.HandleTurn(ctx, slots.Buyer, q.UserID, q.Message)
	}))
	if err != nil {
		return err
	}
	return s.bus.Register(message.AgentSellerConversation, s.bus.Respond(func(ctx context.Context, env message.Envelope) (message.Payload, error) {
		q, ok := env.Payload.(message.SellerQuery)
		if !ok {
			return nil, fmt.Errorf("seller conversation: unexpected payload %s", env.Payload.Kind())
		}
		return s.HandleTurn(ctx, slots.Seller, q.UserID, q.Message)
	}))
}

func texts(turns []store.Turn) []string {
	out := make([]string, len(turns))
	for i, t := range turns {
		out[i] = t.Text
	}
	return out
}

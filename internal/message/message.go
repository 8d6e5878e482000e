// ABOUTME: Tagged message variants exchanged between marketplace agents.
// ABOUTME: Defines Envelope, Payload, and one struct per inbound/outbound contract.

package message

import "time"

// Kind names a payload variant.
type Kind string

const (
	KindBuyerQuery             Kind = "buyer_query"
	KindSellerQuery            Kind = "seller_query"
	KindChatReply              Kind = "chat_reply"
	KindRecommendationRequest  Kind = "recommendation_request"
	KindRecommendationResponse Kind = "recommendation_response"
	KindPriceResearchRequest   Kind = "price_research_request"
	KindPriceResearchResponse  Kind = "price_research_response"
	KindListingRequest         Kind = "listing_request"
	KindListingResponse        Kind = "listing_response"
	KindListingUpdateRequest   Kind = "listing_update_request"
	KindListingDeleteRequest   Kind = "listing_delete_request"
	KindListingStatusRequest   Kind = "listing_status_request"
	KindListingStatusResponse  Kind = "listing_status_response"
	KindFailure                Kind = "failure"
)

// Well-known agent addresses.
const (
	AgentBuyerConversation  = "buyer_conversation_agent"
	AgentSellerConversation = "seller_conversation_agent"
	AgentRecommendation     = "recommendation_agent"
	AgentPriceResearch      = "price_research_agent"
	AgentListing            = "listing_agent"
)

// Payload is implemented by every message variant.
type Payload interface {
	Kind() Kind
}

// Envelope carries a payload between two addresses. CorrelationID is empty
// for fire-and-forget sends.
type Envelope struct {
	CorrelationID string
	From          string
	To            string
	Payload       Payload
	CreatedAt     time.Time
}

// Item is a catalog entry as seen by the agents.
type Item struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Price       *float64 `json:"price,omitempty"`
	Category    string   `json:"category,omitempty"`
	Condition   string   `json:"condition,omitempty"`
	Location    string   `json:"location,omitempty"`
	OwnerID     string   `json:"owner_id,omitempty"`
	Status      string   `json:"status,omitempty"`
}

// ScoredItem is an item with its recommendation score and the reasons that
// contributed to it, in evaluation order.
type ScoredItem struct {
	Item    Item     `json:"item"`
	Score   float64  `json:"score"`
	Reasons []string `json:"reasons"`
}

// PriceRange is an inclusive price interval.
type PriceRange struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
}

// BuyerQuery is one buyer utterance.
type BuyerQuery struct {
	UserID  string
	Message string
}

// SellerQuery is one seller utterance.
type SellerQuery struct {
	UserID  string
	Message string
}

// ChatReply is the text returned to a human after a turn.
type ChatReply struct {
	UserID     string
	Text       string
	Stage      string
	Missing    []string
	Dispatched bool
}

// RecommendationRequest asks the recommendation agent to rank search results.
type RecommendationRequest struct {
	UserID         string
	SearchResults  []Item
	UserContext    map[string]any
	SearchCriteria map[string]any
}

// RecommendationResponse carries ranked recommendations back to the buyer.
type RecommendationResponse struct {
	UserID          string
	Recommendations []ScoredItem
	Explanation     string
	ConfidenceScore float64
}

// PriceResearchRequest asks the price research agent for a market estimate.
type PriceResearchRequest struct {
	UserID         string
	ProductName    string
	SuggestedPrice float64
	ProductInfo    map[string]any
}

// PriceResearchResponse carries a price estimate back to the seller.
type PriceResearchResponse struct {
	UserID           string
	MarketPriceRange PriceRange
	SuggestedPrice   float64
	PriceAnalysis    string
	ConfidenceScore  float64
	QuickSellPrice   float64
	MaxProfitPrice   float64
}

// ListingRequest asks the listing agent to publish an item.
type ListingRequest struct {
	UserID      string
	ProductInfo map[string]any
	FinalPrice  float64
	OwnerID     string
}

// ListingResponse reports the outcome of a listing operation.
type ListingResponse struct {
	UserID    string
	ListingID string
	Success   bool
	Message   string
}

// ListingUpdateRequest patches an existing listing owned by OwnerID.
type ListingUpdateRequest struct {
	UserID    string
	ListingID string
	Patch     map[string]any
	OwnerID   string
}

// ListingDeleteRequest removes a listing owned by OwnerID.
type ListingDeleteRequest struct {
	UserID    string
	ListingID string
	OwnerID   string
}

// ListingStatusRequest asks for the current status of a listing.
type ListingStatusRequest struct {
	UserID    string
	ListingID string
	OwnerID   string
}

// ListingStatusResponse reports a listing's status and engagement.
type ListingStatusResponse struct {
	UserID           string
	ListingID        string
	Status           string
	Views            int
	InterestedBuyers int
	Success          bool
	Message          string
}

// Failure is the reply produced when a handler errors or panics.
type Failure struct {
	Agent  string
	Reason string
}

func (BuyerQuery) Kind() Kind             { return KindBuyerQuery }
func (SellerQuery) Kind() Kind            { return KindSellerQuery }
func (ChatReply) Kind() Kind              { return KindChatReply }
func (RecommendationRequest) Kind() Kind  { return KindRecommendationRequest }
func (RecommendationResponse) Kind() Kind { return KindRecommendationResponse }
func (PriceResearchRequest) Kind() Kind   { return KindPriceResearchRequest }
func (PriceResearchResponse) Kind() Kind  { return KindPriceResearchResponse }
func (ListingRequest) Kind() Kind         { return KindListingRequest }
func (ListingResponse) Kind() Kind        { return KindListingResponse }
func (ListingUpdateRequest) Kind() Kind   { return KindListingUpdateRequest }
func (ListingDeleteRequest) Kind() Kind   { return KindListingDeleteRequest }
func (ListingStatusRequest) Kind() Kind   { return KindListingStatusRequest }
func (ListingStatusResponse) Kind() Kind  { return KindListingStatusResponse }
func (Failure) Kind() Kind                { return KindFailure }

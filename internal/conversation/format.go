// ABOUTME: Fixed user-facing texts and formatting of downstream agent results
// ABOUTME: Renders recommendations, price research, and listing outcomes as chat markdown

package conversation

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/marksk1/chatmarket-mvp/internal/message"
	"github.com/marksk1/chatmarket-mvp/internal/recommend"
	"github.com/marksk1/chatmarket-mvp/internal/slots"
)

// Fixed replies.
const (
	BuyerFallbackFollowUp  = "I'd love to help you find what you're looking for! Could you tell me a bit more about what you have in mind?"
	SellerFallbackFollowUp = "I'd love to help you sell that! Could you tell me a bit more about the item?"

	SellerDispatchAck = "Great! I have all the details. Let me research the market price for you..."

	BuyerStillWorking   = "I'm still searching for the best options for you. Give me a moment and ask again."
	SellerStillWorking  = "I'm still researching the market price for your item. Give me a moment and ask again."
	ListingStillWorking = "I'm still publishing your listing. Give me a moment and check your listings."

	SearchUnavailable  = "I'm having trouble connecting to our product database. Let me try to help you in another way."
	PricingUnavailable = "I'm having trouble researching prices right now. Could you try again in a moment?"
	ListingUnavailable = "the listing service is unavailable right now. Please try again shortly."

	recommendationsClosing = "Would you like more details about any of these, or should I search for something else?"
	priceClosing           = "Would you like to list it at the suggested price, or would you prefer a different price?"

	descriptionPreview = 100
)

// FallbackFollowUp is the follow-up used when narrative generation fails.
func FallbackFollowUp(role slots.Role) string {
	if role == slots.Seller {
		return SellerFallbackFollowUp
	}
	return BuyerFallbackFollowUp
}

// StillWorking is the reply for a turn that outlived its caller's deadline.
func StillWorking(role slots.Role) string {
	return stillWorking(role, "")
}

func stillWorking(role slots.Role, agent string) string {
	if agent == message.AgentListing {
		return ListingStillWorking
	}
	if role == slots.Seller {
		return SellerStillWorking
	}
	return BuyerStillWorking
}

// FormatRecommendations renders the top DisplayK recommendations.
func FormatRecommendations(resp message.RecommendationResponse) string {
	if len(resp.Recommendations) == 0 {
		return resp.Explanation
	}

	var b strings.Builder
	b.WriteString(resp.Explanation)
	b.WriteString("\n\n")

	shown := resp.Recommendations
	if len(shown) > recommend.DisplayK {
		shown = shown[:recommend.DisplayK]
	}
	for _, rec := range shown {
		fmt.Fprintf(&b, "🔸 **%s**", rec.Item.Name)
		if rec.Item.Price != nil {
			b.WriteString(" - $" + strconv.FormatFloat(*rec.Item.Price, 'f', -1, 64))
		}
		b.WriteString("\n")
		if desc := strings.TrimSpace(rec.Item.Description); desc != "" {
			b.WriteString("   " + preview(desc, descriptionPreview) + "\n")
		}
		if len(rec.Reasons) > 0 {
			b.WriteString("   ✓ " + rec.Reasons[0] + "\n")
		}
		b.WriteString("\n")
	}
	b.WriteString(recommendationsClosing)
	return b.String()
}

func preview(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n]) + "..."
}

// FormatPriceResearch renders a price estimate for the seller.
func FormatPriceResearch(resp message.PriceResearchResponse) string {
	return fmt.Sprintf(`📊 **Market Research Results:**

💰 **Market Price Range:** $%.2f - $%.2f
🎯 **Suggested Price:** $%.2f

%s

%s`, resp.MarketPriceRange.Min, resp.MarketPriceRange.Max, resp.SuggestedPrice, resp.PriceAnalysis, priceClosing)
}

// FormatListing renders the outcome of a listing request.
func FormatListing(resp message.ListingResponse) string {
	if !resp.Success {
		return "❌ Sorry, there was an issue listing your item: " + resp.Message
	}
	return fmt.Sprintf(`✅ **Great! Your item has been listed successfully!**

🆔 **Listing ID:** %s
📝 **Status:** %s

Your item is now live on the marketplace. Buyers can find it and contact you. Good luck with your sale! 🎉`, resp.ListingID, resp.Message)
}

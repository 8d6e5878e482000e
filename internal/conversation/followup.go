// ABOUTME: Tone-matched follow-up questions for sessions with missing required fields
// ABOUTME: Falls back to a fixed per-role question when narrative generation fails

package conversation

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/marksk1/chatmarket-mvp/internal/slots"
)

func (s *Service) followUp(ctx context.Context, t *turn) string {
	out, err := s.llm.Complete(ctx, followUpPrompt(t), "")
	if err == nil {
		if reply := strings.Trim(strings.TrimSpace(out), `"'`); reply != "" {
			return reply
		}
		err = fmt.Errorf("empty follow-up")
	}

	s.metrics.Fallback("follow_up")
	s.logger.Warn("follow-up generation failed, using fallback",
		"session", t.key.String(),
		"error", err,
	)
	return FallbackFollowUp(t.key.Role)
}

func followUpPrompt(t *turn) string {
	history, _ := json.Marshal(texts(t.sess.Recent(5)))
	known, _ := json.Marshal(t.sess.Slots)
	missing, _ := json.Marshal(t.missing)

	tone := t.class.Tone
	if tone == "" {
		tone = "friendly"
	}

	if t.key.Role == slots.Seller {
		return fmt.Sprintf(`You are a helpful marketplace assistant helping someone sell their item.

Conversation history: %s
What we know about their item: %s
Seller's mood: %s
Seller's intent: %s
Still need to know: %s

Write a natural reply that acknowledges their item, shows you understand their selling
goals, and asks for the missing information. Match their tone (%s).

Examples:
- Urgent seller: "I can help you list that quickly! What condition would you say it's in?"
- Wants max profit: "Great! To get you the best price, could you tell me more about the condition?"
- Casual: "Nice! What condition is it in and what price were you thinking?"

Keep it conversational and supportive. Just return the response.`,
			history, known, t.class.Emotion, t.class.Intent, missing, tone)
	}

	return fmt.Sprintf(`You are a friendly, helpful shopping assistant having a natural conversation.

Conversation history: %s
What we know so far: %s
User's emotional state: %s
User's intent: %s
Missing important info: %s

Write a natural reply that acknowledges what they said, shows you understand their needs,
and asks for the missing information conversationally. Match their tone (%s).

Examples:
- Excited: "That sounds great! To help you find the perfect item, what's your budget range?"
- Frustrated: "I understand that can be frustrating. Let me help you find exactly what you need..."
- Urgent: "I can help you find that quickly! What's your budget so I can show you the best options?"

Keep it conversational, warm, and helpful. Just return the response, nothing else.`,
		history, known, t.class.Emotion, t.class.Intent, missing, tone)
}

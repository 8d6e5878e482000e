// Package extraction turns one utterance into a classification and a slot
// delta using the language model.
//
// Classification (emotion, intent, confidence, tone) and slot extraction are
// issued concurrently and fail independently. Because they run side by side,
// extraction is steered by the classification stored from the previous turn
// rather than the one being computed.
//
// Both calls are best effort. A classification that cannot be obtained or
// parsed is replaced by a fixed neutral default, and out-of-vocabulary labels
// are replaced field by field. A failed extraction yields an empty delta.
package extraction

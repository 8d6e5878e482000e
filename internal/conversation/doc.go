// Package conversation runs the buyer and seller dialogues.
//
// # Turns
//
// Each utterance is handled by Service.HandleTurn:
//
//  1. The utterance is recorded in the session before anything else happens.
//  2. The extraction pipeline classifies it and extracts a slot delta.
//  3. The delta, the new classification, and the derived stage are merged
//     into the session in one atomic store operation.
//  4. The missing set is computed from the required fields for the current
//     intent. Stage labels are advisory and never gate dispatch.
//  5. With fields missing, a tone-matched follow-up question is generated.
//     Otherwise the session is dispatched over the bus: buyers to the
//     recommendation agent with catalog search results, sellers to the price
//     research agent.
//  6. The reply is recorded as an assistant turn and returned.
//
// Turns for the same (role, user) session are serialized with a per-key lock;
// different sessions proceed in parallel.
//
// # Failures
//
// Collaborator failures never end a turn. Extraction problems fall back to
// defaults inside the pipeline, follow-up generation falls back to a fixed
// question per role, a downstream timeout produces a "still working" reply,
// and a downstream failure produces a fixed degraded reply.
//
// # Session reset
//
// A successful terminal action clears the session's slots so the next topic
// starts clean: for buyers, delivering at least one recommendation; for
// sellers, a successful ConfirmListing. Message history and the last
// classification are kept.
//
// # Agents and events
//
// Register binds buyer_conversation_agent and seller_conversation_agent to
// the bus so queries can arrive as BuyerQuery and SellerQuery messages. Every
// recorded turn is published on the EventBroadcaster for live watchers.
package conversation

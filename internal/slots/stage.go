// ABOUTME: Advisory dialogue stage labels derived from slot completeness.
// ABOUTME: Labels are for observability only and never gate dispatch.

package slots

// Buyer stages.
const (
	StageGreeting  = "greeting"
	StageExploring = "exploring"
	StageNarrowing = "narrowing"
	StageSearching = "searching"
)

// Seller stages. Sellers share StageGreeting.
const (
	StageDescribing = "describing"
	StageDetailing  = "detailing"
	StagePricing    = "pricing"
)

// StageFor labels a session from what is known and what is still missing.
func StageFor(role Role, known Values, missing []string) string {
	if len(known) == 0 {
		return StageGreeting
	}

	primary, early, middle, done := "product_type", StageExploring, StageNarrowing, StageSearching
	if role == Seller {
		primary, early, middle, done = "product_name", StageDescribing, StageDetailing, StagePricing
	}

	switch {
	case !known.Has(primary):
		return early
	case len(missing) > 0:
		return middle
	default:
		return done
	}
}

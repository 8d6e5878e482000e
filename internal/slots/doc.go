// Package slots holds the field schemas that drive slot-filling dialogue.
//
// Each role (buyer, seller) has a fixed set of named fields with a type. The
// package provides the pure functions the conversation layer builds on:
//
//   - Coerce restricts a raw extraction result to known fields and converts
//     values to the field's type; anything that does not convert is null.
//   - Merge applies a delta with last-non-null-wins semantics.
//   - RequiredFieldSet maps (role, intent) to the ordered fields that must be
//     known before the session can act, backed by a static table.
//   - Missing and StageFor derive the gating set and the advisory stage label.
//
// A Values map never stores nulls: a field is unknown when its key is absent.
package slots

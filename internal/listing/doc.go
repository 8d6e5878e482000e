// Package listing publishes and manages seller listings.
//
// Product details gathered during the seller dialogue are validated, cleaned,
// and given a synthesized description when the seller did not write one.
// Updates, deletes, and status lookups are owner-scoped: only the listing's
// owner may change or inspect it.
//
// The listing agent answers ListingRequest, ListingUpdateRequest, and
// ListingDeleteRequest with a ListingResponse, and ListingStatusRequest with
// a ListingStatusResponse. Business failures are reported in the response
// rather than as handler errors.
package listing

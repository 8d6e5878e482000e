// ABOUTME: Validation, cleaning, and description synthesis for seller product details.
// ABOUTME: Converts loosely typed product maps and patches into store listings.

package listing

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/marksk1/chatmarket-mvp/internal/store"
)

// Conditions a listing may carry. DefaultCondition replaces anything else.
var Conditions = []string{"new", "excellent", "good", "fair", "poor"}

const (
	DefaultCondition = "good"
	DefaultCategory  = "general"
)

// requiredFields must be present in product details before listing.
var requiredFields = []string{"product_name", "condition"}

// ValidationError rejects a listing action. Its message is shown to the seller.
type ValidationError struct {
	Missing []string
	Reason  string
}

func (e *ValidationError) Error() string {
	if len(e.Missing) > 0 {
		return "Missing required fields: " + strings.Join(e.Missing, ", ")
	}
	return e.Reason
}

// Product is cleaned product details.
type Product struct {
	Name             string
	Description      string
	Condition        string
	Category         string
	Brand            string
	Location         string
	Age              string
	ReasonForSelling string
	Negotiable       bool
}

// Validate checks required fields and returns the cleaned product.
func Validate(info map[string]any) (Product, error) {
	var missing []string
	for _, f := range requiredFields {
		if str(info[f]) == "" {
			missing = append(missing, f)
		}
	}
	if len(missing) > 0 {
		return Product{}, &ValidationError{Missing: missing}
	}

	p := Product{
		Name:             str(info["product_name"]),
		Description:      str(info["description"]),
		Condition:        NormalizeCondition(str(info["condition"])),
		Category:         str(info["category"]),
		Brand:            str(info["brand"]),
		Location:         str(info["location"]),
		Age:              str(info["age"]),
		ReasonForSelling: str(info["reason_for_selling"]),
		Negotiable:       boolOr(info["negotiable"], true),
	}
	if p.Description == "" {
		p.Description = BuildDescription(p)
	}
	return p, nil
}

// NormalizeCondition lower-cases c and maps unknown values to DefaultCondition.
func NormalizeCondition(c string) string {
	c = strings.ToLower(strings.TrimSpace(c))
	for _, known := range Conditions {
		if c == known {
			return c
		}
	}
	return DefaultCondition
}

// BuildDescription writes a one-paragraph description from what is known.
func BuildDescription(p Product) string {
	parts := []string{p.Name}
	if p.Brand != "" {
		parts[0] = p.Brand + " " + p.Name
	}
	if p.Condition != "" {
		parts = append(parts, "in "+p.Condition+" condition")
	}
	if p.Age != "" {
		parts = append(parts, "("+p.Age+" old)")
	}
	if p.ReasonForSelling != "" {
		parts = append(parts, "Selling because: "+p.ReasonForSelling)
	}
	if p.Location != "" {
		parts = append(parts, "Located in "+p.Location)
	}
	if p.Negotiable {
		parts = append(parts, "Price negotiable")
	}
	return strings.Join(parts, ". ") + "."
}

// Listing builds the store listing for p at price.
func (p Product) Listing(ownerID string, price float64) *store.Listing {
	category := p.Category
	if category == "" {
		category = DefaultCategory
	}
	return &store.Listing{
		OwnerID:     ownerID,
		Name:        p.Name,
		Description: p.Description,
		Price:       &price,
		Category:    category,
		Brand:       p.Brand,
		Location:    p.Location,
		Condition:   p.Condition,
		Negotiable:  p.Negotiable,
		Status:      store.ListingActive,
	}
}

// PatchFrom converts an update map into a ListingPatch. Unknown keys are
// ignored; a patch that changes nothing is rejected.
func PatchFrom(updates map[string]any) (store.ListingPatch, error) {
	var patch store.ListingPatch
	strField := func(key string) *string {
		v, ok := updates[key]
		if !ok || v == nil {
			return nil
		}
		s := str(v)
		return &s
	}

	patch.Name = strField("name")
	patch.Description = strField("description")
	patch.Category = strField("category")
	patch.Brand = strField("brand")
	patch.Location = strField("location")

	if c := strField("condition"); c != nil {
		normalized := NormalizeCondition(*c)
		patch.Condition = &normalized
	}
	if s := strField("status"); s != nil {
		status := strings.ToLower(*s)
		switch status {
		case store.ListingActive, store.ListingSold, store.ListingPaused:
			patch.Status = &status
		default:
			return patch, &ValidationError{Reason: fmt.Sprintf("Invalid status %q", *s)}
		}
	}
	if v, ok := updates["price"]; ok && v != nil {
		price, ok := num(v)
		if !ok || price < 0 {
			return patch, &ValidationError{Reason: fmt.Sprintf("Invalid price %v", v)}
		}
		patch.Price = &price
	}
	if v, ok := updates["negotiable"]; ok && v != nil {
		b := boolOr(v, true)
		patch.Negotiable = &b
	}

	if patch.Name != nil && *patch.Name == "" {
		return patch, &ValidationError{Reason: "Listing name cannot be empty"}
	}
	if patch.Empty() {
		return patch, &ValidationError{Reason: "No updatable fields in patch"}
	}
	return patch, nil
}

func str(v any) string {
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case int:
		return strconv.Itoa(t)
	case bool:
		return strconv.FormatBool(t)
	}
	return ""
}

func num(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case int:
		return float64(t), true
	case string:
		f, err := strconv.ParseFloat(strings.TrimPrefix(strings.TrimSpace(t), "$"), 64)
		return f, err == nil
	}
	return 0, false
}

func boolOr(v any, def bool) bool {
	switch t := v.(type) {
	case bool:
		return t
	case string:
		switch strings.ToLower(strings.TrimSpace(t)) {
		case "true", "yes", "y":
			return true
		case "false", "no", "n":
			return false
		}
	}
	return def
}

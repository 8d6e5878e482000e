// ABOUTME: Buyer and seller field schemas, intents, and the required-field table.
// ABOUTME: Pure functions for coercing, merging, and gating slot values.

package slots

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
)

// Role distinguishes the two dialogue sides.
type Role string

const (
	Buyer  Role = "buyer"
	Seller Role = "seller"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	return r == Buyer || r == Seller
}

// Type is the value type of a field.
type Type int

const (
	String Type = iota
	Number
	Bool
	Object
)

// Field describes one slot.
type Field struct {
	Name string
	Type Type
}

// Buyer intents.
const (
	IntentBrowsing       = "browsing"
	IntentSpecificNeed   = "specific_need"
	IntentPriceShopping  = "price_shopping"
	IntentUrgentPurchase = "urgent_purchase"
	IntentJustLooking    = "just_looking"
)

// Seller intents.
const (
	IntentQuickSell      = "quick_sell"
	IntentMaximizeProfit = "maximize_profit"
	IntentDeclutter      = "declutter"
	IntentUpgrade        = "upgrade"
	IntentEmergencyCash  = "emergency_cash"
	IntentCasualSelling  = "casual_selling"
)

var buyerFields = []Field{
	{"product_type", String},
	{"budget_min", Number},
	{"budget_max", Number},
	{"location", String},
	{"timeline", String},
	{"condition", String},
	{"specifications", Object},
	{"use_case", String},
}

var sellerFields = []Field{
	{"product_name", String},
	{"description", String},
	{"condition", String},
	{"suggested_price", Number},
	{"category", String},
	{"brand", String},
	{"age", String},
	{"location", String},
	{"reason_for_selling", String},
	{"negotiable", Bool},
}

var intents = map[Role][]string{
	Buyer:  {IntentBrowsing, IntentSpecificNeed, IntentPriceShopping, IntentUrgentPurchase, IntentJustLooking},
	Seller: {IntentQuickSell, IntentMaximizeProfit, IntentDeclutter, IntentUpgrade, IntentEmergencyCash, IntentCasualSelling},
}

// requiredFields is keyed by role then intent; the "" entry is the default
// for intents without their own row.
var requiredFields = map[Role]map[string][]string{
	Buyer: {
		"":                   {"product_type", "budget_max"},
		IntentUrgentPurchase: {"product_type", "budget_max"},
		IntentSpecificNeed:   {"product_type", "budget_min", "budget_max"},
	},
	Seller: {
		"":                   {"product_name", "condition", "suggested_price"},
		IntentQuickSell:      {"product_name", "condition"},
		IntentMaximizeProfit: {"product_name", "condition", "suggested_price", "description", "brand"},
	},
}

// Fields returns the schema for role in declaration order.
func Fields(role Role) []Field {
	switch role {
	case Buyer:
		return append([]Field(nil), buyerFields...)
	case Seller:
		return append([]Field(nil), sellerFields...)
	}
	return nil
}

// Lookup returns the field named name for role.
func Lookup(role Role, name string) (Field, bool) {
	for _, f := range Fields(role) {
		if f.Name == name {
			return f, true
		}
	}
	return Field{}, false
}

// Intents returns the closed intent vocabulary for role.
func Intents(role Role) []string {
	return append([]string(nil), intents[role]...)
}

// ValidIntent reports whether intent belongs to role's vocabulary.
func ValidIntent(role Role, intent string) bool {
	for _, i := range intents[role] {
		if i == intent {
			return true
		}
	}
	return false
}

// DefaultIntent is the intent assumed when classification is unavailable.
func DefaultIntent(role Role) string {
	if role == Seller {
		return IntentCasualSelling
	}
	return IntentBrowsing
}

// RequiredFieldSet returns the ordered field names that must be known before
// a session for role with the given intent is ready to act.
func RequiredFieldSet(role Role, intent string) []string {
	table := requiredFields[role]
	if table == nil {
		return nil
	}
	fields, ok := table[intent]
	if !ok {
		fields = table[""]
	}
	return append([]string(nil), fields...)
}

// Values maps field names to known values. Absent keys are unknown.
type Values map[string]any

// Clone returns a copy of v. Object values are copied one level deep.
func (v Values) Clone() Values {
	out := make(Values, len(v))
	for k, val := range v {
		if m, ok := val.(map[string]any); ok {
			cp := make(map[string]any, len(m))
			for mk, mv := range m {
				cp[mk] = mv
			}
			val = cp
		}
		out[k] = val
	}
	return out
}

// Text returns the string value of name, or "".
func (v Values) Text(name string) string {
	s, _ := v[name].(string)
	return s
}

// Number returns the numeric value of name and whether it is known.
func (v Values) Number(name string) (float64, bool) {
	f, ok := v[name].(float64)
	return f, ok
}

// Has reports whether name has a non-null value.
func (v Values) Has(name string) bool {
	val, ok := v[name]
	return ok && val != nil
}

// Merge writes every non-null entry of delta over dst and returns dst.
// A nil dst is allocated. Null entries in delta never erase known values.
func Merge(dst, delta Values) Values {
	if dst == nil {
		dst = make(Values, len(delta))
	}
	for k, val := range delta {
		if val == nil {
			continue
		}
		dst[k] = val
	}
	return dst
}

// Missing returns the fields of RequiredFieldSet(role, intent) that have no
// value in known, preserving table order.
func Missing(role Role, intent string, known Values) []string {
	var missing []string
	for _, name := range RequiredFieldSet(role, intent) {
		if !known.Has(name) {
			missing = append(missing, name)
		}
	}
	return missing
}

// Coerce keeps only fields in role's schema and converts each value to the
// field's type. Values that cannot be converted are dropped as null.
func Coerce(role Role, raw map[string]any) Values {
	out := make(Values)
	for _, f := range Fields(role) {
		val, ok := raw[f.Name]
		if !ok {
			continue
		}
		if c := coerce(f.Type, val); c != nil {
			out[f.Name] = c
		}
	}
	return out
}

func coerce(t Type, val any) any {
	switch t {
	case String:
		return toString(val)
	case Number:
		return toNumber(val)
	case Bool:
		return toBool(val)
	case Object:
		if m, ok := val.(map[string]any); ok && len(m) > 0 {
			return m
		}
	}
	return nil
}

func isNullWord(s string) bool {
	switch strings.ToLower(s) {
	case "", "null", "none", "n/a", "unknown", "nil":
		return true
	}
	return false
}

func toString(val any) any {
	switch v := val.(type) {
	case string:
		s := strings.TrimSpace(v)
		if isNullWord(s) {
			return nil
		}
		return s
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case json.Number:
		return v.String()
	case bool:
		return strconv.FormatBool(v)
	}
	return nil
}

func toNumber(val any) any {
	var f float64
	switch v := val.(type) {
	case float64:
		f = v
	case float32:
		f = float64(v)
	case int:
		f = float64(v)
	case int64:
		f = float64(v)
	case json.Number:
		parsed, err := v.Float64()
		if err != nil {
			return nil
		}
		f = parsed
	case string:
		s := strings.TrimSpace(v)
		s = strings.TrimPrefix(s, "$")
		s = strings.ReplaceAll(s, ",", "")
		if isNullWord(s) {
			return nil
		}
		parsed, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return nil
		}
		f = parsed
	default:
		return nil
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return nil
	}
	return f
}

func toBool(val any) any {
	switch v := val.(type) {
	case bool:
		return v
	case string:
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "true", "yes", "y":
			return true
		case "false", "no", "n":
			return false
		}
	}
	return nil
}

package order

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// Input limits.
const (
	MaxItems    = 100
	MaxQuantity = 10000
)

var (
	maxPrice       = decimal.NewFromInt(1_000_000)
	totalTolerance = decimal.RequireFromString("0.01")
)

// ValidateCreate checks a create request without calling collaborators.
func ValidateCreate(req CreateRequest) error {
	if strings.TrimSpace(req.ID) == "" {
		return &ValidationError{Field: "id", Rule: "required", Message: "must not be empty"}
	}
	if req.UserID <= 0 {
		return &ValidationError{Field: "user_id", Rule: "positive", Message: "must be greater than 0"}
	}
	if err := ValidateItems(req.Items); err != nil {
		return err
	}
	return validateClaimedTotal(req.Total)
}

// ValidateUpdate checks an update request without calling collaborators.
func ValidateUpdate(req UpdateRequest) error {
	if strings.TrimSpace(req.ID) == "" {
		return &ValidationError{Field: "id", Rule: "required", Message: "must not be empty"}
	}
	if err := ValidateItems(req.Items); err != nil {
		return err
	}
	return validateClaimedTotal(req.Total)
}

// ValidateItems checks item count, SKU uniqueness, quantities and prices.
func ValidateItems(items []Item) error {
	switch {
	case len(items) == 0:
		return &ValidationError{Field: "items", Rule: "min", Message: "at least one item is required"}
	case len(items) > MaxItems:
		return &ValidationError{
			Field:   "items",
			Rule:    "max",
			Message: fmt.Sprintf("at most %d items are allowed", MaxItems),
		}
	}

	seen := make(map[string]int, len(items))
	for i, it := range items {
		field := fmt.Sprintf("items[%d]", i)
		if strings.TrimSpace(it.SKU) == "" {
			return &ValidationError{Field: field + ".sku", Rule: "required", Message: "must not be empty"}
		}
		if j, ok := seen[it.SKU]; ok {
			return &ValidationError{
				Field:   field + ".sku",
				Rule:    "unique",
				Message: fmt.Sprintf("duplicates items[%d].sku %q", j, it.SKU),
			}
		}
		seen[it.SKU] = i

		if it.Quantity < 1 || it.Quantity > MaxQuantity {
			return &ValidationError{
				Field:   field + ".quantity",
				Rule:    "range",
				Message: fmt.Sprintf("must be between 1 and %d", MaxQuantity),
			}
		}
		if it.Price.IsNegative() || it.Price.GreaterThan(maxPrice) {
			return &ValidationError{
				Field:   field + ".price",
				Rule:    "range",
				Message: "must be between 0 and " + maxPrice.String(),
			}
		}
		if !it.Price.Equal(it.Price.Round(2)) {
			return &ValidationError{
				Field:   field + ".price",
				Rule:    "scale",
				Message: "must have at most 2 decimal places",
			}
		}
	}
	return nil
}

func validateClaimedTotal(total *decimal.Decimal) error {
	if total != nil && total.IsNegative() {
		return &ValidationError{Field: "total", Rule: "non_negative", Message: "must not be negative"}
	}
	return nil
}

// ParseStatus converts s into a known Status.
func ParseStatus(s string) (Status, error) {
	st := Status(strings.ToLower(strings.TrimSpace(s)))
	if !st.Valid() {
		return "", &ValidationError{
			Field:   "status",
			Rule:    "enum",
			Message: fmt.Sprintf("unknown status %q", s),
		}
	}
	return st, nil
}

// Total computes Σ(quantity × price) rounded to cents.
func Total(items []Item) decimal.Decimal {
	total := decimal.Zero
	for _, it := range items {
		total = total.Add(it.Price.Mul(decimal.NewFromInt(int64(it.Quantity))))
	}
	return total.Round(2)
}

// CheckTotal compares a caller-supplied total with the computed one and
// returns *ValidationError when they differ by more than one cent.
func CheckTotal(claimed, computed decimal.Decimal) error {
	if claimed.Sub(computed).Abs().GreaterThan(totalTolerance) {
		return &ValidationError{
			Field:   "total",
			Rule:    "mismatch",
			Message: fmt.Sprintf("claimed %s, computed %s", claimed.StringFixed(2), computed.StringFixed(2)),
		}
	}
	return nil
}

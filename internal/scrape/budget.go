package scrape

import (
	"encoding/json"
	"fmt"
)

// Page budget bounds.
const (
	DefaultPageLimit = 10
	MaxPageLimit     = 50
)

// PageBudget is the caller-supplied pagination budget: "first", "all"
// (capped at MaxPageLimit), or an explicit page count. The zero value means
// "use the default".
type PageBudget struct {
	mode string // "", "first", "all", "count"
	n    int
}

// PagesFirst budgets a single page.
func PagesFirst() PageBudget { return PageBudget{mode: "first"} }

// PagesAll budgets up to MaxPageLimit pages.
func PagesAll() PageBudget { return PageBudget{mode: "all"} }

// PagesN budgets an explicit page count.
func PagesN(n int) PageBudget { return PageBudget{mode: "count", n: n} }

// ParsePageBudget parses the CLI/queue representation of a page budget.
func ParsePageBudget(s string) (PageBudget, error) {
	switch s {
	case "":
		return PageBudget{}, nil
	case "first":
		return PagesFirst(), nil
	case "all":
		return PagesAll(), nil
	}
	var n int
	if _, err := fmt.Sscanf(s, "%d", &n); err != nil || n < 1 {
		return PageBudget{}, fmt.Errorf("invalid page budget %q", s)
	}
	return PagesN(n), nil
}

// IsZero reports whether the budget was left unset.
func (b PageBudget) IsZero() bool { return b.mode == "" }

// Limit resolves the budget to a concrete page cap.
func (b PageBudget) Limit() int {
	switch b.mode {
	case "first":
		return 1
	case "all":
		return MaxPageLimit
	case "count":
		if b.n > MaxPageLimit {
			return MaxPageLimit
		}
		if b.n < 1 {
			return 1
		}
		return b.n
	default:
		return DefaultPageLimit
	}
}

// MarshalJSON encodes the budget as "first", "all", or a number.
func (b PageBudget) MarshalJSON() ([]byte, error) {
	switch b.mode {
	case "first", "all":
		return json.Marshal(b.mode)
	case "count":
		return json.Marshal(b.n)
	default:
		return []byte("null"), nil
	}
}

// UnmarshalJSON accepts "first", "all", a number, or null.
func (b *PageBudget) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*b = PageBudget{}
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		parsed, perr := ParsePageBudget(s)
		if perr != nil {
			return perr
		}
		*b = parsed
		return nil
	}
	var n int
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("invalid page budget %s", string(data))
	}
	if n < 1 {
		return fmt.Errorf("page budget must be positive, got %d", n)
	}
	*b = PagesN(n)
	return nil
}

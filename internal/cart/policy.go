package cart

import (
	"fmt"
	"strings"
)

// QuantityPolicy decides what UpdateQuantity does with a non-positive quantity.
type QuantityPolicy int

const (
	// RemoveNonPositive drops the line when its quantity is set to zero or below.
	RemoveNonPositive QuantityPolicy = iota
	// KeepNonPositive stores the quantity verbatim; callers must follow up
	// with RemoveFromCart themselves.
	KeepNonPositive
)

func (p QuantityPolicy) String() string {
	switch p {
	case KeepNonPositive:
		return "keep_non_positive"
	default:
		return "remove_non_positive"
	}
}

// ParseQuantityPolicy maps a configuration value onto a policy.
func ParseQuantityPolicy(value string) (QuantityPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "", "remove_non_positive":
		return RemoveNonPositive, nil
	case "keep_non_positive":
		return KeepNonPositive, nil
	default:
		return RemoveNonPositive, fmt.Errorf("unknown quantity policy %q", value)
	}
}

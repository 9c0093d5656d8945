package register

import (
	"strconv"
	"strings"
)

// noneSentinel declines tag selection entirely.
const noneSentinel = "none"

// ParseSelection parses a comma-separated list of 1-based indices into a
// catalog of count entries. "none" (alone) yields an empty selection.
// Duplicate indices collapse to the first occurrence, preserving order.
// An index outside [1, count] fails the whole selection with a message
// naming the bad index and the valid range.
func ParseSelection(input string, count int) ([]int, error) {
	trimmed := strings.TrimSpace(input)
	if strings.EqualFold(trimmed, noneSentinel) {
		return nil, nil
	}
	if trimmed == "" {
		return nil, invalid("tags", "enter numbers like \"1, 3\" or \"none\"")
	}

	seen := make(map[int]bool)
	var out []int
	for _, part := range strings.Split(trimmed, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		n, err := strconv.Atoi(part)
		if err != nil {
			return nil, invalid("tags", "%q is not a number; enter numbers like \"1, 3\" or \"none\"", part)
		}
		if n < 1 || n > count {
			return nil, invalid("tags", "%d is out of range; valid numbers are 1 to %d", n, count)
		}
		if seen[n] {
			continue
		}
		seen[n] = true
		out = append(out, n)
	}
	if len(out) == 0 {
		return nil, invalid("tags", "enter numbers like \"1, 3\" or \"none\"")
	}
	return out, nil
}

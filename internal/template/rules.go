package template

import (
	"strconv"
	"strings"
)

// Validate evaluates a value against a pipe-separated rule string.
// A value is valid unless a known rule rejects it; unknown tokens are
// ignored so newer panel rules never break older daemons. "nullable"
// short-circuits: an empty value is always valid under it.
func Validate(value string, rules string) bool {
	if rules == "" {
		return true
	}

	tokens := strings.Split(rules, "|")

	for _, token := range tokens {
		if token == "nullable" && value == "" {
			return true
		}
	}

	for _, token := range tokens {
		switch {
		case token == "nullable", token == "string":
			// no constraint
		case strings.HasPrefix(token, "max:"):
			limit, err := strconv.Atoi(strings.TrimPrefix(token, "max:"))
			if err != nil {
				continue
			}
			if len(value) > limit {
				return false
			}
		}
	}

	return true
}

package template

import (
	"regexp"
	"strings"

	"krypton/internal/domain"
)

var (
	variablePattern = regexp.MustCompile(`%([a-z0-9_]+)%`)
	cargoPattern    = regexp.MustCompile(`%cargo:\['([^']+)'\]%`)
)

// NormalizeName maps a panel variable name to its placeholder form:
// lowercased, spaces replaced with underscores.
func NormalizeName(name string) string {
	return strings.ToLower(strings.ReplaceAll(name, " ", "_"))
}

// CargoPlaceholders lists the cargo paths referenced in s. Cargo
// expansion is an identity substitution, so callers without a panel
// snapshot in hand can resolve references against this list.
func CargoPlaceholders(s string) []string {
	var paths []string
	for _, match := range cargoPattern.FindAllStringSubmatch(s, -1) {
		paths = append(paths, match[1])
	}
	return paths
}

// Render substitutes %variable% and %cargo:['path']% placeholders in s.
// Variable values must pass their unit rules; unknown variable
// placeholders are left intact, unknown cargo references fail.
func Render(s string, variables []domain.Variable, cargo []domain.CargoFile) (string, error) {
	byName := make(map[string]domain.Variable, len(variables))
	for _, v := range variables {
		byName[NormalizeName(v.Name)] = v
	}

	cargoByPath := make(map[string]domain.CargoFile, len(cargo))
	for _, c := range cargo {
		cargoByPath[c.TargetPath] = c
	}

	var renderErr error

	out := cargoPattern.ReplaceAllStringFunc(s, func(match string) string {
		path := cargoPattern.FindStringSubmatch(match)[1]
		entry, ok := cargoByPath[path]
		if !ok {
			if renderErr == nil {
				renderErr = &domain.UnknownCargoError{Path: path}
			}
			return match
		}
		return entry.TargetPath
	})
	if renderErr != nil {
		return "", renderErr
	}

	out = variablePattern.ReplaceAllStringFunc(out, func(match string) string {
		name := variablePattern.FindStringSubmatch(match)[1]
		v, ok := byName[name]
		if !ok {
			return match
		}
		value := v.Value()
		if !Validate(value, v.Rules) {
			if renderErr == nil {
				renderErr = &domain.VariableRuleViolation{Name: v.Name, Rules: v.Rules}
			}
			return match
		}
		return value
	})
	if renderErr != nil {
		return "", renderErr
	}

	return out, nil
}

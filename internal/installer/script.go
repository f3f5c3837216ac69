package installer

import (
	"fmt"
	"strings"

	"krypton/internal/domain"
	"krypton/internal/template"
)

// EnvName maps a panel variable name to its shell/environment form.
func EnvName(name string) string {
	return strings.ToUpper(template.NormalizeName(name))
}

// quoteValue single-quote-escapes a value for a shell assignment.
// Raw interpolation into double quotes would let values containing
// quote characters break out of the assignment.
func quoteValue(v string) string {
	return "'" + strings.ReplaceAll(v, "'", `'\''`) + "'"
}

// GenerateScript wraps the unit's install script with logging, error
// trapping and the variable environment.
func GenerateScript(variables []domain.Variable, userScript string) string {
	var b strings.Builder

	b.WriteString("#!/bin/bash\n")
	b.WriteString("set -e\n")
	b.WriteString("exec 1> >(tee -a /mnt/server/.installation/logs/install.log)\n")
	b.WriteString("exec 2>&1\n")
	b.WriteString("trap 'echo \"Error on line $LINENO\" >> /mnt/server/.installation/logs/install.log' ERR\n")

	for _, v := range variables {
		fmt.Fprintf(&b, "export %s=%s\n", EnvName(v.Name), quoteValue(v.Value()))
	}

	b.WriteString(userScript)
	if !strings.HasSuffix(userScript, "\n") {
		b.WriteString("\n")
	}
	b.WriteString("exit $?\n")

	return b.String()
}

package agents

import (
	"fmt"
	"strings"
)

// Render substitutes {name} tokens with the given values. Tokens without
// a value are left intact, so literal braces in prompt text survive.
func Render(template string, vars map[string]string) string {
	if len(vars) == 0 {
		return template
	}
	pairs := make([]string, 0, len(vars)*2)
	for name, value := range vars {
		pairs = append(pairs, "{"+name+"}", value)
	}
	return strings.NewReplacer(pairs...).Replace(template)
}

// RequirePlaceholders verifies the template declares each placeholder.
// Checked when an agent initializes so a broken template fails the
// workflow before any model call.
func RequirePlaceholders(template string, names ...string) error {
	var missing []string
	for _, name := range names {
		if !strings.Contains(template, "{"+name+"}") {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("template missing placeholders: %s", strings.Join(missing, ", "))
	}
	return nil
}

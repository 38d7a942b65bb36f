package prompt

import (
	"strings"
	"time"
)

// Render replaces every "{key}" in template with vars[key]. Placeholders
// without a variable are left as-is. Substitution is single pass, so values
// that themselves contain "{...}" are not expanded again.
func Render(template string, vars map[string]string) string {
	if len(vars) == 0 {
		return template
	}
	pairs := make([]string, 0, len(vars)*2)
	for k, v := range vars {
		pairs = append(pairs, "{"+k+"}", v)
	}
	return strings.NewReplacer(pairs...).Replace(template)
}

// timestampLayout matches the local, zone-less ISO form with microseconds.
const timestampLayout = "2006-01-02T15:04:05.000000"

// WithTimestamp appends the internal timestamp marker to a system prompt.
func WithTimestamp(system string, now time.Time) string {
	return system + "\n\n[Internal timestamp: " + now.Format(timestampLayout) + "]"
}

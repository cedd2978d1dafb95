// Package mailing renders campaign templates and delivers mail through a
// pluggable transport.
package mailing

import (
	"strings"

	"github.com/nftecnologia/mailgenius/internal/domain"
)

// Render substitutes recipient data into the template. {{name}} and
// {{email}} come from the recipient itself; every metadata key is also a
// placeholder. Unknown placeholders stay intact, and each target string is
// rewritten in a single pass, so recipient values containing placeholder
// syntax are never re-expanded.
func Render(tpl domain.Template, r domain.Recipient) domain.Template {
	values := make(map[string]string, len(r.Metadata)+2)
	for k, v := range r.Metadata {
		values[k] = v
	}
	values["name"] = r.Name
	values["email"] = r.Email

	return domain.Template{
		Subject: substitute(tpl.Subject, values),
		HTML:    substitute(tpl.HTML, values),
		Text:    substitute(tpl.Text, values),
	}
}

// substitute scans s once, replacing {{key}} occurrences from values.
func substitute(s string, values map[string]string) string {
	if !strings.Contains(s, "{{") {
		return s
	}

	var b strings.Builder
	b.Grow(len(s))

	for {
		open := strings.Index(s, "{{")
		if open < 0 {
			b.WriteString(s)
			break
		}
		end := strings.Index(s[open:], "}}")
		if end < 0 {
			b.WriteString(s)
			break
		}
		end += open

		key := strings.TrimSpace(s[open+2 : end])
		if v, ok := values[key]; ok {
			b.WriteString(s[:open])
			b.WriteString(v)
		} else {
			b.WriteString(s[:end+2])
		}
		s = s[end+2:]
	}
	return b.String()
}

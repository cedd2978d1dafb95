package logger

import (
	"regexp"
	"strings"
)

// Sanitization runs on every log emission, before any sink. Strings are
// scrubbed of secret-shaped and PII-shaped substrings; structured fields
// with a known-sensitive name are replaced wholesale.

var (
	apiKeyRegex = regexp.MustCompile(`\b(?:es_live|sk|pk)_[a-zA-Z0-9]{16,}\b`)
	jwtRegex    = regexp.MustCompile(`\beyJ[A-Za-z0-9_-]+\.[A-Za-z0-9_-]+\.[A-Za-z0-9_-]+\b`)
	emailRegex  = regexp.MustCompile(`[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}`)
	uuidRegex   = regexp.MustCompile(`\b[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12}\b`)
	cardRegex   = regexp.MustCompile(`\b\d{4}[ -]?\d{4}[ -]?\d{4}[ -]?\d{1,4}\b`)
	idRegex     = regexp.MustCompile(`\b\d{3}\.\d{3}\.\d{3}-\d{2}\b|\b\d{3}-\d{2}-\d{4}\b`)
	phoneRegex  = regexp.MustCompile(`\+\d{1,3}[ -]?\(?\d{2,3}\)?[ -]?\d{3,5}[ -]?\d{4}\b`)
	ipRegex     = regexp.MustCompile(`\b(?:\d{1,3}\.){3}\d{1,3}\b`)
)

// ordering matters: keys and tokens first so their fragments are not
// re-matched by the looser numeric patterns.
var scrubbers = []struct {
	kind string
	re   *regexp.Regexp
}{
	{"API_KEY", apiKeyRegex},
	{"JWT", jwtRegex},
	{"EMAIL", emailRegex},
	{"UUID", uuidRegex},
	{"CARD", cardRegex},
	{"NATIONAL_ID", idRegex},
	{"PHONE", phoneRegex},
	{"IP", ipRegex},
}

var sensitiveKeys = map[string]bool{
	"password":      true,
	"passwd":        true,
	"secret":        true,
	"token":         true,
	"api_key":       true,
	"apikey":        true,
	"authorization": true,
	"auth":          true,
	"cookie":        true,
	"session":       true,
	"key_hash":      true,
	"private_key":   true,
	"credit_card":   true,
	"card_number":   true,
	"cvv":           true,
	"ssn":           true,
	"cpf":           true,
}

// Sanitize scrubs secret and PII patterns from s, replacing each match
// with [REDACTED_<KIND>].
func Sanitize(s string) string {
	for _, sc := range scrubbers {
		s = sc.re.ReplaceAllString(s, "[REDACTED_"+sc.kind+"]")
	}
	return s
}

// IsSensitiveKey reports whether a structured field name is on the
// known-sensitive list and must be redacted wholesale.
func IsSensitiveKey(key string) bool {
	return sensitiveKeys[strings.ToLower(strings.TrimSpace(key))]
}

// RedactEmail masks an email address for safe logging.
// "john.doe@example.com" → "jo***@example.com"
// Short local parts (≤2 chars) are fully masked: "ab@example.com" → "***@example.com"
func RedactEmail(email string) string {
	parts := strings.Split(email, "@")
	if len(parts) != 2 {
		return "***@***"
	}
	name := parts[0]
	if len(name) > 2 {
		return name[:2] + "***@" + parts[1]
	}
	return "***@" + parts[1]
}

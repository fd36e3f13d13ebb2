package llm

import "strings"

// placeholderKeys are values that configuration files use to mean "no key".
var placeholderKeys = map[string]bool{
	"":     true,
	"None": true,
	"NA":   true,
}

// ResolveAPIKey picks the API key for provider. An explicit key wins; after
// that the environment is consulted as API_KEY_<P>, <P>_API_KEY and
// <P>_API_TOKEN with P upper-cased. Placeholder values count as absent, and
// the empty string is returned when nothing usable was found.
func ResolveAPIKey(explicit, provider string, getenv func(string) string) string {
	if usableKey(explicit) {
		return explicit
	}
	if getenv == nil {
		return ""
	}
	p := strings.ToUpper(provider)
	for _, name := range []string{"API_KEY_" + p, p + "_API_KEY", p + "_API_TOKEN"} {
		if v := getenv(name); usableKey(v) {
			return v
		}
	}
	return ""
}

func usableKey(k string) bool {
	return !placeholderKeys[strings.TrimSpace(k)]
}

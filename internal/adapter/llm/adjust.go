package llm

import "net/http"

// Attribution identifies the application to providers that credit callers.
type Attribution struct {
	Referer string
	Title   string
}

// DefaultAttribution is sent when configuration leaves attribution empty.
var DefaultAttribution = Attribution{
	Referer: "https://agent-zero.ai/",
	Title:   "Agent Zero",
}

// adjustment is the provider-specific rewrite applied before dispatch.
// The set of variants is closed; adjustmentFor is the only constructor.
type adjustment int

const (
	adjustNone adjustment = iota
	// adjustAttribution adds HTTP-Referer and X-Title headers.
	adjustAttribution
	// adjustRemap dispatches with the openai protocol.
	adjustRemap
)

func adjustmentFor(provider string) adjustment {
	switch provider {
	case "openrouter":
		return adjustAttribution
	case "other":
		return adjustRemap
	default:
		return adjustNone
	}
}

func (a adjustment) String() string {
	switch a {
	case adjustAttribution:
		return "attribution"
	case adjustRemap:
		return "remap"
	default:
		return "none"
	}
}

// callArgs is what an adjustment rewrites.
type callArgs struct {
	Provider string
	Model    string
	Headers  map[string]string
}

func (a adjustment) apply(args callArgs, attr Attribution) callArgs {
	switch a {
	case adjustAttribution:
		if attr.Referer == "" && attr.Title == "" {
			attr = DefaultAttribution
		}
		headers := make(map[string]string, len(args.Headers)+2)
		for k, v := range args.Headers {
			headers[k] = v
		}
		headers["HTTP-Referer"] = attr.Referer
		headers["X-Title"] = attr.Title
		args.Headers = headers
	case adjustRemap:
		args.Provider = "openai"
	}
	return args
}

// headerTransport injects fixed headers into every request.
type headerTransport struct {
	base    http.RoundTripper
	headers map[string]string
}

func (t *headerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	// Clone the request to avoid mutating the original.
	clone := req.Clone(req.Context())
	for k, v := range t.headers {
		clone.Header.Set(k, v)
	}
	return t.base.RoundTrip(clone)
}

// withHeaders wraps client's transport when headers is non-empty.
func withHeaders(client *http.Client, headers map[string]string) *http.Client {
	if len(headers) == 0 {
		return client
	}
	base := client.Transport
	if base == nil {
		base = http.DefaultTransport
	}
	wrapped := *client
	wrapped.Transport = &headerTransport{base: base, headers: headers}
	return &wrapped
}

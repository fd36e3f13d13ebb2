package agent

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/kaptinlin/jsonschema"
	"github.com/tidwall/gjson"
)

// ToolRequest is the tool invocation a model response asks for.
type ToolRequest struct {
	Thoughts []string
	Name     string
	Args     json.RawMessage
}

var errNoToolRequest = errors.New("no tool request in response")

const envelopeSchema = `{
  "type": "object",
  "required": ["tool_name"],
  "properties": {
    "thoughts": {"type": ["array", "string"]},
    "tool_name": {"type": "string", "minLength": 1},
    "tool_args": {"type": "object"}
  }
}`

var envelope = mustCompileEnvelope()

func mustCompileEnvelope() *jsonschema.Schema {
	schema, err := jsonschema.NewCompiler().Compile([]byte(envelopeSchema))
	if err != nil {
		panic(fmt.Sprintf("agent: compile tool request schema: %v", err))
	}
	return schema
}

var fenceRe = regexp.MustCompile("(?s)```(?:json)?\\s*(.*?)\\s*```")

// ParseToolRequest extracts the tool request JSON object from a model
// response. The object may be wrapped in a code fence or surrounded by
// prose; the first well-formed object carrying a tool_name wins.
func ParseToolRequest(response string) (ToolRequest, error) {
	candidates := []string{response}
	for _, m := range fenceRe.FindAllStringSubmatch(response, -1) {
		candidates = append([]string{m[1]}, candidates...)
	}

	var lastErr error = errNoToolRequest
	for _, c := range candidates {
		obj, ok := extractObject(c)
		if !ok {
			continue
		}
		req, err := decodeToolRequest(obj)
		if err == nil {
			return req, nil
		}
		lastErr = err
	}
	return ToolRequest{}, lastErr
}

// extractObject returns the widest valid JSON object in s, starting from the
// first opening brace and shrinking from the right.
func extractObject(s string) (string, bool) {
	start := strings.IndexByte(s, '{')
	for start >= 0 {
		for end := strings.LastIndexByte(s, '}'); end > start; end = strings.LastIndexByte(s[:end], '}') {
			if obj := s[start : end+1]; gjson.Valid(obj) {
				return obj, true
			}
		}
		next := strings.IndexByte(s[start+1:], '{')
		if next < 0 {
			break
		}
		start += next + 1
	}
	return "", false
}

func decodeToolRequest(obj string) (ToolRequest, error) {
	var data any
	if err := json.Unmarshal([]byte(obj), &data); err != nil {
		return ToolRequest{}, err
	}
	if res := envelope.Validate(data); !res.IsValid() {
		return ToolRequest{}, fmt.Errorf("invalid tool request: %s", res.Error())
	}

	parsed := gjson.Parse(obj)
	req := ToolRequest{Name: parsed.Get("tool_name").String()}
	thoughts := parsed.Get("thoughts")
	if thoughts.IsArray() {
		for _, t := range thoughts.Array() {
			req.Thoughts = append(req.Thoughts, t.String())
		}
	} else if thoughts.Exists() {
		req.Thoughts = []string{thoughts.String()}
	}
	if args := parsed.Get("tool_args"); args.Exists() {
		req.Args = json.RawMessage(args.Raw)
	} else {
		req.Args = json.RawMessage("{}")
	}
	return req, nil
}

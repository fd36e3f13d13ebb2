// Package memory holds the pieces shared by the memory store backends:
// metadata filter expressions, a query cache and a disabled store.
package memory

import (
	"fmt"
	"sort"
	"strings"
	"unicode"

	"agent-zero/internal/domain"
)

// Condition is a single key == value test against document metadata.
type Condition struct {
	Key   string
	Value string
}

// Filter is a conjunction of conditions. The zero value matches everything.
type Filter struct {
	Conditions []Condition
}

// ParseFilter parses expressions of the form
//
//	area == 'solutions' and source == "user"
//
// Values are single- or double-quoted; backslash escapes the next character
// inside quotes. "and" is case-insensitive. An empty or blank expression
// yields the match-all filter.
func ParseFilter(expr string) (Filter, error) {
	p := &filterParser{src: expr}
	var f Filter
	p.skipSpace()
	if p.done() {
		return f, nil
	}
	for {
		key, err := p.ident()
		if err != nil {
			return Filter{}, p.fail(err)
		}
		p.skipSpace()
		if !p.consume("==") {
			return Filter{}, p.fail(fmt.Errorf("expected == after %q", key))
		}
		p.skipSpace()
		val, err := p.quoted()
		if err != nil {
			return Filter{}, p.fail(err)
		}
		f.Conditions = append(f.Conditions, Condition{Key: key, Value: val})

		p.skipSpace()
		if p.done() {
			return f, nil
		}
		if !p.keyword("and") {
			return Filter{}, p.fail(fmt.Errorf("expected 'and'"))
		}
		p.skipSpace()
	}
}

// MustParseFilter is ParseFilter for expressions known at compile time.
func MustParseFilter(expr string) Filter {
	f, err := ParseFilter(expr)
	if err != nil {
		panic(err)
	}
	return f
}

// Match reports whether every condition holds for meta.
func (f Filter) Match(meta map[string]string) bool {
	for _, c := range f.Conditions {
		v, ok := meta[c.Key]
		if !ok || v != c.Value {
			return false
		}
	}
	return true
}

// IsZero reports whether the filter matches everything.
func (f Filter) IsZero() bool { return len(f.Conditions) == 0 }

// Where returns the conditions as an equality map. ok is false when two
// conditions on the same key disagree, in which case nothing can match.
func (f Filter) Where() (where map[string]string, ok bool) {
	if f.IsZero() {
		return nil, true
	}
	where = make(map[string]string, len(f.Conditions))
	for _, c := range f.Conditions {
		if prev, seen := where[c.Key]; seen && prev != c.Value {
			return nil, false
		}
		where[c.Key] = c.Value
	}
	return where, true
}

// String renders the filter back to its expression form, keys sorted.
func (f Filter) String() string {
	conds := append([]Condition(nil), f.Conditions...)
	sort.SliceStable(conds, func(i, j int) bool { return conds[i].Key < conds[j].Key })
	parts := make([]string, len(conds))
	for i, c := range conds {
		v := strings.ReplaceAll(c.Value, `\`, `\\`)
		v = strings.ReplaceAll(v, `'`, `\'`)
		parts[i] = c.Key + " == '" + v + "'"
	}
	return strings.Join(parts, " and ")
}

type filterParser struct {
	src string
	pos int
}

func (p *filterParser) fail(err error) error {
	return fmt.Errorf("%w: %q at offset %d: %v", domain.ErrInvalidFilter, p.src, p.pos, err)
}

func (p *filterParser) done() bool { return p.pos >= len(p.src) }

func (p *filterParser) skipSpace() {
	for p.pos < len(p.src) && unicode.IsSpace(rune(p.src[p.pos])) {
		p.pos++
	}
}

func (p *filterParser) consume(tok string) bool {
	if strings.HasPrefix(p.src[p.pos:], tok) {
		p.pos += len(tok)
		return true
	}
	return false
}

func (p *filterParser) keyword(kw string) bool {
	end := p.pos + len(kw)
	if end > len(p.src) || !strings.EqualFold(p.src[p.pos:end], kw) {
		return false
	}
	if end < len(p.src) && !unicode.IsSpace(rune(p.src[end])) {
		return false
	}
	p.pos = end
	return true
}

func isIdentByte(b byte) bool {
	return b == '_' || b == '.' || b == '-' ||
		(b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z') || (b >= '0' && b <= '9')
}

func (p *filterParser) ident() (string, error) {
	start := p.pos
	for p.pos < len(p.src) && isIdentByte(p.src[p.pos]) {
		p.pos++
	}
	if p.pos == start {
		return "", fmt.Errorf("expected metadata key")
	}
	return p.src[start:p.pos], nil
}

func (p *filterParser) quoted() (string, error) {
	if p.done() {
		return "", fmt.Errorf("expected quoted value")
	}
	q := p.src[p.pos]
	if q != '\'' && q != '"' {
		return "", fmt.Errorf("expected quoted value")
	}
	p.pos++
	var sb strings.Builder
	for p.pos < len(p.src) {
		c := p.src[p.pos]
		switch {
		case c == '\\' && p.pos+1 < len(p.src):
			sb.WriteByte(p.src[p.pos+1])
			p.pos += 2
		case c == q:
			p.pos++
			return sb.String(), nil
		default:
			sb.WriteByte(c)
			p.pos++
		}
	}
	return "", fmt.Errorf("unterminated string")
}

// Package prompt loads and renders the markdown prompt templates agents are
// driven by. Templates use handlebars placeholders ({{name}}) and are looked
// up per agent profile with fallback to the built-in defaults.
package prompt

import (
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"

	"github.com/mbleigh/raymond"

	"agent-zero/internal/domain"
)

// DefaultProfile is the profile every lookup falls back to.
const DefaultProfile = "default"

//go:embed defaults/*.md
var defaults embed.FS

// Reader resolves <dir>/<profile>/<name>, then <dir>/default/<name>, then
// the embedded defaults. Parsed templates are cached by resolved path.
type Reader struct {
	dir    string
	fsys   fs.FS
	logger *slog.Logger

	mu    sync.RWMutex
	cache map[string]*raymond.Template
}

// NewReader creates a reader over dir. An empty dir uses only the embedded
// defaults.
func NewReader(dir string, logger *slog.Logger) *Reader {
	r := &Reader{dir: dir, logger: logger, cache: make(map[string]*raymond.Template)}
	if dir != "" {
		r.fsys = os.DirFS(dir)
	}
	return r
}

// ReadPrompt implements domain.PromptReader. Variables are inserted
// verbatim, without HTML escaping.
func (r *Reader) ReadPrompt(profile, name string, vars map[string]any) (string, error) {
	if !validName(name) {
		return "", fmt.Errorf("%w: %q", domain.ErrPromptNotFound, name)
	}
	tpl, err := r.template(profile, name)
	if err != nil {
		return "", err
	}

	ctx := make(map[string]any, len(vars))
	for k, v := range vars {
		ctx[k] = safe(v)
	}
	out, err := tpl.Exec(ctx)
	if err != nil {
		return "", domain.NewDomainError("prompt.Render", err, name)
	}
	return strings.TrimSpace(out), nil
}

func (r *Reader) template(profile, name string) (*raymond.Template, error) {
	src, key, err := r.source(profile, name)
	if err != nil {
		return nil, err
	}

	r.mu.RLock()
	tpl, ok := r.cache[key]
	r.mu.RUnlock()
	if ok {
		return tpl, nil
	}

	tpl, err = raymond.Parse(src)
	if err != nil {
		return nil, domain.NewDomainError("prompt.Parse", err, key)
	}
	r.mu.Lock()
	r.cache[key] = tpl
	r.mu.Unlock()
	return tpl, nil
}

// source returns the template text and a key identifying where it came from.
func (r *Reader) source(profile, name string) (string, string, error) {
	if r.fsys != nil {
		candidates := []string{path.Join(DefaultProfile, name)}
		if profile != "" && profile != DefaultProfile && validName(profile) {
			candidates = append([]string{path.Join(profile, name)}, candidates...)
		}
		for _, p := range candidates {
			data, err := fs.ReadFile(r.fsys, p)
			if err == nil {
				return string(data), filepath.Join(r.dir, p), nil
			}
			if !errors.Is(err, fs.ErrNotExist) {
				r.logger.Warn("prompt read failed", "path", p, "error", err)
			}
		}
	}

	data, err := defaults.ReadFile(path.Join("defaults", name))
	if err != nil {
		return "", "", fmt.Errorf("%w: %s", domain.ErrPromptNotFound, name)
	}
	return string(data), "embedded:" + name, nil
}

// validName rejects names that could escape the prompts directory.
func validName(name string) bool {
	return name != "" && fs.ValidPath(name) && !strings.Contains(name, "/")
}

func safe(v any) any {
	switch x := v.(type) {
	case string:
		return raymond.SafeString(x)
	case fmt.Stringer:
		return raymond.SafeString(x.String())
	default:
		return v
	}
}

var _ domain.PromptReader = (*Reader)(nil)

package embedding

import (
	"bufio"
	"context"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"unicode"

	"agent-zero/internal/domain"
)

// SentenceTransformersPrefix marks huggingface models served in-process.
const SentenceTransformersPrefix = "sentence-transformers/"

// localVectorsFile is read when the model path is a directory.
const localVectorsFile = "vectors.txt"

// LocalEmbedder embeds text in-process from a static word-vector table.
// A text's vector is the mean of its known tokens' vectors, L2 normalized.
// Texts with no known token embed to the zero vector.
type LocalEmbedder struct {
	name    string
	dims    int
	vectors map[string][]float32
}

// NewLocalEmbedder loads <modelsDir>/<model> once. model may carry the
// sentence-transformers/ prefix, which is stripped. The file holds one
// token per line followed by its components separated by spaces; an
// optional "count dims" header line is skipped. A directory is read
// through its vectors.txt.
func NewLocalEmbedder(modelsDir, model string) (*LocalEmbedder, error) {
	name := strings.TrimPrefix(model, SentenceTransformersPrefix)
	if name == "" {
		return nil, fmt.Errorf("%w: empty model name", domain.ErrModelLoad)
	}
	path := filepath.Join(modelsDir, name)
	if info, err := os.Stat(path); err == nil && info.IsDir() {
		path = filepath.Join(path, localVectorsFile)
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrModelLoad, err)
	}
	defer f.Close()

	e := &LocalEmbedder{name: name, vectors: make(map[string][]float32)}
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	line := 0
	for sc.Scan() {
		line++
		fields := strings.Fields(sc.Text())
		if len(fields) == 0 {
			continue
		}
		if line == 1 && len(fields) == 2 {
			if _, err := strconv.Atoi(fields[0]); err == nil {
				continue
			}
		}
		if len(fields) < 2 {
			return nil, fmt.Errorf("%w: %s:%d: no components", domain.ErrModelLoad, path, line)
		}
		vec := make([]float32, len(fields)-1)
		for i, s := range fields[1:] {
			v, err := strconv.ParseFloat(s, 32)
			if err != nil {
				return nil, fmt.Errorf("%w: %s:%d: %v", domain.ErrModelLoad, path, line, err)
			}
			vec[i] = float32(v)
		}
		if e.dims == 0 {
			e.dims = len(vec)
		} else if len(vec) != e.dims {
			return nil, fmt.Errorf("%w: %s:%d: got %d components, want %d", domain.ErrModelLoad, path, line, len(vec), e.dims)
		}
		e.vectors[strings.ToLower(fields[0])] = vec
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrModelLoad, err)
	}
	if e.dims == 0 {
		return nil, fmt.Errorf("%w: %s: no vectors", domain.ErrModelLoad, path)
	}
	return e, nil
}

// Tokenize splits text into lower-cased runs of letters and digits.
func Tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

func (e *LocalEmbedder) embed(text string) []float32 {
	out := make([]float32, e.dims)
	n := 0
	for _, tok := range Tokenize(text) {
		vec, ok := e.vectors[tok]
		if !ok {
			continue
		}
		for i, v := range vec {
			out[i] += v
		}
		n++
	}
	if n == 0 {
		return out
	}
	var norm float64
	for i := range out {
		out[i] /= float32(n)
		norm += float64(out[i]) * float64(out[i])
	}
	if norm == 0 {
		return out
	}
	inv := float32(1 / math.Sqrt(norm))
	for i := range out {
		out[i] *= inv
	}
	return out
}

// EmbedDocuments implements domain.EmbeddingModel.
func (e *LocalEmbedder) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		out[i] = e.embed(t)
	}
	return out, nil
}

// EmbedQuery implements domain.EmbeddingModel.
func (e *LocalEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return e.embed(text), nil
}

// Dimensions implements domain.EmbeddingModel.
func (e *LocalEmbedder) Dimensions() int { return e.dims }

// Name implements domain.EmbeddingModel.
func (e *LocalEmbedder) Name() string { return "local" }

// Model returns the model name with the prefix stripped.
func (e *LocalEmbedder) Model() string { return e.name }

// Vocabulary returns the number of known tokens.
func (e *LocalEmbedder) Vocabulary() int { return len(e.vectors) }

var _ domain.EmbeddingModel = (*LocalEmbedder)(nil)

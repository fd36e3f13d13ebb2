package vector

import (
	"encoding/binary"
	"encoding/json"
	"log/slog"
	"math"
	"time"

	"agent-zero/internal/domain"
)

// cosineSimilarity computes dot(a,b) / (||a|| * ||b||).
// Returns 0 for zero-length vectors, length mismatch, or NaN/Inf results.
func cosineSimilarity(a, b []float32) float32 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}

	var dot, normA, normB float32
	for i := range a {
		dot += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}

	denom := float32(math.Sqrt(float64(normA))) * float32(math.Sqrt(float64(normB)))
	if denom == 0 {
		return 0
	}
	result := dot / denom
	if math.IsNaN(float64(result)) || math.IsInf(float64(result), 0) {
		return 0
	}
	return result
}

// float32ToBytes converts a float32 slice to little-endian bytes.
func float32ToBytes(v []float32) []byte {
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

// bytesToFloat32 converts little-endian bytes back to a float32 slice.
func bytesToFloat32(b []byte) []float32 {
	if len(b) == 0 || len(b)%4 != 0 {
		return nil
	}
	v := make([]float32, len(b)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return v
}

// unmarshalDocFields decodes the JSON and time columns. Parse errors are
// logged but not returned since they indicate data corruption, not a
// retrieval failure.
func unmarshalDocFields(logger *slog.Logger, doc *domain.Document, metaJSON, createdAt string) {
	if err := json.Unmarshal([]byte(metaJSON), &doc.Metadata); err != nil {
		logger.Warn("vector store: corrupt metadata JSON", "id", doc.ID, "error", err)
	}
	var parseErr error
	if doc.CreatedAt, parseErr = time.Parse(time.RFC3339Nano, createdAt); parseErr != nil {
		logger.Warn("vector store: corrupt created_at", "id", doc.ID, "error", parseErr)
	}
}

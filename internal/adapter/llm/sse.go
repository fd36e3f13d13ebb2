package llm

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"

	"github.com/tidwall/gjson"

	"agent-zero/internal/domain"
)

// maxSSELine bounds a single data line; reasoning models can emit long frames.
const maxSSELine = 1024 * 1024

// parseSSEStream reads SSE-formatted lines from body and converts each data
// payload into a StreamChunk through ParseChunk. Frames without text are
// dropped. The returned channel is closed when the stream ends, the body is
// closed, or ctx is cancelled; a read failure or an in-band error object is
// delivered as a final chunk with Err set.
func parseSSEStream(ctx context.Context, body io.ReadCloser) <-chan domain.StreamChunk {
	ch := make(chan domain.StreamChunk, 16)
	go func() {
		defer close(ch)
		defer body.Close()

		send := func(c domain.StreamChunk) bool {
			select {
			case ch <- c:
				return true
			case <-ctx.Done():
				return false
			}
		}

		scanner := bufio.NewScanner(body)
		scanner.Buffer(make([]byte, 0, 64*1024), maxSSELine)
		for scanner.Scan() {
			if ctx.Err() != nil {
				return
			}

			line := scanner.Bytes()

			// Skip empty lines and comments.
			if len(line) == 0 || line[0] == ':' {
				continue
			}
			if !bytes.HasPrefix(line, []byte("data:")) {
				continue
			}
			data := bytes.TrimSpace(bytes.TrimPrefix(line, []byte("data:")))

			if bytes.Equal(data, []byte("[DONE]")) {
				return
			}

			if e := gjson.GetBytes(data, "error"); e.Exists() {
				msg := e.Get("message").String()
				if msg == "" {
					msg = e.Raw
				}
				send(domain.StreamChunk{Err: fmt.Errorf("%w: %s", domain.ErrProviderCall, msg)})
				return
			}

			chunk := ParseChunk(data)
			if chunk.Empty() {
				continue
			}
			if !send(chunk) {
				return
			}
		}
		if err := scanner.Err(); err != nil {
			send(domain.StreamChunk{Err: fmt.Errorf("%w: read stream: %w", domain.ErrProviderCall, err)})
		}
	}()
	return ch
}

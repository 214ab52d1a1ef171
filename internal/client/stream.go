package client

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/okian/rollcall/internal/domain/model"
)

const streamEvent = "registrations"

// Follow subscribes to the caller's registration stream. Each value on the
// returned channel is a full snapshot. The channel closes when ctx is done
// or the server ends the stream.
func (c *Client) Follow(ctx context.Context) (<-chan []model.Registration, error) {
	req, err := c.newRequest(ctx, http.MethodGet, "/v1/me/registrations/stream", nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.stream.Do(req)
	if err != nil {
		return nil, fmt.Errorf("open stream: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		body, _ := io.ReadAll(resp.Body)
		return nil, decodeError(resp.StatusCode, body)
	}

	out := make(chan []model.Registration)
	go func() {
		defer close(out)
		defer resp.Body.Close()
		readEvents(ctx, resp.Body, out)
	}()
	return out, nil
}

// readEvents parses server-sent events from r. Comment lines are
// heartbeats and are skipped.
func readEvents(ctx context.Context, r io.Reader, out chan<- []model.Registration) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	var name string
	var data strings.Builder
	for sc.Scan() {
		line := sc.Text()
		switch {
		case line == "":
			if name == streamEvent && data.Len() > 0 {
				var regs []model.Registration
				if err := json.Unmarshal([]byte(data.String()), &regs); err == nil {
					select {
					case out <- regs:
					case <-ctx.Done():
						return
					}
				}
			}
			name = ""
			data.Reset()
		case strings.HasPrefix(line, ":"):
		case strings.HasPrefix(line, "event:"):
			name = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			if data.Len() > 0 {
				data.WriteByte('\n')
			}
			data.WriteString(strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))
		}
	}
}

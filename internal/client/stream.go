package client

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/gorilla/websocket"
)

// maxFrameSize bounds one SSE line. Tool output can be large.
const maxFrameSize = 4 << 20

// StreamSSE follows GET /runs/:run_id/events and calls handler for every
// event until the server ends the stream.
func (c *Client) StreamSSE(ctx context.Context, runID string, handler EventHandler) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/runs/"+runID+"/events", nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to open stream: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return readAPIError(resp)
	}
	if err := parseSSE(resp.Body, handler); err != nil && !errors.Is(err, ErrStop) {
		return err
	}
	return nil
}

// parseSSE calls handler with the data of each event. Comment lines and
// fields other than data are ignored.
func parseSSE(reader io.Reader, handler EventHandler) error {
	scanner := bufio.NewScanner(reader)
	scanner.Buffer(make([]byte, 0, 64*1024), maxFrameSize)

	var data []string
	dispatch := func() error {
		if len(data) == 0 {
			return nil
		}
		ev := json.RawMessage(strings.Join(data, "\n"))
		data = data[:0]
		return handler(ev)
	}

	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			if err := dispatch(); err != nil {
				return err
			}
			continue
		}
		if strings.HasPrefix(line, ":") {
			continue
		}
		if v, ok := strings.CutPrefix(line, "data:"); ok {
			data = append(data, strings.TrimPrefix(v, " "))
		}
	}
	if err := dispatch(); err != nil {
		return err
	}
	return scanner.Err()
}

// StreamWS follows GET /runs/:run_id/ws and calls handler for every event
// until the server closes the connection.
func (c *Client) StreamWS(ctx context.Context, runID string, handler EventHandler) error {
	url := "ws" + strings.TrimPrefix(c.baseURL, "http") + "/runs/" + runID + "/ws"
	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		if resp != nil {
			defer resp.Body.Close()
			return readAPIError(resp)
		}
		return fmt.Errorf("dial: %w", err)
	}
	defer conn.Close()

	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				return nil
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("read: %w", err)
		}
		if err := handler(data); err != nil {
			_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			if errors.Is(err, ErrStop) {
				return nil
			}
			return err
		}
	}
}

// ErrStop may be returned by a handler to end a stream early without error.
var ErrStop = errors.New("stop streaming")

// Package stream consumes a websocket feed of swap events. One connection
// lifetime is one pass: the scanner's poll loop provides the reconnect
// cadence, so the source dials, optionally subscribes, and reads until the
// connection or the context ends. Positions never advance; replayed events
// after a reconnect are absorbed by the dedup layer.
package stream

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/gorilla/websocket"

	"affwatch/internal/core/domain"
	"affwatch/internal/source"
)

const (
	handshakeTimeout = 10 * time.Second
	writeTimeout     = 10 * time.Second

	// readTimeout bounds a silent connection. A feed that goes quiet for
	// this long ends the pass and the scanner reconnects.
	readTimeout = 60 * time.Second
)

// Source consumes a websocket event feed.
type Source struct {
	name      string
	protocol  domain.Protocol
	url       string
	subscribe string
	logger    *slog.Logger
}

// New creates a websocket stream source.
func New(protocol domain.Protocol, opts source.Options, logger *slog.Logger) *Source {
	if logger == nil {
		logger = slog.Default()
	}
	return &Source{
		name:      opts.Name,
		protocol:  protocol,
		url:       opts.URL,
		subscribe: opts.Subscribe,
		logger:    logger,
	}
}

func (s *Source) Name() string { return s.name }

func (s *Source) Protocol() domain.Protocol { return s.protocol }

// Poll dials the feed and emits one candidate item per message until the
// server closes, the read deadline passes, or ctx ends.
func (s *Source) Poll(ctx context.Context, position string, emit source.EmitFunc) (string, error) {
	dialer := websocket.Dialer{HandshakeTimeout: handshakeTimeout}
	conn, _, err := dialer.DialContext(ctx, s.url, nil)
	if err != nil {
		return position, fmt.Errorf("websocket dial: %w", err)
	}
	defer conn.Close()

	// ReadMessage does not watch ctx; closing the connection unblocks it.
	watchDone := make(chan struct{})
	defer close(watchDone)
	go func() {
		select {
		case <-ctx.Done():
			conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			conn.Close()
		case <-watchDone:
		}
	}()

	if s.subscribe != "" {
		conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		if err := conn.WriteMessage(websocket.TextMessage, []byte(s.subscribe)); err != nil {
			return position, fmt.Errorf("write subscribe: %w", err)
		}
	}

	for {
		conn.SetReadDeadline(time.Now().Add(readTimeout))
		_, message, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return position, ctx.Err()
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return position, nil
			}
			return position, err
		}
		if err := emit(ctx, s.candidate(message)); err != nil {
			return position, err
		}
	}
}

// candidate turns one message into a candidate item. JSON payloads have
// their fields lifted so the extractor can probe them; anything else rides
// along as free text.
func (s *Source) candidate(message []byte) domain.CandidateItem {
	fields := make(map[string]any)

	dec := json.NewDecoder(bytes.NewReader(message))
	dec.UseNumber()
	var payload map[string]any
	if err := dec.Decode(&payload); err == nil {
		liftFields(fields, payload, 1)
	}

	var raw json.RawMessage
	if json.Valid(message) {
		raw = json.RawMessage(message)
	} else if quoted, err := json.Marshal(string(message)); err == nil {
		raw = quoted
	}

	return domain.CandidateItem{
		Protocol:   s.protocol,
		Source:     s.name,
		Fields:     fields,
		Text:       string(message),
		Raw:        raw,
		CapturedAt: time.Now().UTC(),
	}
}

// liftFields copies scalar and list values into dst, then descends into
// object values depth levels deep. Outer keys win over nested ones, so an
// envelope like {"id": ..., "data": {"id": ...}} keeps the outer id.
func liftFields(dst map[string]any, src map[string]any, depth int) {
	var nested []map[string]any
	for k, v := range src {
		switch val := v.(type) {
		case string, json.Number:
			if _, ok := dst[k]; !ok {
				dst[k] = val
			}
		case []any:
			if _, ok := dst[k]; !ok {
				dst[k] = val
			}
		case map[string]any:
			nested = append(nested, val)
		}
	}
	if depth <= 0 {
		return
	}
	for _, m := range nested {
		liftFields(dst, m, depth-1)
	}
}

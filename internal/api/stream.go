package api

import (
	"context"
	"net/http"
	"strconv"
	"time"
)

import (
	"github.com/gorilla/websocket"
)

import (
	"github.com/nanjiek/pixiu-yes/internal/circular"
)

const (
	streamWriteDeadline = 10 * time.Second
	maxStreamChunk      = 1 << 20
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 32 << 10,
}

// streamHandler pushes the stream as binary frames until the client closes
// the connection or the server shuts down. Each frame is one device read.
func (s *Server) streamHandler(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	offset, err := parseUint(q.Get("offset"), 0)
	if err != nil {
		s.errResp(w, r, http.StatusBadRequest, "invalid offset: "+err.Error())
		return
	}
	chunk := s.cfg.StreamChunkBytes
	if v := q.Get("chunk"); v != "" {
		chunk, err = strconv.Atoi(v)
		if err != nil || chunk <= 0 || chunk > maxStreamChunk {
			s.errResp(w, r, http.StatusBadRequest, "invalid chunk")
			return
		}
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("websocket upgrade error", "request_id", requestID(r), "error", err)
		return
	}
	defer conn.Close()

	s.metrics.StreamOpened()
	defer s.metrics.StreamClosed()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	// Reader: only control frames are expected; any error means the peer is gone.
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.NextReader(); err != nil {
				return
			}
		}
	}()

	buf := make([]byte, chunk)
	pos := offset
	for {
		select {
		case <-ctx.Done():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, ""),
				time.Now().Add(time.Second))
			return
		default:
		}

		n, err := s.dev.Read(circular.Slice(buf), len(buf), pos)
		if err != nil {
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseInternalServerErr, err.Error()),
				time.Now().Add(time.Second))
			return
		}
		_ = conn.SetWriteDeadline(time.Now().Add(streamWriteDeadline))
		if err := conn.WriteMessage(websocket.BinaryMessage, buf[:n]); err != nil {
			s.log.Debug("stream closed", "request_id", requestID(r), "error", err)
			return
		}
		s.metrics.Read(n)
		pos += uint64(n)
	}
}

package api

import (
	"context"
	"log"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const streamWriteWait = 10 * time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
}

// HandleStream handles GET /api/v1/optimize/stream. The client sends one
// SolveRequest, then receives progress messages and a final result or
// error. Sending {"type":"cancel"} or closing the socket stops the solve.
func (h *Handlers) HandleStream(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the HTTP error.
		return
	}
	defer conn.Close()
	conn.SetReadLimit(maxBodyBytes)

	id := uuid.NewString()
	send := func(msg StreamMessage) error {
		msg.ID = id
		conn.SetWriteDeadline(time.Now().Add(streamWriteWait))
		return conn.WriteJSON(msg)
	}

	var body SolveRequest
	if err := conn.ReadJSON(&body); err != nil {
		send(StreamMessage{Type: "error", Error: &ErrorResponse{Error: "invalid_request"}})
		return
	}
	req, field, err := h.toRequest(&body)
	if err != nil {
		send(StreamMessage{Type: "error", Error: &ErrorResponse{Error: "invalid_request", Field: field, Detail: err.Error()}})
		return
	}
	req.Optimize = true

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	// Reader: any cancel command or read error ends the solve.
	go func() {
		defer cancel()
		for {
			var msg ClientMessage
			if err := conn.ReadJSON(&msg); err != nil {
				return
			}
			if msg.Type == "cancel" {
				log.Printf("Stream %s cancelled by client", id)
				return
			}
		}
	}()

	progress := func(iter int, loss float64, xyz []float64) bool {
		msg := StreamMessage{Type: "progress", Iteration: iter, Loss: loss}
		if body.IncludeXYZ {
			msg.XYZ = xyz
		}
		if err := send(msg); err != nil {
			cancel()
			return false
		}
		return ctx.Err() == nil
	}

	res, err := h.solver.Solve(ctx, req, progress)
	if err != nil {
		_, resp := classify(err)
		send(StreamMessage{Type: "error", Error: &resp})
		return
	}
	out := toResponse(id, res)
	send(StreamMessage{Type: "result", Result: &out})
	conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
}

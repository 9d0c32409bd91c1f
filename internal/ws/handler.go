package ws

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/coder/websocket"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/DoyleJ11/planning-poker/internal/hub"
	"github.com/DoyleJ11/planning-poker/internal/room"
	"github.com/DoyleJ11/planning-poker/internal/types"
)

type Options struct {
	OriginPatterns []string
	Logger         *zap.Logger
}

// socket adapts a websocket connection to fanout.Conn.
type socket struct {
	id   string
	conn *websocket.Conn
}

func (s *socket) ID() string { return s.id }

// Send closes the connection when a write fails. The room stops sending to a
// socket after one failed write, so the client has to reconnect and fetch a
// new baseline.
func (s *socket) Send(ctx context.Context, payload []byte) error {
	if err := s.conn.Write(ctx, websocket.MessageText, payload); err != nil {
		_ = s.conn.CloseNow()
		return err
	}
	return nil
}

func (s *socket) sendMessage(ctx context.Context, msg types.ServerMessage) {
	payload, err := json.Marshal(msg)
	if err != nil {
		return
	}
	_ = s.Send(ctx, payload)
}

// Handler upgrades GET /rooms/{roomID}/ws. The client first receives the
// room's current snapshot and then every snapshot broadcast after it. Text
// frames from the client are applied to the room as events.
func Handler(h *hub.Hub, opts Options) http.HandlerFunc {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return func(w http.ResponseWriter, r *http.Request) {
		roomID := chi.URLParam(r, "roomID")
		if roomID == "" {
			http.Error(w, "missing room id", http.StatusBadRequest)
			return
		}

		c, err := h.Existing(r.Context(), roomID)
		if errors.Is(err, room.ErrNotFound) {
			http.Error(w, "room not found", http.StatusNotFound)
			return
		}
		if err != nil {
			http.Error(w, "room unavailable", http.StatusServiceUnavailable)
			return
		}
		_, found, err := c.Snapshot(r.Context())
		if err != nil {
			http.Error(w, "room unavailable", http.StatusServiceUnavailable)
			return
		}
		if !found {
			http.Error(w, "room not found", http.StatusNotFound)
			return
		}

		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
			OriginPatterns: opts.OriginPatterns,
		})
		if err != nil {
			// Accept has already written the failure response.
			return
		}
		defer conn.Close(websocket.StatusNormalClosure, "bye")

		s := &socket{id: uuid.NewString(), conn: conn}
		log := logger.With(zap.String("room", roomID), zap.String("conn", s.id))

		if err := c.Connect(r.Context(), s); err != nil {
			log.Warn("connect to room", zap.Error(err))
			conn.Close(websocket.StatusInternalError, "room unavailable")
			return
		}
		defer c.Disconnect(s)
		log.Debug("websocket connected")

		ctx := r.Context()
		for {
			typ, data, err := conn.Read(ctx)
			if err != nil {
				switch websocket.CloseStatus(err) {
				case websocket.StatusNormalClosure, websocket.StatusGoingAway:
					log.Debug("websocket closed")
				default:
					log.Debug("websocket read failed", zap.Error(err))
				}
				return
			}
			if typ != websocket.MessageText {
				s.sendMessage(ctx, types.ServerMessage{Type: "error", Error: "expected a text frame"})
				continue
			}

			ev, err := types.DecodeClientMessage(data, roomID)
			if err != nil {
				s.sendMessage(ctx, types.ServerMessage{Type: "error", Error: err.Error()})
				continue
			}

			res, err := c.ApplyEvent(ctx, ev)
			switch {
			case errors.Is(err, room.ErrClosed), errors.Is(err, room.ErrNotFound):
				conn.Close(websocket.StatusGoingAway, "room closed")
				return
			case err != nil:
				s.sendMessage(ctx, types.ServerMessage{Type: "error", Error: err.Error()})
			case res.Warning != nil:
				s.sendMessage(ctx, types.ServerMessage{Type: "warning", Warning: res.Warning.Error()})
			}
		}
	}
}

package httpapi

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"errors"
	"io"
	"math/big"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/DoyleJ11/planning-poker/internal/engine"
	"github.com/DoyleJ11/planning-poker/internal/hub"
	"github.com/DoyleJ11/planning-poker/internal/membership"
	"github.com/DoyleJ11/planning-poker/internal/room"
	"github.com/DoyleJ11/planning-poker/internal/types"
)

const (
	maxBodyBytes    = 64 << 10
	maxCodeAttempts = 10
)

var errNoFreeCode = errors.New("no free room code")

type Deps struct {
	Hub            *hub.Hub
	Members        membership.Repository
	CodeLength     int
	OriginPatterns []string
	Logger         *zap.Logger
}

func GenerateCode(length int) (string, error) {
	const charset = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

	code := make([]byte, length)
	for i := 0; i < length; i++ {
		num, err := rand.Int(rand.Reader, big.NewInt(int64(len(charset))))
		if err != nil {
			return "", err
		}
		code[i] = charset[num.Int64()]
	}
	return string(code), nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, types.ServerMessage{Type: "error", Error: msg})
}

// writeFailure maps coordinator and repository errors to HTTP statuses.
func writeFailure(w http.ResponseWriter, logger *zap.Logger, err error) {
	switch {
	case errors.Is(err, room.ErrNotFound), errors.Is(err, membership.ErrRoomNotFound):
		writeError(w, http.StatusNotFound, "room not found")
	case errors.Is(err, types.ErrInvalidEvent), errors.Is(err, engine.ErrMalformedEvent):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, room.ErrStorage), errors.Is(err, room.ErrClosed), errors.Is(err, hub.ErrClosed):
		logger.Error("room unavailable", zap.Error(err))
		writeError(w, http.StatusServiceUnavailable, "room unavailable")
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		writeError(w, http.StatusGatewayTimeout, "request timed out")
	default:
		logger.Error("request failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func decodeMember(w http.ResponseWriter, r *http.Request) (types.MemberRequest, error) {
	var req types.MemberRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		return req, errors.Join(types.ErrInvalidEvent, err)
	}
	return req, req.Validate()
}

func warningText(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

// freeCode picks a code with neither a snapshot nor a membership record.
func freeCode(ctx context.Context, d Deps) (string, *room.Coordinator, error) {
	for i := 0; i < maxCodeAttempts; i++ {
		code, err := GenerateCode(d.CodeLength)
		if err != nil {
			return "", nil, err
		}
		exists, err := d.Members.RoomExists(ctx, code)
		if err != nil {
			return "", nil, err
		}
		if !exists {
			_, err = d.Hub.Existing(ctx, code)
			if errors.Is(err, room.ErrNotFound) {
				c, err := d.Hub.Room(ctx, code)
				return code, c, err
			}
			if err != nil {
				return "", nil, err
			}
		}
		d.Logger.Info("collision on room code, regenerating", zap.String("code", code))
	}
	return "", nil, errNoFreeCode
}

func CreateRoom(d Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		req, err := decodeMember(w, r)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}

		code, c, err := freeCode(r.Context(), d)
		if err != nil {
			writeFailure(w, d.Logger, err)
			return
		}
		if err := d.Members.CreateRoom(r.Context(), code, req.UserID); err != nil {
			writeFailure(w, d.Logger, err)
			return
		}
		res, err := c.CreateRoom(r.Context(), engine.Player{ID: req.UserID, Name: req.UserName})
		if err != nil {
			writeFailure(w, d.Logger, err)
			return
		}

		writeJSON(w, http.StatusCreated, types.RoomResponse{
			RoomID:   code,
			Snapshot: res.Snapshot,
			Warning:  warningText(res.Warning),
		})
	}
}

func writeResult(w http.ResponseWriter, res room.Result) {
	writeJSON(w, http.StatusOK, types.EventResponse{
		Snapshot: res.Snapshot,
		Changed:  res.Changed,
		Warning:  warningText(res.Warning),
	})
}

// JoinRoom joins the player to the round and records the membership once
// the join has been accepted.
func JoinRoom(d Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		roomID := chi.URLParam(r, "roomID")
		req, err := decodeMember(w, r)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}

		c, err := d.Hub.Existing(r.Context(), roomID)
		if err != nil {
			writeFailure(w, d.Logger, err)
			return
		}
		res, err := c.ApplyEvent(r.Context(), engine.Event{
			Type:     engine.EvtPlayerJoin,
			PlayerID: req.UserID,
			Name:     req.UserName,
		})
		if err != nil {
			writeFailure(w, d.Logger, err)
			return
		}
		// A rejected join leaves the user out of the room's member list.
		if res.Warning == nil {
			if err := d.Members.AddMember(r.Context(), roomID, req.UserID); err != nil {
				writeFailure(w, d.Logger, err)
				return
			}
		}
		writeResult(w, res)
	}
}

func PostEvent(d Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		roomID := chi.URLParam(r, "roomID")
		body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
		if err != nil {
			writeError(w, http.StatusBadRequest, "could not read body")
			return
		}
		ev, err := types.DecodeClientMessage(body, roomID)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}

		c, err := d.Hub.Existing(r.Context(), roomID)
		if err != nil {
			writeFailure(w, d.Logger, err)
			return
		}
		res, err := c.ApplyEvent(r.Context(), ev)
		if err != nil {
			writeFailure(w, d.Logger, err)
			return
		}
		writeResult(w, res)
	}
}

func loadSnapshot(w http.ResponseWriter, r *http.Request, d Deps) (engine.Snapshot, bool) {
	c, err := d.Hub.Existing(r.Context(), chi.URLParam(r, "roomID"))
	if err != nil {
		writeFailure(w, d.Logger, err)
		return engine.Snapshot{}, false
	}
	s, found, err := c.Snapshot(r.Context())
	if err != nil {
		writeFailure(w, d.Logger, err)
		return engine.Snapshot{}, false
	}
	if !found {
		writeError(w, http.StatusNotFound, "room not found")
		return engine.Snapshot{}, false
	}
	return s, true
}

func GetRoom(d Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s, ok := loadSnapshot(w, r, d); ok {
			writeJSON(w, http.StatusOK, s)
		}
	}
}

func Summary(d Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s, ok := loadSnapshot(w, r, d)
		if !ok {
			return
		}
		sum, err := engine.Summarize(s)
		if err != nil {
			writeError(w, http.StatusConflict, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, sum)
	}
}

// DeleteRoom drops the snapshot, archives the room and stops its coordinator.
func DeleteRoom(d Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		roomID := chi.URLParam(r, "roomID")
		c, err := d.Hub.Existing(r.Context(), roomID)
		if err != nil {
			writeFailure(w, d.Logger, err)
			return
		}
		if err := c.DeleteRoom(r.Context()); err != nil {
			writeFailure(w, d.Logger, err)
			return
		}
		if err := d.Members.ArchiveRoom(r.Context(), roomID); err != nil && !errors.Is(err, membership.ErrRoomNotFound) {
			writeFailure(w, d.Logger, err)
			return
		}
		if err := d.Hub.Remove(r.Context(), roomID); err != nil {
			writeFailure(w, d.Logger, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func ListUserRooms(d Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rooms, err := d.Members.ListUserRooms(r.Context(), chi.URLParam(r, "userID"))
		if err != nil {
			writeFailure(w, d.Logger, err)
			return
		}
		writeJSON(w, http.StatusOK, rooms)
	}
}

func ListOptions(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, engine.Options)
}

func Healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}

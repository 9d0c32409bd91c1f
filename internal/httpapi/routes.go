package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/DoyleJ11/planning-poker/internal/ws"
)

func SetupRoutes(d Deps) http.Handler {
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	if d.CodeLength <= 0 {
		d.CodeLength = 5
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(RequestLogger(d.Logger.Named("http")))
	r.Use(middleware.Recoverer)

	// Public routes
	r.Get("/healthz", Healthz)
	r.Get("/options", ListOptions)
	r.Post("/rooms", CreateRoom(d))
	r.Route("/rooms/{roomID}", func(r chi.Router) {
		r.Get("/", GetRoom(d))
		r.Delete("/", DeleteRoom(d))
		r.Post("/join", JoinRoom(d))
		r.Post("/events", PostEvent(d))
		r.Get("/summary", Summary(d))
		r.Get("/ws", ws.Handler(d.Hub, ws.Options{
			OriginPatterns: d.OriginPatterns,
			Logger:         d.Logger.Named("ws"),
		}))
	})
	r.Get("/users/{userID}/rooms", ListUserRooms(d))
	return r
}

// RequestLogger writes one access log line per request.
func RequestLogger(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			defer func() {
				logger.Info("request",
					zap.String("method", r.Method),
					zap.String("path", r.URL.Path),
					zap.Int("status", ww.Status()),
					zap.Int("bytes", ww.BytesWritten()),
					zap.Duration("duration", time.Since(start)),
					zap.String("request_id", middleware.GetReqID(r.Context())),
				)
			}()
			next.ServeHTTP(ww, r)
		})
	}
}

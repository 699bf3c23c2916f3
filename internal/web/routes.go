package web

import (
	"context"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/kozaktomas/face-attendance/internal/attendance"
	"github.com/kozaktomas/face-attendance/internal/web/handlers"
	"github.com/kozaktomas/face-attendance/internal/web/middleware"
	"github.com/kozaktomas/face-attendance/internal/web/static"
)

func (s *Server) setupRoutes() {
	storage := s.deps.Storage
	if storage == nil {
		storage = handlers.PingFunc(func(context.Context) error { return nil })
	}
	healthHandler := handlers.NewHealthHandler(s.deps.Driver, storage, s.deps.Detector)
	attendanceHandler := handlers.NewAttendanceHandler(s.deps.Ledger, s.logger)
	profilesHandler := handlers.NewProfilesHandler(s.deps.Gallery, s.logger)
	kioskHandler := handlers.NewKioskHandler(s.deps.Kiosk, s.logger)
	syncHandler := handlers.NewSyncHandler(s.deps.Ledger, s.deps.Gallery, s.logger)

	s.router.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", healthHandler.Check)

		// Ledger
		r.Get("/attendance/today", attendanceHandler.Today)
		r.Get("/attendance/{identity}", attendanceHandler.Status)
		r.Post("/attendance/{identity}/check-in", attendanceHandler.Action(attendance.ActionCheckIn))
		r.Post("/attendance/{identity}/break", attendanceHandler.Action(attendance.ActionToggleBreak))
		r.Post("/attendance/{identity}/check-out", attendanceHandler.Action(attendance.ActionCheckOut))

		// Enrolled identities
		r.Get("/profiles", profilesHandler.List)
		r.Post("/profiles/{identity}/samples", profilesHandler.AddSample)

		// Kiosk session
		r.Post("/kiosk/frames", kioskHandler.SubmitFrame)
		r.Get("/kiosk/session", kioskHandler.Session)
		r.Put("/kiosk/view", kioskHandler.SetView)
		r.Post("/kiosk/enroll", kioskHandler.Enroll)
		r.Post("/kiosk/actions/{action}", kioskHandler.Action)

		// Pending writes
		r.Get("/sync", syncHandler.Status)
		r.Post("/sync", syncHandler.Resync)
	})

	s.router.With(middleware.SecurityHeaders()).Get("/*", s.serveStatusBoard)
}

// serveStatusBoard serves the embedded status board.
func (s *Server) serveStatusBoard(w http.ResponseWriter, r *http.Request) {
	if !static.HasDist() {
		http.NotFound(w, r)
		return
	}

	name := r.URL.Path
	if name == "/" {
		name = "/index.html"
	}
	f, err := static.FileSystem().Open(name)
	if err != nil {
		if strings.Contains(name[1:], ".") {
			http.NotFound(w, r)
			return
		}
		name = "/index.html"
		if f, err = static.FileSystem().Open(name); err != nil {
			http.NotFound(w, r)
			return
		}
	}
	defer f.Close()

	if stat, err := f.Stat(); err != nil || stat.IsDir() {
		http.NotFound(w, r)
		return
	}

	w.Header().Set("Content-Type", static.ContentType(name))
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)
	io.Copy(w, f)
}

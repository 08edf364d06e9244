package web

import (
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/kozaktomas/attendance-terminal/internal/roster"
	"github.com/kozaktomas/attendance-terminal/internal/web/handlers"
	"github.com/kozaktomas/attendance-terminal/internal/web/middleware"
	"github.com/kozaktomas/attendance-terminal/internal/web/static"
)

func (s *Server) setupRoutes() {
	category, err := roster.ParseCategory(s.config.Terminal.Category)
	if err != nil {
		category = roster.Student
	}
	maxUpload := s.config.Web.MaxUploadSize
	logger := s.logger

	authHandler := handlers.NewAuthHandler(s.deps.Credentials, s.sessionManager, logger.Named("auth"))
	s.terminal = handlers.NewTerminalHandler(s.deps.Recorder, s.deps.LiveSource, category, maxUpload, logger.Named("terminal"))
	identitiesHandler := handlers.NewIdentitiesHandler(s.deps.Admin, s.deps.Credentials, s.deps.Roster, s.jobManager, maxUpload, logger.Named("identities"))
	attendanceHandler := handlers.NewAttendanceHandler(s.deps.Admin, s.deps.Store, s.deps.Roster, logger.Named("attendance"))

	// Health check (no auth required)
	s.router.Get("/api/v1/health", handlers.HealthCheck)

	s.router.Route("/api/v1", func(r chi.Router) {
		r.Post("/auth/login", authHandler.Login)
		r.Post("/auth/logout", authHandler.Logout)
		r.Get("/auth/status", authHandler.Status)

		// The kiosk is unauthenticated: it only ever records attendance for
		// the face in front of the camera.
		r.Get("/terminal/status", s.terminal.Status)
		r.Get("/terminal/events", s.terminal.Events)
		r.Post("/terminal/{category}/recognize", s.terminal.Recognize)

		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireAuth(s.sessionManager))

			// Identities
			r.Get("/identities/{category}", identitiesHandler.List)
			r.Post("/identities/{category}", identitiesHandler.Enroll)
			r.Get("/identities/{category}/{id}", identitiesHandler.Get)
			r.Put("/identities/{category}/{id}", identitiesHandler.Update)
			r.Delete("/identities/{category}/{id}", identitiesHandler.Delete)

			// Cascade deletion jobs
			r.Get("/jobs/{jobId}", identitiesHandler.JobStatus)
			r.Get("/jobs/{jobId}/events", identitiesHandler.JobEvents)
			r.Delete("/jobs/{jobId}", identitiesHandler.CancelJob)

			// Attendance
			r.Get("/attendance/{category}/{date}", attendanceHandler.Sheet)
			r.Get("/attendance/{category}/{date}/export", attendanceHandler.Export)
			r.Post("/attendance/{category}/{date}/{personId}/toggle", attendanceHandler.Toggle)
			r.Put("/attendance/{category}/{date}/{personId}", attendanceHandler.Edit)
			r.Delete("/attendance/{category}/{date}/{personId}", attendanceHandler.DeleteRecord)
			r.Get("/attendance/{category}/people/{personId}/percentage", attendanceHandler.Percentage)

			// Analytics
			r.Get("/analytics/summary", attendanceHandler.Summary)
		})
	})

	s.router.Get("/*", s.serveSPA)
}

// contentTypes maps static asset extensions to their content type.
var contentTypes = map[string]string{
	".html":  "text/html; charset=utf-8",
	".css":   "text/css; charset=utf-8",
	".js":    "application/javascript; charset=utf-8",
	".json":  "application/json",
	".svg":   "image/svg+xml",
	".png":   "image/png",
	".jpg":   "image/jpeg",
	".jpeg":  "image/jpeg",
	".ico":   "image/x-icon",
	".woff2": "font/woff2",
}

// serveSPA serves the kiosk and admin single-page application.
func (s *Server) serveSPA(w http.ResponseWriter, r *http.Request) {
	if static.HasDist() {
		fs := static.GetFileSystem()
		path := r.URL.Path
		if path == "/" {
			path = "/index.html"
		}

		if f, err := fs.Open(path); err == nil {
			defer f.Close()
			if stat, err := f.Stat(); err == nil && !stat.IsDir() {
				contentType := "application/octet-stream"
				if i := strings.LastIndex(path, "."); i >= 0 {
					if ct, ok := contentTypes[path[i:]]; ok {
						contentType = ct
					}
				}
				w.Header().Set("Content-Type", contentType)
				if strings.HasPrefix(path, "/assets/") {
					w.Header().Set("Cache-Control", "public, max-age=31536000, immutable")
				}
				w.WriteHeader(http.StatusOK)
				io.Copy(w, f)
				return
			}
		}

		// Client-side routes fall back to index.html.
		if !strings.HasPrefix(path, "/assets/") {
			if indexFile, err := fs.Open("/index.html"); err == nil {
				defer indexFile.Close()
				w.Header().Set("Content-Type", "text/html; charset=utf-8")
				w.WriteHeader(http.StatusOK)
				io.Copy(w, indexFile)
				return
			}
		}
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`<!DOCTYPE html>
<html>
<head>
    <title>Attendance Terminal</title>
    <style>
        body { font-family: system-ui, sans-serif; display: flex; justify-content: center; align-items: center; height: 100vh; margin: 0; background: #f4f6fb; color: #222; }
        .container { text-align: center; }
        code { background: #e6ecf5; padding: 2px 8px; border-radius: 4px; }
    </style>
</head>
<body>
    <div class="container">
        <h1>Attendance Terminal</h1>
        <p>No front end is bundled. Post a frame to <code>/api/v1/terminal/{category}/recognize</code>.</p>
        <p>Health: <a href="/api/v1/health">/api/v1/health</a></p>
    </div>
</body>
</html>`))
}

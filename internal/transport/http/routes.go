// internal/transport/http/routes.go
package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// Routes собирает REST-поверхность API.
func Routes(h *Handler, nh *NotificationHandler, mw *Middleware) http.Handler {
	r := chi.NewRouter()

	r.Route("/api/auth", func(r chi.Router) {
		r.Post("/login", h.Login)
		r.Post("/refresh", h.Refresh)
		r.Get("/send_code/{phone}", h.SendCode)

		r.Group(func(r chi.Router) {
			r.Use(mw.JWT)
			r.Post("/logout", h.Logout)
		})
	})

	r.Route("/api/notifications", func(r chi.Router) {
		r.Use(mw.JWT)
		r.Get("/", nh.List)
		r.Post("/{id}/read", nh.MarkRead)
	})

	return r
}

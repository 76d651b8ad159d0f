// internal/transport/http/auth_handlers.go
package http

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/NoimitLi/smart-campus-server/internal/auth"
	"github.com/NoimitLi/smart-campus-server/pkg/logger"
)

const refreshCookieName = "refresh_token"
const refreshCookiePath = "/api/auth/refresh"

// Handler обслуживает REST-часть API.
type Handler struct {
	auth       *auth.Manager
	sms        *auth.SmsService
	log        *logger.Logger
	refreshTTL time.Duration
	secure     bool // Secure-флаг на refresh-cookie
}

func NewHandler(a *auth.Manager, sms *auth.SmsService, refreshTTL time.Duration, secure bool, log *logger.Logger) *Handler {
	return &Handler{auth: a, sms: sms, refreshTTL: refreshTTL, secure: secure, log: log.Named("http")}
}

type loginRequest struct {
	Username string `json:"username,omitempty"`
	Password string `json:"password,omitempty"`
	Phone    string `json:"phone,omitempty"`
	Code     string `json:"code,omitempty"`
}

type userPayload struct {
	Avatar      string   `json:"avatar"`
	Username    string   `json:"username"`
	Nickname    string   `json:"nickname"`
	Roles       []string `json:"roles"`
	Permissions []string `json:"permissions"`
}

type loginResponse struct {
	User        userPayload `json:"user"`
	AccessToken string      `json:"access_token"`
}

// Login принимает либо {username,password}, либо {phone,code}.
// Refresh-токен уходит только в HTTP-only cookie.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		BadRequest(w, "invalid json")
		return
	}

	var creds auth.Credentials
	switch {
	case req.Phone != "":
		creds = auth.PhoneCredentials{Phone: req.Phone, Code: req.Code}
	default:
		creds = auth.PasswordCredentials{Username: req.Username, Password: req.Password}
	}

	sess, err := h.auth.Login(r.Context(), creds)
	if err != nil {
		Error(w, err)
		return
	}

	h.setRefreshCookie(w, sess.RefreshToken, h.refreshTTL)

	payload := userPayload{
		Avatar:      sess.User.Avatar,
		Username:    sess.User.Username,
		Nickname:    sess.User.Nickname,
		Roles:       []string{},
		Permissions: sess.Permissions,
	}
	if payload.Permissions == nil {
		payload.Permissions = []string{}
	}
	if sess.Role != nil {
		payload.Roles = []string{sess.Role.Code}
	}
	JSON(w, loginResponse{User: payload, AccessToken: sess.AccessToken})
}

// Refresh читает refresh-токен ТОЛЬКО из cookie: токен в теле или
// заголовке игнорируется.
func (h *Handler) Refresh(w http.ResponseWriter, r *http.Request) {
	cookie, err := r.Cookie(refreshCookieName)
	if err != nil || cookie.Value == "" {
		Unauthorized(w, "refresh cookie missing")
		return
	}

	access, err := h.auth.Refresh(r.Context(), cookie.Value)
	if err != nil {
		Error(w, err)
		return
	}
	JSON(w, map[string]string{"access_token": access})
}

// Logout требует валидный access-токен (JWT-middleware), гасит сессию
// и стирает cookie. Повторный вызов безвреден.
func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	userID, ok := UserID(r.Context())
	if !ok {
		Unauthorized(w, "invalid or missing access token")
		return
	}
	if err := h.auth.Logout(r.Context(), userID); err != nil {
		Error(w, err)
		return
	}
	h.setRefreshCookie(w, "", -time.Hour)
	JSON(w, nil)
}

// SendCode отправляет SMS-код на телефон из пути.
func (h *Handler) SendCode(w http.ResponseWriter, r *http.Request) {
	phone := chi.URLParam(r, "phone")
	if err := h.sms.Send(r.Context(), phone); err != nil {
		Error(w, err)
		return
	}
	JSON(w, nil)
}

func (h *Handler) setRefreshCookie(w http.ResponseWriter, value string, ttl time.Duration) {
	http.SetCookie(w, &http.Cookie{
		Name:     refreshCookieName,
		Value:    value,
		Path:     refreshCookiePath,
		MaxAge:   int(ttl / time.Second),
		HttpOnly: true,
		Secure:   h.secure,
		SameSite: http.SameSiteLaxMode,
	})
}

// misc.go: служебные endpoints /api/ping, /api/ip, /api/rank, /api/login.
package handlers

import (
	"crypto/subtle"
	"log/slog"
	"net/http"

	apierrors "github.com/bigkaa/docgate/internal/api/errors"
	"github.com/bigkaa/docgate/internal/ssoclient"
)

type ipResponse struct {
	IP      string `json:"ip"`
	Allowed bool   `json:"allowed"`
}

type loginRequest struct {
	StudentID string `json:"studentId"`
	Password  string `json:"password"`
}

// Ping: GET /api/ping.
func (h *APIHandler) Ping(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write([]byte("pong"))
}

// ClientIP: GET /api/ip. IP клиента и признак разрешённой сети.
func (h *APIHandler) ClientIP(w http.ResponseWriter, r *http.Request) {
	ip := h.Gate.ClientIP(r)
	resp := ipResponse{IP: "unknown", Allowed: h.Gate.InAllowedNetwork(ip)}
	if ip != nil {
		resp.IP = ip.String()
	}
	writeJSON(w, http.StatusOK, resp)
}

// Rank: GET /api/rank?token=. Снимок счётчика популярности.
func (h *APIHandler) Rank(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if h.Token == "" || subtle.ConstantTimeCompare([]byte(token), []byte(h.Token)) != 1 {
		apierrors.Forbidden(w, "Forbidden")
		return
	}

	counts, err := h.Popularity.List(r.Context())
	if err != nil {
		h.logger.Error("Ошибка чтения счётчика популярности", slog.String("error", err.Error()))
		apierrors.InternalError(w, "Счётчик популярности недоступен")
		return
	}
	writeJSON(w, http.StatusOK, counts)
}

// Login: POST /api/login.
// Клиенту из разрешённой сети cookie выдаётся сразу, иначе учётные
// данные проверяет внешний сервис.
func (h *APIHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	if h.Gate.InAllowedNetwork(h.Gate.ClientIP(r)) {
		h.Sessions.SetCookie(w, h.now())
		writeJSON(w, http.StatusOK, successResponse{Success: true, Message: "Вход выполнен из разрешённой сети"})
		return
	}

	if req.StudentID == "" || req.Password == "" {
		apierrors.ValidationError(w, "Не указаны studentId или password")
		return
	}

	if h.SSO == nil {
		apierrors.Upstream(w, ssoclient.ErrNotConfigured.Error())
		return
	}

	ok, err := h.SSO.Verify(r.Context(), req.StudentID, req.Password)
	if err != nil {
		h.logger.Warn("Ошибка проверки учётных данных", slog.String("error", err.Error()))
		apierrors.Upstream(w, "Сервис проверки учётных данных недоступен")
		return
	}
	if !ok {
		apierrors.Unauthorized(w, "Неверный логин или пароль")
		return
	}

	h.Sessions.SetCookie(w, h.now())
	writeJSON(w, http.StatusOK, successResponse{Success: true, Message: "Вход выполнен"})
}

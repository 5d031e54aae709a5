package handlers

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/homenavi/auth-service/internal/authz"
	"github.com/homenavi/auth-service/internal/middleware"
	"github.com/homenavi/auth-service/internal/users"
)

// UsersHandler serves account management under /users
type UsersHandler struct {
	users  *users.Service
	logger *zap.Logger
}

// NewUsersHandler creates a new users handler
func NewUsersHandler(svc *users.Service, logger *zap.Logger) *UsersHandler {
	return &UsersHandler{users: svc, logger: logger}
}

type listResponse struct {
	Users    []userResponse `json:"users"`
	Total    int            `json:"total"`
	Page     int            `json:"page"`
	PageSize int            `json:"page_size"`
}

func (h *UsersHandler) actor(w http.ResponseWriter, r *http.Request) (authz.Actor, bool) {
	u, ok := middleware.GetUser(r.Context())
	if !ok || u == nil {
		respondWithError(w, http.StatusUnauthorized, "unauthorized")
		return authz.Actor{}, false
	}
	return authz.ActorOf(*u), true
}

func (h *UsersHandler) target(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, ok := parseID(chi.URLParam(r, "id"))
	if !ok {
		respondWithError(w, http.StatusBadRequest, "invalid user id")
	}
	return id, ok
}

// HandleList handles GET /users?q=&page=&page_size=
func (h *UsersHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()
	page, _ := strconv.Atoi(q.Get("page"))
	size, _ := strconv.Atoi(q.Get("page_size"))

	res, err := h.users.List(r.Context(), actor, users.ListRequest{Query: q.Get("q"), Page: page, PageSize: size})
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	resp := listResponse{Users: make([]userResponse, 0, len(res.Users)), Total: res.Total, Page: res.Page, PageSize: res.PageSize}
	for _, u := range res.Users {
		resp.Users = append(resp.Users, toUserResponse(u))
	}
	respondJSON(w, http.StatusOK, resp)
}

// HandleGet handles GET /users/{id}
func (h *UsersHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	id, ok := h.target(w, r)
	if !ok {
		return
	}
	u, err := h.users.Get(r.Context(), actor, id)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	respondJSON(w, http.StatusOK, toUserResponse(u))
}

type patchRequest struct {
	UserName  *string `json:"user_name"`
	FirstName *string `json:"first_name"`
	LastName  *string `json:"last_name"`
	Role      *string `json:"role"`
}

// HandlePatch handles PATCH /users/{id}
func (h *UsersHandler) HandlePatch(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	id, ok := h.target(w, r)
	if !ok {
		return
	}
	var req patchRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	u, err := h.users.Patch(r.Context(), actor, id, users.PatchRequest(req))
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	respondJSON(w, http.StatusOK, toUserResponse(u))
}

type lockoutRequest struct {
	Lock *bool `json:"lock"`
}

// HandleLockout handles POST /users/{id}/lockout (admin only)
func (h *UsersHandler) HandleLockout(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	id, ok := h.target(w, r)
	if !ok {
		return
	}
	var req lockoutRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Lock == nil {
		respondWithError(w, http.StatusBadRequest, "lock is required")
		return
	}
	u, err := h.users.SetLocked(r.Context(), actor, id, *req.Lock)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"status": "ok", "lock": u.Locked})
}

// HandleDelete handles DELETE /users/{id}
func (h *UsersHandler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	id, ok := h.target(w, r)
	if !ok {
		return
	}
	if err := h.users.Delete(r.Context(), actor, id); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

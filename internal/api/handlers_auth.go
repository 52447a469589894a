package api

import (
	"database/sql"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/recelilious/Anicargo/internal/apierr"
	"github.com/recelilious/Anicargo/internal/auth"
	"github.com/recelilious/Anicargo/internal/log"
)

type tokenResponse struct {
	Token string `json:"token"`
}

type registerRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
	InviteCode string `json:"invite_code"`
}

// handleRegister implements the invite-code gated self-registration
// endpoint: a caller supplying the configured invite_code is provisioned a
// new level-1 account and issued a token directly, matching the original
// config surface's sole consumer of invite_code.
func (a *API) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, r, apierr.InputInvalid("malformed request body"))
		return
	}
	if req.Username == "" || req.Password == "" {
		writeError(w, r, apierr.InputInvalid("username and password are required"))
		return
	}
	if a.cfg.InviteCode == "" || req.InviteCode != a.cfg.InviteCode {
		writeError(w, r, apierr.Unauthorized("invalid invite code"))
		return
	}

	if _, err := a.store.GetUserByUsername(r.Context(), req.Username); err == nil {
		writeError(w, r, apierr.Conflict("username already registered"))
		return
	} else if err != sql.ErrNoRows {
		writeError(w, r, apierr.Internal("lookup user", err))
		return
	}

	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		writeError(w, r, apierr.Internal("hash password", err))
		return
	}

	id := uuid.New().String()
	if err := a.store.CreateUser(r.Context(), id, req.Username, hash, 1); err != nil {
		writeError(w, r, apierr.Internal("create user", err))
		return
	}

	token, err := a.tokens.Issue(id, 1)
	if err != nil {
		writeError(w, r, apierr.Internal("issue token", err))
		return
	}
	log.AuditInfo(r.Context(), "auth.registered", "new user registered via invite code", map[string]any{"user_id": id, "username": req.Username})
	writeJSON(w, http.StatusCreated, tokenResponse{Token: token})
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// handleLogin verifies credentials against the stored Argon2id hash and
// issues a fresh token carrying the user's current role level.
func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, r, apierr.InputInvalid("malformed request body"))
		return
	}

	user, err := a.store.GetUserByUsername(r.Context(), req.Username)
	if err != nil {
		if err == sql.ErrNoRows {
			writeError(w, r, apierr.Unauthorized("invalid credentials"))
			return
		}
		writeError(w, r, apierr.Internal("lookup user", err))
		return
	}

	ok, err := auth.VerifyPassword(user.PasswordHash, req.Password)
	if err != nil || !ok {
		writeError(w, r, apierr.Unauthorized("invalid credentials"))
		return
	}

	token, err := a.tokens.Issue(user.ID, user.RoleLevel)
	if err != nil {
		writeError(w, r, apierr.Internal("issue token", err))
		return
	}
	writeJSON(w, http.StatusOK, tokenResponse{Token: token})
}

type updateRoleRequest struct {
	RoleLevel int `json:"role_level"`
}

// handleUpdateRole implements `PATCH /api/users/:id/role`: admin-gated,
// with the one named exception to the hidden-admin policy 
// — an admin attempting to change their own role gets an explicit 400
// instead of the generic 404 denial.
func (a *API) handleUpdateRole(w http.ResponseWriter, r *http.Request) {
	targetID := chi.URLParam(r, "id")
	a.requireAdmin(func(w http.ResponseWriter, r *http.Request, claims *auth.Claims) {
		if targetID == claims.Sub {
			writeError(w, r, apierr.InputInvalid("cannot modify own role"))
			return
		}

		var req updateRoleRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, r, apierr.InputInvalid("malformed request body"))
			return
		}
		level := auth.ClampRoleLevel(req.RoleLevel)

		if err := a.store.UpdateUserRole(r.Context(), targetID, level); err != nil {
			if err == sql.ErrNoRows {
				writeError(w, r, apierr.NotFound("user not found"))
				return
			}
			writeError(w, r, apierr.Internal("update user role", err))
			return
		}
		log.AuditInfo(r.Context(), "auth.role_changed", "user role updated", map[string]any{
			"who": claims.Sub, "target": targetID, "role_level": level,
		})
		w.WriteHeader(http.StatusNoContent)
	})(w, r)
}

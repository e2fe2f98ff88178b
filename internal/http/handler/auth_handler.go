package handler

import (
	"errors"
	"net/http"
	"strings"

	"github.com/sandeepkv93/secure-auth-core/internal/domain"
	"github.com/sandeepkv93/secure-auth-core/internal/http/response"
	"github.com/sandeepkv93/secure-auth-core/internal/security"
	"github.com/sandeepkv93/secure-auth-core/internal/service"
)

type AuthHandler struct {
	auth *service.AuthService
}

func NewAuthHandler(auth *service.AuthService) *AuthHandler {
	return &AuthHandler{auth: auth}
}

type registerRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Name     string `json:"name"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// logoutRequest validates the logout body. The refresh token itself is read
// with security.ExtractToken.
type logoutRequest struct {
	RefreshToken string `json:"refresh_token"`
	All          bool   `json:"all"`
}

type verifyEmailRequest struct {
	Token string `json:"token"`
}

type authResponse struct {
	User        *domain.User       `json:"user"`
	Permissions []string           `json:"permissions"`
	Tokens      *service.TokenPair `json:"tokens"`
}

func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := decodeJSON(r, &req); err != nil {
		badRequest(w, r, err)
		return
	}
	res, err := h.auth.Register(r.Context(), service.RegisterInput{Email: req.Email, Password: req.Password, Name: req.Name}, clientMeta(r))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	response.JSON(w, r, http.StatusCreated, authResponse{User: res.User, Permissions: res.Permissions, Tokens: res.Tokens})
}

func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(r, &req); err != nil {
		badRequest(w, r, err)
		return
	}
	res, err := h.auth.Login(r.Context(), service.LoginInput{Email: req.Email, Password: req.Password}, clientMeta(r))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	response.JSON(w, r, http.StatusOK, authResponse{User: res.User, Permissions: res.Permissions, Tokens: res.Tokens})
}

// Refresh reads refresh_token from the JSON body. A missing or unreadable
// token is reported like any other invalid token.
func (h *AuthHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	token := security.ExtractToken(r, security.SourceBody)
	if token == "" {
		writeServiceError(w, r, service.ErrTokenInvalid)
		return
	}
	pair, err := h.auth.Refresh(r.Context(), token, clientMeta(r))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	response.JSON(w, r, http.StatusOK, pair)
}

func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}
	refreshToken := security.ExtractToken(r, security.SourceBody)
	var req logoutRequest
	if r.ContentLength != 0 {
		if err := decodeJSON(r, &req); err != nil && !errors.Is(err, errEmptyBody) {
			badRequest(w, r, err)
			return
		}
	}
	if err := h.auth.Logout(r.Context(), p, refreshToken, req.All, clientMeta(r)); err != nil {
		writeServiceError(w, r, err)
		return
	}
	response.JSON(w, r, http.StatusOK, map[string]any{"logged_out": true, "all_sessions": req.All})
}

// VerifyEmail accepts the token either in the body or as the token query
// parameter of the emailed link.
func (h *AuthHandler) VerifyEmail(w http.ResponseWriter, r *http.Request) {
	token := strings.TrimSpace(r.URL.Query().Get("token"))
	if token == "" {
		var req verifyEmailRequest
		if err := decodeJSON(r, &req); err != nil {
			badRequest(w, r, err)
			return
		}
		token = strings.TrimSpace(req.Token)
	}
	if token == "" {
		writeServiceError(w, r, service.ErrTokenInvalid)
		return
	}
	already, err := h.auth.VerifyEmail(r.Context(), token)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	response.JSON(w, r, http.StatusOK, map[string]bool{"verified": true, "already_verified": already})
}

func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}
	user, perms, err := h.auth.Me(r.Context(), p.UserID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	response.JSON(w, r, http.StatusOK, map[string]any{"user": user, "permissions": perms})
}

func (h *AuthHandler) Sessions(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}
	sessions, err := h.auth.ListSessions(r.Context(), p)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	response.JSON(w, r, http.StatusOK, sessions)
}

func (h *AuthHandler) RevokeSession(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}
	id, err := pathID(r, "id")
	if err != nil {
		response.Error(w, r, http.StatusBadRequest, "BAD_REQUEST", err.Error(), nil)
		return
	}
	if err := h.auth.RevokeSession(r.Context(), p, id); err != nil {
		writeServiceError(w, r, err)
		return
	}
	response.JSON(w, r, http.StatusOK, map[string]any{"revoked": id})
}

func (h *AuthHandler) RevokeOtherSessions(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}
	n, err := h.auth.RevokeOtherSessions(r.Context(), p)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	response.JSON(w, r, http.StatusOK, map[string]int{"revoked": n})
}

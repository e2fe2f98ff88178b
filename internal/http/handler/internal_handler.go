package handler

import (
	"net/http"
	"strings"

	"github.com/sandeepkv93/secure-auth-core/internal/http/response"
	"github.com/sandeepkv93/secure-auth-core/internal/service"
)

// InternalHandler serves calls from other services authenticated by API key.
type InternalHandler struct {
	auth *service.AuthService
}

func NewInternalHandler(auth *service.AuthService) *InternalHandler {
	return &InternalHandler{auth: auth}
}

type validateTokenRequest struct {
	Token string `json:"token"`
}

func (h *InternalHandler) ValidateToken(w http.ResponseWriter, r *http.Request) {
	var req validateTokenRequest
	if err := decodeJSON(r, &req); err != nil {
		badRequest(w, r, err)
		return
	}
	if strings.TrimSpace(req.Token) == "" {
		response.Error(w, r, http.StatusBadRequest, "BAD_REQUEST", "token is required", nil)
		return
	}
	p, err := h.auth.ValidateAccessToken(r.Context(), req.Token)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	response.JSON(w, r, http.StatusOK, map[string]any{
		"valid":      true,
		"principal":  p,
		"expires_at": p.ExpiresAt,
	})
}

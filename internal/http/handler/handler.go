package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/sandeepkv93/secure-auth-core/internal/http/middleware"
	"github.com/sandeepkv93/secure-auth-core/internal/http/response"
	"github.com/sandeepkv93/secure-auth-core/internal/repository"
	"github.com/sandeepkv93/secure-auth-core/internal/service"
)

var errEmptyBody = errors.New("request body is required")

func decodeJSON(r *http.Request, dst any) error {
	if r.Body == nil {
		return errEmptyBody
	}
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errEmptyBody
		}
		return err
	}
	return nil
}

func badRequest(w http.ResponseWriter, r *http.Request, err error) {
	response.Error(w, r, http.StatusBadRequest, "BAD_REQUEST", "invalid request body", map[string]string{"reason": err.Error()})
}

// writeServiceError maps a service error onto the response envelope. Errors
// that end up as 5xx are logged since the client only sees a generic message.
func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	status := response.ServiceError(w, r, err)
	if status >= http.StatusInternalServerError {
		slog.ErrorContext(r.Context(), "request failed", "path", r.URL.Path, "status", status, "error", err.Error())
	}
}

func clientMeta(r *http.Request) service.ClientMeta {
	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		ip = r.RemoteAddr
	}
	return service.ClientMeta{
		IP:        ip,
		UserAgent: r.UserAgent(),
	}
}

func pathID(r *http.Request, name string) (uint, error) {
	raw := chi.URLParam(r, name)
	id, err := strconv.ParseUint(raw, 10, 64)
	if err != nil || id == 0 {
		return 0, fmt.Errorf("invalid %s %q", name, raw)
	}
	return uint(id), nil
}

func principal(w http.ResponseWriter, r *http.Request) (*service.Principal, bool) {
	p, ok := middleware.PrincipalFromContext(r.Context())
	if !ok {
		response.Error(w, r, http.StatusUnauthorized, "UNAUTHORIZED", "missing auth context", nil)
		return nil, false
	}
	return p, true
}

func pageRequest(r *http.Request) repository.PageRequest {
	q := r.URL.Query()
	page, _ := strconv.Atoi(q.Get("page"))
	size, _ := strconv.Atoi(q.Get("page_size"))
	return repository.PageRequest{Page: page, PageSize: size}
}

func boolQuery(r *http.Request, key string) (*bool, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(key))
	if raw == "" {
		return nil, nil
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid %s %q", key, raw)
	}
	return &v, nil
}

package security

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"strings"
)

const (
	APIKeyHeader      = "X-API-Key"
	RefreshTokenField = "refresh_token"
)

// TokenSource enumerates where a credential may be read from.
type TokenSource int

const (
	SourceBearer TokenSource = iota
	SourceBody
	SourceAPIKey
)

func (s TokenSource) String() string {
	switch s {
	case SourceBearer:
		return "bearer"
	case SourceBody:
		return "body"
	case SourceAPIKey:
		return "api_key"
	default:
		return "unknown"
	}
}

// ExtractToken reads a credential for the given source. SourceBody restores
// the request body so handlers can decode it again.
func ExtractToken(r *http.Request, source TokenSource) string {
	switch source {
	case SourceBearer:
		auth := r.Header.Get("Authorization")
		if len(auth) > 7 && strings.EqualFold(auth[:7], "bearer ") {
			return strings.TrimSpace(auth[7:])
		}
	case SourceAPIKey:
		return strings.TrimSpace(r.Header.Get(APIKeyHeader))
	case SourceBody:
		if r.Body == nil {
			return ""
		}
		data, err := io.ReadAll(r.Body)
		r.Body = io.NopCloser(bytes.NewReader(data))
		if err != nil || len(data) == 0 {
			return ""
		}
		var payload map[string]any
		if err := json.Unmarshal(data, &payload); err != nil {
			return ""
		}
		if v, ok := payload[RefreshTokenField].(string); ok {
			return strings.TrimSpace(v)
		}
	}
	return ""
}

package config

import (
	"fmt"
	"testing"
	"time"
)

func TestErrorClass(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want string
	}{
		{name: "none", err: nil, want: "none"},
		{name: "validation", err: &ValidationError{Problems: []Problem{{Key: "DATABASE_URL", Message: "DATABASE_URL is required"}}}, want: "validation"},
		{name: "secret among others", err: &ValidationError{Problems: []Problem{
			{Key: "BCRYPT_COST", Message: "BCRYPT_COST must be between 4 and 31"},
			{Key: "REFRESH_TOKEN_PEPPER", Message: "REFRESH_TOKEN_PEPPER must be at least 16 bytes"},
		}}, want: "secret"},
		{name: "parse", err: &ParseError{Key: "JWT_ACCESS_TTL", Err: fmt.Errorf("bad duration")}, want: "parse"},
		{name: "wrapped parse", err: fmt.Errorf("load: %w", &ParseError{Key: ".env:3", Err: errExpectedAssignment}), want: "parse"},
		{name: "other", err: fmt.Errorf("read env"), want: "load"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := errorClass(tc.err); got != tc.want {
				t.Fatalf("errorClass()=%q want %q", got, tc.want)
			}
		})
	}
}

func TestValidateCollectsProblemsByKey(t *testing.T) {
	cfg := &Config{
		DBDriver:         "mysql",
		JWTAccessSecret:  "short",
		JWTRefreshSecret: "short",
		JWTAccessTTL:     time.Hour,
		JWTRefreshTTL:    time.Minute,
	}
	err := cfg.Validate()
	verr, ok := err.(*ValidationError)
	if !ok {
		t.Fatalf("expected *ValidationError, got %T (%v)", err, err)
	}
	keys := map[string]bool{}
	for _, p := range verr.Problems {
		keys[p.Key] = true
	}
	for _, want := range []string{"DB_DRIVER", "DATABASE_URL", "JWT_ACCESS_SECRET", "JWT_REFRESH_SECRET", "JWT_ACCESS_TTL"} {
		if !keys[want] {
			t.Fatalf("expected a problem for %s, got %+v", want, verr.Problems)
		}
	}
	if errorClass(err) != "secret" {
		t.Fatalf("expected secret class, got %q", errorClass(err))
	}
}

func TestProfileLabel(t *testing.T) {
	if got := profileLabel("  ProD  "); got != "prod" {
		t.Fatalf("expected prod, got %q", got)
	}
	if got := profileLabel("   "); got != "unknown" {
		t.Fatalf("expected unknown, got %q", got)
	}
	if !(&Config{AppEnv: "Production"}).IsProduction() {
		t.Fatal("expected Production to count as production")
	}
}

package router

import (
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/sandeepkv93/secure-auth-core/internal/health"
	"github.com/sandeepkv93/secure-auth-core/internal/http/handler"
	"github.com/sandeepkv93/secure-auth-core/internal/http/middleware"
	"github.com/sandeepkv93/secure-auth-core/internal/http/response"
	"github.com/sandeepkv93/secure-auth-core/internal/observability"
)

type Dependencies struct {
	AuthHandler     *handler.AuthHandler
	AdminHandler    *handler.AdminHandler
	InternalHandler *handler.InternalHandler
	Guard           middleware.Authorizer
	CORSOrigins     []string
	AuthRateLimiter func(http.Handler) http.Handler
	Readiness       *health.ReadinessRunner
	EnableOTelHTTP  bool
}

func NewRouter(dep Dependencies) http.Handler {
	observability.InitHTTPMetrics()

	r := chi.NewRouter()
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.StructuredRequestLogger)
	r.Use(observability.Instrument)
	r.Use(middleware.SecurityHeaders)
	r.Use(middleware.CORS(dep.CORSOrigins))
	r.Use(middleware.BodyLimit(1 << 20))

	r.Get("/health/live", func(w http.ResponseWriter, r *http.Request) {
		response.JSON(w, r, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Get("/health/ready", func(w http.ResponseWriter, r *http.Request) {
		if dep.Readiness == nil {
			response.JSON(w, r, http.StatusOK, map[string]any{"status": "ready", "checks": []any{}})
			return
		}
		ready, results := dep.Readiness.Ready(r.Context())
		if ready {
			response.JSON(w, r, http.StatusOK, map[string]any{"status": "ready", "checks": results})
			return
		}
		response.Error(w, r, http.StatusServiceUnavailable, "DEPENDENCY_UNREADY", "dependencies are not ready", map[string]any{"checks": results})
	})
	r.Method(http.MethodGet, "/metrics", observability.MetricsHandler())

	handlers := handlerTable(dep)
	for _, op := range operations {
		h, ok := handlers[op.Name]
		if !ok || h == nil {
			panic(fmt.Sprintf("router: no handler for operation %s", op.Name))
		}
		chain := []func(http.Handler) http.Handler{}
		if op.Module == moduleAuth && dep.AuthRateLimiter != nil {
			chain = append(chain, dep.AuthRateLimiter)
		}
		chain = append(chain, middleware.Authorize(dep.Guard, op))
		r.With(chain...).Method(op.Method, op.Path, h)
	}

	var h http.Handler = r
	if dep.EnableOTelHTTP {
		h = otelhttp.NewHandler(r, "http.server")
	}
	return h
}

func handlerTable(dep Dependencies) map[string]http.HandlerFunc {
	m := map[string]http.HandlerFunc{}
	if a := dep.AuthHandler; a != nil {
		m[OpAuthRegister] = a.Register
		m[OpAuthLogin] = a.Login
		m[OpAuthRefresh] = a.Refresh
		m[OpAuthVerifyEmail] = a.VerifyEmail
		m[OpAuthLogout] = a.Logout
		m[OpMe] = a.Me
		m[OpMeSessions] = a.Sessions
		m[OpMeRevokeSession] = a.RevokeSession
		m[OpMeRevokeOthers] = a.RevokeOtherSessions
	}
	if a := dep.AdminHandler; a != nil {
		m[OpAdminListUsers] = a.ListUsers
		m[OpAdminGetUser] = a.GetUser
		m[OpAdminSetUserStatus] = a.SetUserStatus
		m[OpAdminDeleteUser] = a.DeleteUser
		m[OpAdminSetUserRoles] = a.SetUserRoles
		m[OpAdminListRoles] = a.ListRoles
		m[OpAdminGetRole] = a.GetRole
		m[OpAdminCreateRole] = a.CreateRole
		m[OpAdminUpdateRole] = a.UpdateRole
		m[OpAdminDeleteRole] = a.DeleteRole
		m[OpAdminSetRolePerms] = a.SetRolePermissions
		m[OpAdminGrantRolePerms] = a.GrantRolePermissions
		m[OpAdminListPerms] = a.ListPermissions
		m[OpAdminCreatePerm] = a.CreatePermission
		m[OpAdminDeletePerm] = a.DeletePermission
		m[OpAdminSyncPerms] = a.SyncPermissions
		m[OpAdminCreateAPIKey] = a.CreateAPIKey
	}
	if i := dep.InternalHandler; i != nil {
		m[OpInternalValidate] = i.ValidateToken
	}
	return m
}

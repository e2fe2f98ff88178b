package router

import (
	"net/http"

	"github.com/sandeepkv93/secure-auth-core/internal/permission"
)

const (
	OpAuthRegister    = "auth.register"
	OpAuthLogin       = "auth.login"
	OpAuthRefresh     = "auth.refresh"
	OpAuthVerifyEmail = "auth.verify_email"
	OpAuthLogout      = "auth.logout"

	OpMe                  = "me.get"
	OpMeSessions          = "me.sessions.list"
	OpMeRevokeSession     = "me.sessions.revoke"
	OpMeRevokeOthers      = "me.sessions.revoke_others"
	OpAdminListUsers      = "admin.users.list"
	OpAdminGetUser        = "admin.users.get"
	OpAdminSetUserStatus  = "admin.users.update_status"
	OpAdminDeleteUser     = "admin.users.delete"
	OpAdminSetUserRoles   = "admin.users.set_roles"
	OpAdminListRoles      = "admin.roles.list"
	OpAdminGetRole        = "admin.roles.get"
	OpAdminCreateRole     = "admin.roles.create"
	OpAdminUpdateRole     = "admin.roles.update"
	OpAdminDeleteRole     = "admin.roles.delete"
	OpAdminSetRolePerms   = "admin.roles.set_permissions"
	OpAdminGrantRolePerms = "admin.roles.grant_permissions"
	OpAdminListPerms      = "admin.permissions.list"
	OpAdminCreatePerm     = "admin.permissions.create"
	OpAdminDeletePerm     = "admin.permissions.delete"
	OpAdminSyncPerms      = "admin.permissions.sync"
	OpAdminCreateAPIKey   = "admin.api_keys.create"
	OpInternalValidate    = "internal.tokens.validate"
)

const APIPrefix = "/api/v1"

const (
	moduleAuth     = "auth"
	moduleMe       = "me"
	moduleAdmin    = "admin"
	moduleInternal = "internal"
)

// operations is the static manifest of every API endpoint. The
// router mounts exactly these and the permission reconciler derives the
// system permission catalog from their requirements.
var operations = []permission.Operation{
	{Name: OpAuthRegister, Module: moduleAuth, Method: http.MethodPost, Path: APIPrefix + "/auth/register", Auth: permission.AuthNone},
	{Name: OpAuthLogin, Module: moduleAuth, Method: http.MethodPost, Path: APIPrefix + "/auth/login", Auth: permission.AuthNone},
	{Name: OpAuthRefresh, Module: moduleAuth, Method: http.MethodPost, Path: APIPrefix + "/auth/refresh", Auth: permission.AuthNone},
	{Name: OpAuthVerifyEmail, Module: moduleAuth, Method: http.MethodPost, Path: APIPrefix + "/auth/verify-email", Auth: permission.AuthNone},
	{Name: OpAuthLogout, Module: moduleAuth, Method: http.MethodPost, Path: APIPrefix + "/auth/logout", Auth: permission.AuthUser},

	{Name: OpMe, Module: moduleMe, Method: http.MethodGet, Path: APIPrefix + "/me", Auth: permission.AuthUser},
	{Name: OpMeSessions, Module: moduleMe, Method: http.MethodGet, Path: APIPrefix + "/me/sessions", Auth: permission.AuthUser},
	{Name: OpMeRevokeSession, Module: moduleMe, Method: http.MethodDelete, Path: APIPrefix + "/me/sessions/{id}", Auth: permission.AuthUser},
	{Name: OpMeRevokeOthers, Module: moduleMe, Method: http.MethodPost, Path: APIPrefix + "/me/sessions/revoke-others", Auth: permission.AuthUser},

	{Name: OpAdminListUsers, Module: moduleAdmin, Method: http.MethodGet, Path: APIPrefix + "/admin/users", Auth: permission.AuthUser,
		Requirements: []permission.Requirement{permission.CanRead("users")}},
	{Name: OpAdminGetUser, Module: moduleAdmin, Method: http.MethodGet, Path: APIPrefix + "/admin/users/{id}", Auth: permission.AuthUser,
		Requirements: []permission.Requirement{permission.CanRead("users")}},
	{Name: OpAdminSetUserStatus, Module: moduleAdmin, Method: http.MethodPatch, Path: APIPrefix + "/admin/users/{id}/status", Auth: permission.AuthUser,
		Requirements: []permission.Requirement{permission.CanUpdate("users")}},
	{Name: OpAdminDeleteUser, Module: moduleAdmin, Method: http.MethodDelete, Path: APIPrefix + "/admin/users/{id}", Auth: permission.AuthUser,
		Requirements: []permission.Requirement{permission.CanDelete("users")}},
	{Name: OpAdminSetUserRoles, Module: moduleAdmin, Method: http.MethodPut, Path: APIPrefix + "/admin/users/{id}/roles", Auth: permission.AuthUser,
		Requirements: []permission.Requirement{permission.CanUpdate("users"), permission.CanRead("roles")}},
	{Name: OpAdminListRoles, Module: moduleAdmin, Method: http.MethodGet, Path: APIPrefix + "/admin/roles", Auth: permission.AuthUser,
		Requirements: []permission.Requirement{permission.CanRead("roles")}},
	{Name: OpAdminGetRole, Module: moduleAdmin, Method: http.MethodGet, Path: APIPrefix + "/admin/roles/{id}", Auth: permission.AuthUser,
		Requirements: []permission.Requirement{permission.CanRead("roles")}},
	{Name: OpAdminCreateRole, Module: moduleAdmin, Method: http.MethodPost, Path: APIPrefix + "/admin/roles", Auth: permission.AuthUser,
		Requirements: []permission.Requirement{permission.CanCreate("roles")}},
	{Name: OpAdminUpdateRole, Module: moduleAdmin, Method: http.MethodPatch, Path: APIPrefix + "/admin/roles/{id}", Auth: permission.AuthUser,
		Requirements: []permission.Requirement{permission.CanUpdate("roles")}},
	{Name: OpAdminDeleteRole, Module: moduleAdmin, Method: http.MethodDelete, Path: APIPrefix + "/admin/roles/{id}", Auth: permission.AuthUser,
		Requirements: []permission.Requirement{permission.CanDelete("roles")}},
	{Name: OpAdminSetRolePerms, Module: moduleAdmin, Method: http.MethodPut, Path: APIPrefix + "/admin/roles/{id}/permissions", Auth: permission.AuthUser,
		Requirements: []permission.Requirement{permission.CanUpdate("roles"), permission.CanRead("permissions")}},
	{Name: OpAdminGrantRolePerms, Module: moduleAdmin, Method: http.MethodPost, Path: APIPrefix + "/admin/roles/{id}/permissions", Auth: permission.AuthUser,
		Requirements: []permission.Requirement{permission.CanUpdate("roles"), permission.CanRead("permissions")}},
	{Name: OpAdminListPerms, Module: moduleAdmin, Method: http.MethodGet, Path: APIPrefix + "/admin/permissions", Auth: permission.AuthUser,
		Requirements: []permission.Requirement{permission.CanRead("permissions")}},
	{Name: OpAdminCreatePerm, Module: moduleAdmin, Method: http.MethodPost, Path: APIPrefix + "/admin/permissions", Auth: permission.AuthUser,
		Requirements: []permission.Requirement{permission.CanCreate("permissions")}},
	{Name: OpAdminDeletePerm, Module: moduleAdmin, Method: http.MethodDelete, Path: APIPrefix + "/admin/permissions/{id}", Auth: permission.AuthUser,
		Requirements: []permission.Requirement{permission.CanDelete("permissions")}},
	{Name: OpAdminSyncPerms, Module: moduleAdmin, Method: http.MethodPost, Path: APIPrefix + "/admin/permissions/sync", Auth: permission.AuthUser,
		Requirements: []permission.Requirement{permission.Require("permissions", "sync")}},
	{Name: OpAdminCreateAPIKey, Module: moduleAdmin, Method: http.MethodPost, Path: APIPrefix + "/admin/api-keys", Auth: permission.AuthUser,
		Requirements: []permission.Requirement{permission.CanCreate("api_keys")}},

	{Name: OpInternalValidate, Module: moduleInternal, Method: http.MethodPost, Path: APIPrefix + "/internal/tokens/validate", Auth: permission.AuthService,
		Requirements: []permission.Requirement{permission.Require("tokens", "validate")}},
}

// Operations returns a copy of the endpoint manifest.
func Operations() []permission.Operation {
	out := make([]permission.Operation, len(operations))
	copy(out, operations)
	return out
}

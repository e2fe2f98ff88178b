package handler

import (
	"crypto/rand"
	"encoding/base64"
	"net/http"
	"strconv"
	"strings"

	"github.com/sandeepkv93/secure-auth-core/internal/http/middleware"
	"github.com/sandeepkv93/secure-auth-core/internal/http/response"
	"github.com/sandeepkv93/secure-auth-core/internal/observability"
	"github.com/sandeepkv93/secure-auth-core/internal/permission"
	"github.com/sandeepkv93/secure-auth-core/internal/repository"
	"github.com/sandeepkv93/secure-auth-core/internal/service"
)

// OperationsFunc returns the endpoint manifest the permission sync runs
// against.
type OperationsFunc func() []permission.Operation

type AdminHandler struct {
	rbac       *service.RBACService
	users      *service.UserAdminService
	reconciler *service.PermissionReconciler
	apiKeys    *service.APIKeyService
	operations OperationsFunc
}

func NewAdminHandler(rbac *service.RBACService, users *service.UserAdminService, reconciler *service.PermissionReconciler, apiKeys *service.APIKeyService, operations OperationsFunc) *AdminHandler {
	return &AdminHandler{rbac: rbac, users: users, reconciler: reconciler, apiKeys: apiKeys, operations: operations}
}

type roleRequest struct {
	Name        string   `json:"name"`
	Description string   `json:"description"`
	IsDefault   bool     `json:"is_default"`
	Permissions []string `json:"permissions"`
}

// rolePatchRequest carries only the fields a PATCH may change. Permission
// changes go through the permissions sub-resource, so a "permissions" key is
// rejected as unknown.
type rolePatchRequest struct {
	Name        *string `json:"name"`
	Description *string `json:"description"`
	IsDefault   *bool   `json:"is_default"`
}

type rolePermissionsRequest struct {
	Permissions []string `json:"permissions"`
}

type userStatusRequest struct {
	Active *bool `json:"active"`
}

type userRolesRequest struct {
	RoleIDs []uint `json:"role_ids"`
}

type permissionRequest struct {
	Resource    string `json:"resource"`
	Action      string `json:"action"`
	Description string `json:"description"`
}

type apiKeyRequest struct {
	ServiceID   string   `json:"service_id"`
	Permissions []string `json:"permissions"`
}

func (h *AdminHandler) ListUsers(w http.ResponseWriter, r *http.Request) {
	active, err := boolQuery(r, "active")
	if err != nil {
		response.Error(w, r, http.StatusBadRequest, "BAD_REQUEST", err.Error(), nil)
		return
	}
	q := r.URL.Query()
	res, err := h.rbac.ListUsers(r.Context(), repository.UserListQuery{
		PageRequest: pageRequest(r),
		SortBy:      q.Get("sort_by"),
		SortOrder:   q.Get("sort_order"),
		Email:       q.Get("email"),
		Active:      active,
		Role:        q.Get("role"),
	})
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	response.Page(w, r, res)
}

func (h *AdminHandler) GetUser(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		response.Error(w, r, http.StatusBadRequest, "BAD_REQUEST", err.Error(), nil)
		return
	}
	user, err := h.users.GetUser(r.Context(), id)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	response.JSON(w, r, http.StatusOK, user)
}

// SetUserStatus activates or deactivates an account. Deactivation signs the
// user out everywhere.
func (h *AdminHandler) SetUserStatus(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		response.Error(w, r, http.StatusBadRequest, "BAD_REQUEST", err.Error(), nil)
		return
	}
	var req userStatusRequest
	if err := decodeJSON(r, &req); err != nil {
		badRequest(w, r, err)
		return
	}
	if req.Active == nil {
		response.Error(w, r, http.StatusBadRequest, "BAD_REQUEST", "active is required", nil)
		return
	}
	user, revoked, err := h.users.SetActive(r.Context(), id, *req.Active)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	observability.Audit(r, "admin.user.status_set", "actor_id", actorID(r), "user_id", id, "active", *req.Active, "sessions_revoked", revoked)
	response.JSON(w, r, http.StatusOK, map[string]any{"user": user, "sessions_revoked": revoked})
}

func (h *AdminHandler) DeleteUser(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		response.Error(w, r, http.StatusBadRequest, "BAD_REQUEST", err.Error(), nil)
		return
	}
	if err := h.users.DeleteUser(r.Context(), id); err != nil {
		writeServiceError(w, r, err)
		return
	}
	observability.Audit(r, "admin.user.deleted", "actor_id", actorID(r), "user_id", id)
	response.JSON(w, r, http.StatusOK, map[string]uint{"deleted": id})
}

func (h *AdminHandler) SetUserRoles(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		response.Error(w, r, http.StatusBadRequest, "BAD_REQUEST", err.Error(), nil)
		return
	}
	var req userRolesRequest
	if err := decodeJSON(r, &req); err != nil {
		badRequest(w, r, err)
		return
	}
	if err := h.rbac.SetUserRoles(r.Context(), id, req.RoleIDs); err != nil {
		writeServiceError(w, r, err)
		return
	}
	observability.Audit(r, "admin.user.roles_set", "actor_id", actorID(r), "user_id", id, "role_ids", req.RoleIDs)
	response.JSON(w, r, http.StatusOK, map[string]any{"user_id": id, "role_ids": req.RoleIDs})
}

func (h *AdminHandler) ListRoles(w http.ResponseWriter, r *http.Request) {
	res, err := h.rbac.ListRoles(r.Context(), pageRequest(r), r.URL.Query().Get("name"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	response.Page(w, r, res)
}

func (h *AdminHandler) GetRole(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		response.Error(w, r, http.StatusBadRequest, "BAD_REQUEST", err.Error(), nil)
		return
	}
	role, err := h.rbac.GetRole(r.Context(), id)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	response.JSON(w, r, http.StatusOK, role)
}

func (h *AdminHandler) CreateRole(w http.ResponseWriter, r *http.Request) {
	var req roleRequest
	if err := decodeJSON(r, &req); err != nil {
		badRequest(w, r, err)
		return
	}
	role, err := h.rbac.CreateRole(r.Context(), service.RoleInput{Name: req.Name, Description: req.Description, IsDefault: req.IsDefault}, req.Permissions)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	observability.Audit(r, "admin.role.created", "actor_id", actorID(r), "role_id", role.ID, "role", role.Name)
	response.JSON(w, r, http.StatusCreated, role)
}

func (h *AdminHandler) UpdateRole(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		response.Error(w, r, http.StatusBadRequest, "BAD_REQUEST", err.Error(), nil)
		return
	}
	var req rolePatchRequest
	if err := decodeJSON(r, &req); err != nil {
		badRequest(w, r, err)
		return
	}
	role, err := h.rbac.UpdateRole(r.Context(), id, service.RolePatch{Name: req.Name, Description: req.Description, IsDefault: req.IsDefault})
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	observability.Audit(r, "admin.role.updated", "actor_id", actorID(r), "role_id", role.ID)
	response.JSON(w, r, http.StatusOK, role)
}

func (h *AdminHandler) DeleteRole(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		response.Error(w, r, http.StatusBadRequest, "BAD_REQUEST", err.Error(), nil)
		return
	}
	if err := h.rbac.DeleteRole(r.Context(), id); err != nil {
		writeServiceError(w, r, err)
		return
	}
	observability.Audit(r, "admin.role.deleted", "actor_id", actorID(r), "role_id", id)
	response.JSON(w, r, http.StatusOK, map[string]uint{"deleted": id})
}

// SetRolePermissions replaces the role's permission set.
func (h *AdminHandler) SetRolePermissions(w http.ResponseWriter, r *http.Request) {
	h.changeRolePermissions(w, r, true)
}

// GrantRolePermissions adds codes to the role, keeping existing grants.
func (h *AdminHandler) GrantRolePermissions(w http.ResponseWriter, r *http.Request) {
	h.changeRolePermissions(w, r, false)
}

func (h *AdminHandler) changeRolePermissions(w http.ResponseWriter, r *http.Request, replace bool) {
	id, err := pathID(r, "id")
	if err != nil {
		response.Error(w, r, http.StatusBadRequest, "BAD_REQUEST", err.Error(), nil)
		return
	}
	var req rolePermissionsRequest
	if err := decodeJSON(r, &req); err != nil {
		badRequest(w, r, err)
		return
	}
	action := "grant_permissions"
	if replace {
		action = "set_permissions"
		err = h.rbac.SetRolePermissions(r.Context(), id, req.Permissions)
	} else {
		err = h.rbac.AssignPermissions(r.Context(), id, req.Permissions)
	}
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	role, err := h.rbac.GetRole(r.Context(), id)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	observability.Audit(r, "admin.role."+action, "actor_id", actorID(r), "role_id", id, "permissions", req.Permissions)
	response.JSON(w, r, http.StatusOK, role)
}

func (h *AdminHandler) ListPermissions(w http.ResponseWriter, r *http.Request) {
	system, err := boolQuery(r, "system")
	if err != nil {
		response.Error(w, r, http.StatusBadRequest, "BAD_REQUEST", err.Error(), nil)
		return
	}
	active, err := boolQuery(r, "active")
	if err != nil {
		response.Error(w, r, http.StatusBadRequest, "BAD_REQUEST", err.Error(), nil)
		return
	}
	q := r.URL.Query()
	res, err := h.rbac.ListPermissions(r.Context(), repository.PermissionListQuery{
		PageRequest: pageRequest(r),
		Resource:    q.Get("resource"),
		Module:      q.Get("module"),
		System:      system,
		Active:      active,
	})
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	response.Page(w, r, res)
}

func (h *AdminHandler) CreatePermission(w http.ResponseWriter, r *http.Request) {
	var req permissionRequest
	if err := decodeJSON(r, &req); err != nil {
		badRequest(w, r, err)
		return
	}
	perm, err := h.rbac.CreatePermission(r.Context(), service.PermissionInput{Resource: req.Resource, Action: req.Action, Description: req.Description})
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	observability.Audit(r, "admin.permission.created", "actor_id", actorID(r), "code", perm.Code)
	response.JSON(w, r, http.StatusCreated, perm)
}

func (h *AdminHandler) DeletePermission(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		response.Error(w, r, http.StatusBadRequest, "BAD_REQUEST", err.Error(), nil)
		return
	}
	if err := h.rbac.DeletePermission(r.Context(), id); err != nil {
		writeServiceError(w, r, err)
		return
	}
	observability.Audit(r, "admin.permission.deleted", "actor_id", actorID(r), "permission_id", id)
	response.JSON(w, r, http.StatusOK, map[string]uint{"deleted": id})
}

// SyncPermissions reconciles the catalog against the endpoint manifest.
// With dry_run=true only the plan is returned.
func (h *AdminHandler) SyncPermissions(w http.ResponseWriter, r *http.Request) {
	dryRun, _ := strconv.ParseBool(r.URL.Query().Get("dry_run"))
	ops := h.operations()
	if dryRun {
		plan, err := h.reconciler.Plan(r.Context(), ops)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		response.JSON(w, r, http.StatusOK, map[string]any{"dry_run": true, "plan": plan})
		return
	}
	plan, result, err := h.reconciler.Reconcile(r.Context(), ops)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	granted := 0
	if result.Changed() {
		if granted, err = h.rbac.GrantAllActiveToAdmin(r.Context()); err != nil {
			writeServiceError(w, r, err)
			return
		}
	}
	observability.Audit(r, "admin.permissions.synced", "actor_id", actorID(r),
		"created", result.Created, "reactivated", result.Reactivated, "deactivated", result.Deactivated)
	response.JSON(w, r, http.StatusOK, map[string]any{"dry_run": false, "plan": plan, "result": result, "admin_granted": granted})
}

// CreateAPIKey registers a key for a calling service. The raw key is only
// returned in this response.
func (h *AdminHandler) CreateAPIKey(w http.ResponseWriter, r *http.Request) {
	var req apiKeyRequest
	if err := decodeJSON(r, &req); err != nil {
		badRequest(w, r, err)
		return
	}
	raw, err := newAPIKey()
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	key, err := h.apiKeys.Register(r.Context(), req.ServiceID, raw, req.Permissions)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	observability.Audit(r, "admin.api_key.created", "actor_id", actorID(r), "service_id", key.ServiceID, "key_id", key.ID)
	response.JSON(w, r, http.StatusCreated, map[string]any{"api_key": raw, "key": key})
}

func newAPIKey() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return "ak_" + strings.TrimRight(base64.RawURLEncoding.EncodeToString(buf), "="), nil
}

func actorID(r *http.Request) uint {
	if p, ok := middleware.PrincipalFromContext(r.Context()); ok {
		return p.UserID
	}
	return 0
}

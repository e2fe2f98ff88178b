package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/sandeepkv93/secure-auth-core/internal/domain"
	"github.com/sandeepkv93/secure-auth-core/internal/observability"
	"github.com/sandeepkv93/secure-auth-core/internal/permission"
	"github.com/sandeepkv93/secure-auth-core/internal/repository"
)

// permissionLoadTimeout bounds a shared permission load. The load outlives any
// single caller, so it cannot use a caller's deadline.
const permissionLoadTimeout = 5 * time.Second

const (
	TopicUserCreated        = "user.created"
	TopicPermissionsChanged = "permissions.changed"
)

// PermissionsChangedEvent is published whenever the effective permissions of
// a set of users may have changed.
type PermissionsChangedEvent struct {
	RoleID  uint   `json:"role_id,omitempty"`
	Reason  string `json:"reason"`
	UserIDs []uint `json:"user_ids"`
}

type RoleInput struct {
	Name        string
	Description string
	IsDefault   bool
}

// RolePatch changes only the fields that are set.
type RolePatch struct {
	Name        *string
	Description *string
	IsDefault   *bool
}

func (p RolePatch) empty() bool {
	return p.Name == nil && p.Description == nil && p.IsDefault == nil
}

type PermissionInput struct {
	Resource    string
	Action      string
	Description string
}

type RBACService struct {
	roles     repository.RoleRepository
	perms     repository.PermissionRepository
	users     repository.UserRepository
	snapshots PermissionSnapshotStore
	events    EventPublisher
	loads     singleflight.Group
	loadLimit time.Duration
	logger    *slog.Logger
}

func NewRBACService(roles repository.RoleRepository, perms repository.PermissionRepository, users repository.UserRepository, snapshots PermissionSnapshotStore, events EventPublisher, logger *slog.Logger) *RBACService {
	if snapshots == nil {
		snapshots = NoopPermissionSnapshotStore{}
	}
	if events == nil {
		events = NoopEventPublisher{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &RBACService{roles: roles, perms: perms, users: users, snapshots: snapshots, events: events, loadLimit: permissionLoadTimeout, logger: logger}
}

// EffectivePermissions returns the sorted, de-duplicated codes of every active
// permission granted through any of the user's roles. Concurrent loads for the
// same user share one query. A caller that gives up stops waiting without
// failing the others.
func (s *RBACService) EffectivePermissions(ctx context.Context, userID uint) ([]string, error) {
	ch := s.loads.DoChan(strconv.FormatUint(uint64(userID), 10), func() (any, error) {
		loadCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.loadLimit)
		defer cancel()
		return s.perms.ListEffectiveCodesByUserID(loadCtx, userID)
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		codes := res.Val.([]string)
		return append([]string{}, codes...), nil
	}
}

// AssignPermissions adds the permissions named by codes to the role. Pairs
// that already exist are left untouched.
func (s *RBACService) AssignPermissions(ctx context.Context, roleID uint, codes []string) error {
	role, err := s.findRole(ctx, roleID)
	if err != nil {
		return err
	}
	if role.IsSystem {
		return ErrSystemEntityImmutable
	}
	ids, err := s.permissionIDs(ctx, codes)
	if err != nil {
		return err
	}
	if err := s.roles.AppendPermissions(ctx, role.ID, ids); err != nil {
		return mapRepoError(err)
	}
	observability.RecordAdminRoleMutation(ctx, "assign_permissions")
	s.permissionsChanged(ctx, []uint{role.ID}, "role_permissions_assigned")
	return nil
}

// SetRolePermissions replaces the role's permission set. System roles are
// immutable.
func (s *RBACService) SetRolePermissions(ctx context.Context, roleID uint, codes []string) error {
	role, err := s.findRole(ctx, roleID)
	if err != nil {
		return err
	}
	if role.IsSystem {
		return ErrSystemEntityImmutable
	}
	ids, err := s.permissionIDs(ctx, codes)
	if err != nil {
		return err
	}
	if err := s.roles.ReplacePermissions(ctx, role.ID, ids); err != nil {
		return mapRepoError(err)
	}
	observability.RecordAdminRoleMutation(ctx, "set_permissions")
	s.permissionsChanged(ctx, []uint{role.ID}, "role_permissions_replaced")
	return nil
}

// EnsureRole returns the role named name, creating an empty custom role when
// it does not exist. A concurrent creator wins and its row is returned.
func (s *RBACService) EnsureRole(ctx context.Context, name string) (*domain.Role, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, invalidInput("role name is required")
	}
	role, err := s.roles.FindByName(ctx, name)
	if err == nil {
		return role, nil
	}
	if !errors.Is(err, repository.ErrRoleNotFound) {
		return nil, err
	}
	role = &domain.Role{Name: name, Type: domain.RoleTypeCustom}
	if err := s.roles.Create(ctx, role); err != nil {
		if repository.IsUniqueViolation(err) {
			return s.roles.FindByName(ctx, name)
		}
		return nil, err
	}
	return role, nil
}

func (s *RBACService) GetRole(ctx context.Context, id uint) (*domain.Role, error) {
	return s.findRole(ctx, id)
}

func (s *RBACService) ListRoles(ctx context.Context, req repository.PageRequest, name string) (repository.PageResult[domain.Role], error) {
	return s.roles.ListPaged(ctx, req, strings.TrimSpace(name))
}

func (s *RBACService) CreateRole(ctx context.Context, in RoleInput, codes []string) (*domain.Role, error) {
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return nil, invalidInput("role name is required")
	}
	var perms []domain.Permission
	if len(codes) > 0 {
		ids, err := s.permissionIDs(ctx, codes)
		if err != nil {
			return nil, err
		}
		for _, id := range ids {
			perms = append(perms, domain.Permission{ID: id})
		}
	}
	if in.IsDefault {
		if err := s.canTakeDefault(ctx, 0); err != nil {
			return nil, err
		}
	}
	role := &domain.Role{
		Name:        name,
		Description: strings.TrimSpace(in.Description),
		Type:        domain.RoleTypeCustom,
		IsDefault:   in.IsDefault,
		Permissions: perms,
	}
	if err := s.roles.Create(ctx, role); err != nil {
		return nil, mapRepoError(err)
	}
	observability.RecordAdminRoleMutation(ctx, "create")
	return s.findRole(ctx, role.ID)
}

// UpdateRole applies patch to the role. System roles keep their name and
// default flag. The default flag can only move to another role, never be
// dropped, so registration always has a role to hand out.
func (s *RBACService) UpdateRole(ctx context.Context, id uint, patch RolePatch) (*domain.Role, error) {
	if patch.empty() {
		return nil, invalidInput("no role fields to update")
	}
	role, err := s.findRole(ctx, id)
	if err != nil {
		return nil, err
	}
	name, description, isDefault := role.Name, role.Description, role.IsDefault
	if patch.Name != nil {
		if name = strings.TrimSpace(*patch.Name); name == "" {
			return nil, invalidInput("role name must not be empty")
		}
	}
	if patch.Description != nil {
		description = strings.TrimSpace(*patch.Description)
	}
	if patch.IsDefault != nil {
		isDefault = *patch.IsDefault
	}
	if role.IsSystem && (name != role.Name || isDefault != role.IsDefault) {
		return nil, ErrSystemEntityImmutable
	}
	switch {
	case role.IsDefault && !isDefault:
		return nil, invalidInput("the default role cannot be unset; mark another role as default instead")
	case isDefault && !role.IsDefault:
		if err := s.canTakeDefault(ctx, role.ID); err != nil {
			return nil, err
		}
	}
	role.Name = name
	role.Description = description
	role.IsDefault = isDefault
	if err := s.roles.Update(ctx, role); err != nil {
		return nil, mapRepoError(err)
	}
	observability.RecordAdminRoleMutation(ctx, "update")
	return s.findRole(ctx, id)
}

func (s *RBACService) DeleteRole(ctx context.Context, id uint) error {
	role, err := s.findRole(ctx, id)
	if err != nil {
		return err
	}
	if role.IsSystem {
		return ErrSystemEntityImmutable
	}
	affected, err := s.users.ListIDsByRoleIDs(ctx, []uint{id})
	if err != nil {
		return err
	}
	if err := s.roles.DeleteByID(ctx, id); err != nil {
		return mapRepoError(err)
	}
	observability.RecordAdminRoleMutation(ctx, "delete")
	s.invalidateUsers(ctx, id, affected, "role_deleted")
	return nil
}

// CreatePermission adds a manually managed code. The reconciler never touches
// such codes.
func (s *RBACService) CreatePermission(ctx context.Context, in PermissionInput) (*domain.Permission, error) {
	req := permission.Require(strings.ToLower(in.Resource), strings.ToLower(in.Action))
	if !req.Valid() {
		return nil, invalidInput("resource and action are required and must not contain ':'")
	}
	p := &domain.Permission{
		Code:        req.Code(),
		Name:        permission.DisplayName(req.Resource, req.Action),
		Description: strings.TrimSpace(in.Description),
		Scope:       domain.PermissionScopeResource,
		Resource:    req.Resource,
		Action:      req.Action,
		IsSystem:    false,
		IsActive:    true,
	}
	if err := s.perms.Create(ctx, p); err != nil {
		return nil, mapRepoError(err)
	}
	return p, nil
}

func (s *RBACService) DeletePermission(ctx context.Context, id uint) error {
	p, err := s.perms.FindByID(ctx, id)
	if err != nil {
		return mapRepoError(err)
	}
	if p.IsSystem {
		return ErrSystemEntityImmutable
	}
	if err := s.perms.DeleteByID(ctx, id); err != nil {
		return mapRepoError(err)
	}
	// Role membership of the deleted code is unknown at this point.
	if err := s.snapshots.InvalidateAll(ctx); err != nil {
		s.logger.WarnContext(ctx, "permission snapshot invalidation failed", "error", err)
	}
	return nil
}

func (s *RBACService) ListPermissions(ctx context.Context, query repository.PermissionListQuery) (repository.PageResult[domain.Permission], error) {
	return s.perms.ListPaged(ctx, query)
}

func (s *RBACService) ListUsers(ctx context.Context, query repository.UserListQuery) (repository.PageResult[domain.User], error) {
	return s.users.ListPaged(ctx, query)
}

func (s *RBACService) SetUserRoles(ctx context.Context, userID uint, roleIDs []uint) error {
	if err := s.users.SetRoles(ctx, userID, roleIDs); err != nil {
		return mapRepoError(err)
	}
	observability.RecordAdminRoleMutation(ctx, "set_user_roles")
	s.invalidateUsers(ctx, 0, []uint{userID}, "user_roles_replaced")
	return nil
}

// AssignRoleByName grants an existing role to a user.
func (s *RBACService) AssignRoleByName(ctx context.Context, userID uint, name string) error {
	role, err := s.roles.FindByName(ctx, name)
	if err != nil {
		return mapRepoError(err)
	}
	if err := s.users.AddRole(ctx, userID, role.ID); err != nil {
		return err
	}
	s.invalidateUsers(ctx, role.ID, []uint{userID}, "user_role_added")
	return nil
}

func (s *RBACService) DefaultRole(ctx context.Context) (*domain.Role, error) {
	role, err := s.roles.FindDefault(ctx)
	if err != nil {
		return nil, mapRepoError(err)
	}
	return role, nil
}

// SeedSystemRoles makes sure the system admin role and the system default user
// role exist.
func (s *RBACService) SeedSystemRoles(ctx context.Context) error {
	seeds := []domain.Role{
		{Name: domain.RoleAdmin, Description: "Full administrative access", Type: domain.RoleTypeSystem, IsSystem: true},
		{Name: domain.RoleUser, Description: "Default role for registered users", Type: domain.RoleTypeSystem, IsSystem: true, IsDefault: true},
	}
	for i := range seeds {
		seed := seeds[i]
		if _, err := s.roles.FindByName(ctx, seed.Name); err == nil {
			continue
		} else if !errors.Is(err, repository.ErrRoleNotFound) {
			return err
		}
		if seed.IsDefault {
			if _, err := s.roles.FindDefault(ctx); err == nil {
				seed.IsDefault = false
			}
		}
		if err := s.roles.Create(ctx, &seed); err != nil && !repository.IsUniqueViolation(err) {
			return fmt.Errorf("seed role %s: %w", seed.Name, err)
		}
	}
	return nil
}

// GrantAllActiveToAdmin links every active permission to the admin role.
func (s *RBACService) GrantAllActiveToAdmin(ctx context.Context) (int, error) {
	admin, err := s.roles.FindByName(ctx, domain.RoleAdmin)
	if err != nil {
		return 0, mapRepoError(err)
	}
	active, err := s.perms.ListActive(ctx)
	if err != nil {
		return 0, err
	}
	held := make(map[uint]struct{}, len(admin.Permissions))
	for _, p := range admin.Permissions {
		held[p.ID] = struct{}{}
	}
	ids := make([]uint, 0, len(active))
	for _, p := range active {
		if _, ok := held[p.ID]; !ok {
			ids = append(ids, p.ID)
		}
	}
	if len(ids) == 0 {
		return 0, nil
	}
	if err := s.roles.AppendPermissions(ctx, admin.ID, ids); err != nil {
		return 0, err
	}
	s.permissionsChanged(ctx, []uint{admin.ID}, "admin_grant")
	return len(ids), nil
}

// canTakeDefault refuses to move the default flag away from a system role.
func (s *RBACService) canTakeDefault(ctx context.Context, roleID uint) error {
	current, err := s.roles.FindDefault(ctx)
	if errors.Is(err, repository.ErrRoleNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if current.IsSystem && current.ID != roleID {
		return ErrSystemEntityImmutable
	}
	return nil
}

func (s *RBACService) findRole(ctx context.Context, id uint) (*domain.Role, error) {
	role, err := s.roles.FindByID(ctx, id)
	if err != nil {
		return nil, mapRepoError(err)
	}
	return role, nil
}

func (s *RBACService) permissionIDs(ctx context.Context, codes []string) ([]uint, error) {
	codes = permission.Normalize(codes)
	if len(codes) == 0 {
		return nil, nil
	}
	for _, code := range codes {
		if _, err := permission.ParseCode(code); err != nil {
			return nil, invalidInput("%v", err)
		}
	}
	found, err := s.perms.FindByCodes(ctx, codes)
	if err != nil {
		return nil, err
	}
	byCode := make(map[string]uint, len(found))
	for _, p := range found {
		byCode[p.Code] = p.ID
	}
	ids := make([]uint, 0, len(codes))
	var unknown []string
	for _, code := range codes {
		id, ok := byCode[code]
		if !ok {
			unknown = append(unknown, code)
			continue
		}
		ids = append(ids, id)
	}
	if len(unknown) > 0 {
		return nil, fmt.Errorf("%w: unknown permission codes: %s", ErrNotFound, strings.Join(unknown, ", "))
	}
	return ids, nil
}

func (s *RBACService) permissionsChanged(ctx context.Context, roleIDs []uint, reason string) {
	users, err := s.users.ListIDsByRoleIDs(ctx, roleIDs)
	if err != nil {
		s.logger.WarnContext(ctx, "affected user lookup failed, invalidating all snapshots", "error", err)
		if err := s.snapshots.InvalidateAll(ctx); err != nil {
			s.logger.WarnContext(ctx, "permission snapshot invalidation failed", "error", err)
		}
		return
	}
	var roleID uint
	if len(roleIDs) == 1 {
		roleID = roleIDs[0]
	}
	s.invalidateUsers(ctx, roleID, users, reason)
}

func (s *RBACService) invalidateUsers(ctx context.Context, roleID uint, userIDs []uint, reason string) {
	if len(userIDs) > 0 {
		if err := s.snapshots.InvalidateUsers(ctx, userIDs...); err != nil {
			s.logger.WarnContext(ctx, "permission snapshot invalidation failed", "users", len(userIDs), "error", err)
		}
	}
	evt := PermissionsChangedEvent{RoleID: roleID, Reason: reason, UserIDs: userIDs}
	if err := s.events.Publish(ctx, TopicPermissionsChanged, evt); err != nil {
		s.logger.WarnContext(ctx, "permissions changed publish failed", "error", err)
	}
}

func mapRepoError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, repository.ErrUserNotFound),
		errors.Is(err, repository.ErrRoleNotFound),
		errors.Is(err, repository.ErrPermissionNotFound),
		errors.Is(err, repository.ErrSessionNotFound),
		errors.Is(err, repository.ErrAPIKeyNotFound):
		return fmt.Errorf("%w: %v", ErrNotFound, err)
	case repository.IsUniqueViolation(err):
		return fmt.Errorf("%w: %v", ErrConflict, err)
	default:
		return err
	}
}

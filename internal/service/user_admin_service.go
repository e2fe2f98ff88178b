package service

import (
	"context"
	"log/slog"

	"github.com/sandeepkv93/secure-auth-core/internal/domain"
	"github.com/sandeepkv93/secure-auth-core/internal/observability"
	"github.com/sandeepkv93/secure-auth-core/internal/repository"
)

// UserAdminService covers the account lifecycle actions of the admin API.
// Disabling or deleting an account ends all of its sessions.
type UserAdminService struct {
	users     repository.UserRepository
	sessions  *SessionRegistry
	snapshots PermissionSnapshotStore
	logger    *slog.Logger
}

func NewUserAdminService(users repository.UserRepository, sessions *SessionRegistry, snapshots PermissionSnapshotStore, logger *slog.Logger) *UserAdminService {
	if snapshots == nil {
		snapshots = NoopPermissionSnapshotStore{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &UserAdminService{users: users, sessions: sessions, snapshots: snapshots, logger: logger}
}

func (s *UserAdminService) GetUser(ctx context.Context, id uint) (*domain.User, error) {
	user, err := s.users.FindByID(ctx, id)
	if err != nil {
		return nil, mapRepoError(err)
	}
	return user, nil
}

// SetActive enables or disables the account. Disabling revokes every session
// and reports how many were revoked.
func (s *UserAdminService) SetActive(ctx context.Context, id uint, active bool) (*domain.User, int, error) {
	user, err := s.GetUser(ctx, id)
	if err != nil {
		return nil, 0, err
	}
	if user.IsActive == active {
		return user, 0, nil
	}
	if !active {
		if err := s.keepOneAdmin(ctx, user); err != nil {
			return nil, 0, err
		}
	}
	if err := s.users.SetActive(ctx, id, active); err != nil {
		return nil, 0, mapRepoError(err)
	}
	revoked := 0
	if !active {
		if revoked, err = s.endSessions(ctx, id, RevokeReasonUserDisabled); err != nil {
			return nil, 0, err
		}
	}
	observability.RecordAdminRoleMutation(ctx, "set_user_active")
	s.logger.InfoContext(ctx, "user status changed", "user_id", id, "active", active, "sessions_revoked", revoked)
	user.IsActive = active
	return user, revoked, nil
}

// DeleteUser removes the account after revoking its sessions, so access
// tokens still in flight are rejected too.
func (s *UserAdminService) DeleteUser(ctx context.Context, id uint) error {
	user, err := s.GetUser(ctx, id)
	if err != nil {
		return err
	}
	if user.IsActive {
		if err := s.keepOneAdmin(ctx, user); err != nil {
			return err
		}
	}
	if _, err := s.endSessions(ctx, id, RevokeReasonUserDeleted); err != nil {
		return err
	}
	if err := s.users.DeleteByID(ctx, id); err != nil {
		return mapRepoError(err)
	}
	observability.RecordAdminRoleMutation(ctx, "delete_user")
	s.logger.InfoContext(ctx, "user deleted", "user_id", id)
	return nil
}

// keepOneAdmin refuses to take away the last active admin account.
func (s *UserAdminService) keepOneAdmin(ctx context.Context, user *domain.User) error {
	if !hasRole(user, domain.RoleAdmin) {
		return nil
	}
	n, err := s.users.CountActiveByRoleName(ctx, domain.RoleAdmin)
	if err != nil {
		return err
	}
	if n <= 1 {
		return ErrLastAdmin
	}
	return nil
}

func (s *UserAdminService) endSessions(ctx context.Context, userID uint, reason string) (int, error) {
	n, err := s.sessions.RevokeAllForUser(ctx, userID, 0, reason)
	if err != nil {
		return 0, unavailable("session revocation", err)
	}
	if err := s.snapshots.InvalidateUsers(ctx, userID); err != nil {
		s.logger.WarnContext(ctx, "permission snapshot invalidation failed", "user_id", userID, "error", err)
	}
	return n, nil
}

func hasRole(user *domain.User, name string) bool {
	for _, r := range user.Roles {
		if r.Name == name {
			return true
		}
	}
	return false
}

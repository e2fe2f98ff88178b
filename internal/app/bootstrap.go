package app

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/sandeepkv93/secure-auth-core/internal/domain"
	"github.com/sandeepkv93/secure-auth-core/internal/permission"
	"github.com/sandeepkv93/secure-auth-core/internal/repository"
	"github.com/sandeepkv93/secure-auth-core/internal/service"
)

// Bootstrapper prepares the role and permission catalog before the server
// accepts traffic.
type Bootstrapper struct {
	RBAC       *service.RBACService
	Reconciler *service.PermissionReconciler
	Users      repository.UserRepository
	Operations []permission.Operation
	AdminEmail string
	Reconcile  bool
	Logger     *slog.Logger
}

func (b *Bootstrapper) Run(ctx context.Context) error {
	if err := b.RBAC.SeedSystemRoles(ctx); err != nil {
		return err
	}
	if b.Reconcile {
		plan, result, err := b.Reconciler.Reconcile(ctx, b.Operations)
		if err != nil {
			return err
		}
		b.Logger.Info("permission catalog reconciled",
			"created", result.Created,
			"existing", result.Existing,
			"reactivated", result.Reactivated,
			"deactivated", result.Deactivated,
			"unchanged", plan.Unchanged,
			"duplicates", len(plan.Duplicates),
		)
	}
	granted, err := b.RBAC.GrantAllActiveToAdmin(ctx)
	if err != nil {
		return err
	}
	if granted > 0 {
		b.Logger.Info("admin role granted new permissions", "count", granted)
	}
	return b.promoteAdmin(ctx)
}

func (b *Bootstrapper) promoteAdmin(ctx context.Context) error {
	if b.AdminEmail == "" {
		return nil
	}
	user, err := b.Users.FindByEmail(ctx, b.AdminEmail, false)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			b.Logger.Warn("bootstrap admin not registered yet", "email", b.AdminEmail)
			return nil
		}
		return err
	}
	for _, r := range user.Roles {
		if r.Name == domain.RoleAdmin {
			return nil
		}
	}
	if err := b.RBAC.AssignRoleByName(ctx, user.ID, domain.RoleAdmin); err != nil {
		return err
	}
	b.Logger.Info("bootstrap admin promoted", "user_id", user.ID)
	return nil
}

// SessionSweeper periodically deletes expired sessions and revoked ones past
// their retention.
type SessionSweeper struct {
	Registry *service.SessionRegistry
	Interval time.Duration
	Logger   *slog.Logger
}

func (s *SessionSweeper) Run(ctx context.Context) {
	if s.Interval <= 0 {
		return
	}
	ticker := time.NewTicker(s.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := s.Registry.SweepExpired(ctx)
			if err != nil {
				if ctx.Err() == nil {
					s.Logger.Warn("session sweep failed", "error", err)
				}
				continue
			}
			if n > 0 {
				s.Logger.Info("sessions swept", "count", n)
			}
		}
	}
}

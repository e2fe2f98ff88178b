package repository

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/sandeepkv93/secure-auth-core/internal/domain"
	"github.com/sandeepkv93/secure-auth-core/internal/observability"

	"gorm.io/gorm"
)

var ErrUserNotFound = errors.New("user not found")

type UserListQuery struct {
	PageRequest
	SortBy    string
	SortOrder string
	Email     string
	Active    *bool
	Role      string
}

type UserRepository interface {
	FindByID(ctx context.Context, id uint) (*domain.User, error)
	FindByEmail(ctx context.Context, email string, includeSecret bool) (*domain.User, error)
	Create(ctx context.Context, user *domain.User) error
	IncrementFailedAttempts(ctx context.Context, id uint) error
	SetVerified(ctx context.Context, id uint) error
	SetLastLogin(ctx context.Context, id uint, at time.Time) error
	SetActive(ctx context.Context, id uint, active bool) error
	DeleteByID(ctx context.Context, id uint) error
	CountActiveByRoleName(ctx context.Context, role string) (int64, error)
	ListPaged(ctx context.Context, query UserListQuery) (PageResult[domain.User], error)
	ListIDsByRoleIDs(ctx context.Context, roleIDs []uint) ([]uint, error)
	SetRoles(ctx context.Context, userID uint, roleIDs []uint) error
	AddRole(ctx context.Context, userID, roleID uint) error
}

type GormUserRepository struct{ db *gorm.DB }

func NewUserRepository(db *gorm.DB) UserRepository { return &GormUserRepository{db: db} }

func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func (r *GormUserRepository) FindByID(ctx context.Context, id uint) (*domain.User, error) {
	var u domain.User
	err := r.db.WithContext(ctx).Omit("password_hash").Preload("Roles.Permissions").First(&u, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		err = ErrUserNotFound
	}
	observability.RecordRepositoryOperation(ctx, "user", "find_by_id", outcome(err, ErrUserNotFound))
	if err != nil {
		return nil, err
	}
	return &u, nil
}

func (r *GormUserRepository) FindByEmail(ctx context.Context, email string, includeSecret bool) (*domain.User, error) {
	var u domain.User
	q := r.db.WithContext(ctx).Preload("Roles.Permissions")
	if !includeSecret {
		q = q.Omit("password_hash")
	}
	err := q.Where("email = ?", NormalizeEmail(email)).First(&u).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		err = ErrUserNotFound
	}
	observability.RecordRepositoryOperation(ctx, "user", "find_by_email", outcome(err, ErrUserNotFound))
	if err != nil {
		return nil, err
	}
	return &u, nil
}

func (r *GormUserRepository) Create(ctx context.Context, user *domain.User) error {
	user.Email = NormalizeEmail(user.Email)
	err := r.db.WithContext(ctx).Omit("Roles.*").Create(user).Error
	observability.RecordRepositoryOperation(ctx, "user", "create", outcome(err, nil))
	return err
}

func (r *GormUserRepository) IncrementFailedAttempts(ctx context.Context, id uint) error {
	err := r.updateColumns(ctx, "increment_failed_attempts", id, map[string]any{
		"failed_login_attempts": gorm.Expr("failed_login_attempts + ?", 1),
	})
	return err
}

func (r *GormUserRepository) SetVerified(ctx context.Context, id uint) error {
	return r.updateColumns(ctx, "set_verified", id, map[string]any{"email_verified": true})
}

func (r *GormUserRepository) SetLastLogin(ctx context.Context, id uint, at time.Time) error {
	return r.updateColumns(ctx, "set_last_login", id, map[string]any{
		"last_login_at":         at,
		"failed_login_attempts": 0,
	})
}

func (r *GormUserRepository) SetActive(ctx context.Context, id uint, active bool) error {
	return r.updateColumns(ctx, "set_active", id, map[string]any{"is_active": active})
}

// DeleteByID removes the user together with its role links and session rows.
func (r *GormUserRepository) DeleteByID(ctx context.Context, id uint) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		u := domain.User{ID: id}
		if err := tx.Model(&u).Association("Roles").Clear(); err != nil {
			return err
		}
		if err := tx.Where("user_id = ?", id).Delete(&domain.Session{}).Error; err != nil {
			return err
		}
		res := tx.Delete(&domain.User{}, id)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrUserNotFound
		}
		return nil
	})
	observability.RecordRepositoryOperation(ctx, "user", "delete", outcome(err, ErrUserNotFound))
	return err
}

// CountActiveByRoleName counts active users holding the named role.
func (r *GormUserRepository) CountActiveByRoleName(ctx context.Context, role string) (int64, error) {
	var n int64
	err := r.db.WithContext(ctx).Model(&domain.User{}).
		Joins("JOIN user_roles ur ON ur.user_id = users.id").
		Joins("JOIN roles r ON r.id = ur.role_id").
		Where("r.name = ? AND users.is_active = ?", role, true).
		Distinct("users.id").
		Count(&n).Error
	observability.RecordRepositoryOperation(ctx, "user", "count_active_by_role", outcome(err, nil))
	return n, err
}

func (r *GormUserRepository) updateColumns(ctx context.Context, op string, id uint, cols map[string]any) error {
	res := r.db.WithContext(ctx).Model(&domain.User{}).Where("id = ?", id).Updates(cols)
	err := res.Error
	if err == nil && res.RowsAffected == 0 {
		err = ErrUserNotFound
	}
	observability.RecordRepositoryOperation(ctx, "user", op, outcome(err, ErrUserNotFound))
	return err
}

func (r *GormUserRepository) ListPaged(ctx context.Context, query UserListQuery) (PageResult[domain.User], error) {
	req := query.PageRequest.Normalize()
	result := newPageResult[domain.User](req)

	base := r.db.WithContext(ctx).Model(&domain.User{})
	if query.Email != "" {
		base = base.Where("users.email LIKE ?", NormalizeEmail(query.Email)+"%")
	}
	if query.Active != nil {
		base = base.Where("users.is_active = ?", *query.Active)
	}
	if query.Role != "" {
		base = base.Joins("JOIN user_roles ur ON ur.user_id = users.id").
			Joins("JOIN roles r ON r.id = ur.role_id").
			Where("r.name = ?", query.Role)
	}

	countQuery := base.Session(&gorm.Session{})
	if query.Role != "" {
		countQuery = countQuery.Distinct("users.id")
	}
	var total int64
	if err := countQuery.Count(&total).Error; err != nil {
		observability.RecordRepositoryOperation(ctx, "user", "list_paged", "error")
		return PageResult[domain.User]{}, err
	}

	listQuery := base.Omit("password_hash").Preload("Roles")
	if query.Role != "" {
		listQuery = listQuery.Distinct("users.*")
	}
	if clause := orderClause("users", query.SortBy, query.SortOrder, "email", "created_at", "last_login_at"); clause != "" {
		listQuery = listQuery.Order(clause)
	}
	listQuery = listQuery.Order("users.id " + sortDirection(query.SortOrder))

	if err := listQuery.Offset(req.offset()).Limit(req.PageSize).Find(&result.Items).Error; err != nil {
		observability.RecordRepositoryOperation(ctx, "user", "list_paged", "error")
		return PageResult[domain.User]{}, err
	}
	result.setTotal(total)
	observability.RecordRepositoryOperation(ctx, "user", "list_paged", "success")
	return result, nil
}

func (r *GormUserRepository) ListIDsByRoleIDs(ctx context.Context, roleIDs []uint) ([]uint, error) {
	var ids []uint
	if len(roleIDs) == 0 {
		return ids, nil
	}
	err := r.db.WithContext(ctx).Table("user_roles").
		Distinct("user_id").
		Where("role_id IN ?", roleIDs).
		Pluck("user_id", &ids).Error
	observability.RecordRepositoryOperation(ctx, "user", "list_ids_by_role_ids", outcome(err, nil))
	return ids, err
}

func (r *GormUserRepository) SetRoles(ctx context.Context, userID uint, roleIDs []uint) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var u domain.User
		if err := tx.Select("id").First(&u, userID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrUserNotFound
			}
			return err
		}
		var roles []domain.Role
		if len(roleIDs) > 0 {
			if err := tx.Where("id IN ?", roleIDs).Find(&roles).Error; err != nil {
				return err
			}
			if len(roles) != len(uniqueIDs(roleIDs)) {
				return ErrRoleNotFound
			}
		}
		return tx.Model(&u).Association("Roles").Replace(roles)
	})
	observability.RecordRepositoryOperation(ctx, "user", "set_roles", outcome(err, ErrUserNotFound))
	return err
}

func (r *GormUserRepository) AddRole(ctx context.Context, userID, roleID uint) error {
	u := domain.User{ID: userID}
	role := domain.Role{ID: roleID}
	err := r.db.WithContext(ctx).Model(&u).Association("Roles").Append(&role)
	observability.RecordRepositoryOperation(ctx, "user", "add_role", outcome(err, nil))
	return err
}

func uniqueIDs(ids []uint) []uint {
	seen := make(map[uint]struct{}, len(ids))
	out := make([]uint, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

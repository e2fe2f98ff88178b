package repository

import (
	"context"
	"errors"

	"github.com/sandeepkv93/secure-auth-core/internal/domain"
	"github.com/sandeepkv93/secure-auth-core/internal/observability"

	"gorm.io/gorm"
)

var ErrPermissionNotFound = errors.New("permission not found")

type PermissionListQuery struct {
	PageRequest
	Resource string
	Module   string
	System   *bool
	Active   *bool
}

type PermissionRepository interface {
	List(ctx context.Context) ([]domain.Permission, error)
	ListActive(ctx context.Context) ([]domain.Permission, error)
	ListPaged(ctx context.Context, query PermissionListQuery) (PageResult[domain.Permission], error)
	FindByID(ctx context.Context, id uint) (*domain.Permission, error)
	FindByCode(ctx context.Context, code string) (*domain.Permission, error)
	FindByCodes(ctx context.Context, codes []string) ([]domain.Permission, error)
	ListEffectiveCodesByUserID(ctx context.Context, userID uint) ([]string, error)
	Create(ctx context.Context, permission *domain.Permission) error
	SetActive(ctx context.Context, ids []uint, active bool) (int64, error)
	DeleteByID(ctx context.Context, id uint) error
}

type GormPermissionRepository struct{ db *gorm.DB }

func NewPermissionRepository(db *gorm.DB) PermissionRepository {
	return &GormPermissionRepository{db: db}
}

func (r *GormPermissionRepository) List(ctx context.Context) ([]domain.Permission, error) {
	var perms []domain.Permission
	err := r.db.WithContext(ctx).Order("code ASC").Find(&perms).Error
	observability.RecordRepositoryOperation(ctx, "permission", "list", outcome(err, nil))
	return perms, err
}

func (r *GormPermissionRepository) ListActive(ctx context.Context) ([]domain.Permission, error) {
	var perms []domain.Permission
	err := r.db.WithContext(ctx).Where("is_active = ?", true).Order("code ASC").Find(&perms).Error
	observability.RecordRepositoryOperation(ctx, "permission", "list_active", outcome(err, nil))
	return perms, err
}

func (r *GormPermissionRepository) ListPaged(ctx context.Context, query PermissionListQuery) (PageResult[domain.Permission], error) {
	normalized := query.PageRequest.Normalize()
	result := newPageResult[domain.Permission](normalized)

	base := r.db.WithContext(ctx).Model(&domain.Permission{})
	if query.Resource != "" {
		base = base.Where("permissions.resource LIKE ?", query.Resource+"%")
	}
	if query.Module != "" {
		base = base.Where("permissions.module_name = ?", query.Module)
	}
	if query.System != nil {
		base = base.Where("permissions.is_system = ?", *query.System)
	}
	if query.Active != nil {
		base = base.Where("permissions.is_active = ?", *query.Active)
	}
	var total int64
	if err := base.Count(&total).Error; err != nil {
		observability.RecordRepositoryOperation(ctx, "permission", "list_paged", "error")
		return PageResult[domain.Permission]{}, err
	}

	if err := base.Order("permissions.code ASC").Offset(normalized.offset()).Limit(normalized.PageSize).Find(&result.Items).Error; err != nil {
		observability.RecordRepositoryOperation(ctx, "permission", "list_paged", "error")
		return PageResult[domain.Permission]{}, err
	}
	result.setTotal(total)
	observability.RecordRepositoryOperation(ctx, "permission", "list_paged", "success")
	return result, nil
}

func (r *GormPermissionRepository) FindByID(ctx context.Context, id uint) (*domain.Permission, error) {
	var p domain.Permission
	err := r.db.WithContext(ctx).First(&p, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		err = ErrPermissionNotFound
	}
	observability.RecordRepositoryOperation(ctx, "permission", "find_by_id", outcome(err, ErrPermissionNotFound))
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *GormPermissionRepository) FindByCode(ctx context.Context, code string) (*domain.Permission, error) {
	var p domain.Permission
	err := r.db.WithContext(ctx).Where("code = ?", code).First(&p).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		err = ErrPermissionNotFound
	}
	observability.RecordRepositoryOperation(ctx, "permission", "find_by_code", outcome(err, ErrPermissionNotFound))
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *GormPermissionRepository) FindByCodes(ctx context.Context, codes []string) ([]domain.Permission, error) {
	var perms []domain.Permission
	if len(codes) == 0 {
		observability.RecordRepositoryOperation(ctx, "permission", "find_by_codes", "success")
		return perms, nil
	}
	err := r.db.WithContext(ctx).Where("code IN ?", codes).Order("code ASC").Find(&perms).Error
	observability.RecordRepositoryOperation(ctx, "permission", "find_by_codes", outcome(err, nil))
	return perms, err
}

// ListEffectiveCodesByUserID returns the distinct active permission codes
// reachable through the user's roles.
func (r *GormPermissionRepository) ListEffectiveCodesByUserID(ctx context.Context, userID uint) ([]string, error) {
	var codes []string
	err := r.db.WithContext(ctx).Model(&domain.Permission{}).
		Distinct("permissions.code").
		Joins("JOIN role_permissions rp ON rp.permission_id = permissions.id").
		Joins("JOIN user_roles ur ON ur.role_id = rp.role_id").
		Where("ur.user_id = ? AND permissions.is_active = ?", userID, true).
		Order("permissions.code ASC").
		Pluck("permissions.code", &codes).Error
	observability.RecordRepositoryOperation(ctx, "permission", "list_effective_codes_by_user_id", outcome(err, nil))
	return codes, err
}

func (r *GormPermissionRepository) Create(ctx context.Context, permission *domain.Permission) error {
	err := r.db.WithContext(ctx).Create(permission).Error
	if IsUniqueViolation(err) {
		observability.RecordRepositoryOperation(ctx, "permission", "create", "conflict")
		return err
	}
	observability.RecordRepositoryOperation(ctx, "permission", "create", outcome(err, nil))
	return err
}

func (r *GormPermissionRepository) SetActive(ctx context.Context, ids []uint, active bool) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	res := r.db.WithContext(ctx).Model(&domain.Permission{}).
		Where("id IN ?", ids).
		Update("is_active", active)
	observability.RecordRepositoryOperation(ctx, "permission", "set_active", outcome(res.Error, nil))
	return res.RowsAffected, res.Error
}

func (r *GormPermissionRepository) DeleteByID(ctx context.Context, id uint) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Exec("DELETE FROM role_permissions WHERE permission_id = ?", id).Error; err != nil {
			return err
		}
		res := tx.Delete(&domain.Permission{}, id)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrPermissionNotFound
		}
		return nil
	})
	observability.RecordRepositoryOperation(ctx, "permission", "delete_by_id", outcome(err, ErrPermissionNotFound))
	return err
}

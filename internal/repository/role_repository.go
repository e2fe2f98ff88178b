package repository

import (
	"context"
	"errors"

	"github.com/sandeepkv93/secure-auth-core/internal/domain"
	"github.com/sandeepkv93/secure-auth-core/internal/observability"

	"gorm.io/gorm"
)

var ErrRoleNotFound = errors.New("role not found")

type RoleRepository interface {
	FindByID(ctx context.Context, id uint) (*domain.Role, error)
	FindByName(ctx context.Context, name string) (*domain.Role, error)
	FindDefault(ctx context.Context) (*domain.Role, error)
	List(ctx context.Context) ([]domain.Role, error)
	ListPaged(ctx context.Context, req PageRequest, name string) (PageResult[domain.Role], error)
	Create(ctx context.Context, role *domain.Role) error
	Update(ctx context.Context, role *domain.Role) error
	DeleteByID(ctx context.Context, id uint) error
	ReplacePermissions(ctx context.Context, roleID uint, permissionIDs []uint) error
	AppendPermissions(ctx context.Context, roleID uint, permissionIDs []uint) error
}

type GormRoleRepository struct{ db *gorm.DB }

func NewRoleRepository(db *gorm.DB) RoleRepository { return &GormRoleRepository{db: db} }

func (r *GormRoleRepository) FindByID(ctx context.Context, id uint) (*domain.Role, error) {
	var role domain.Role
	err := r.db.WithContext(ctx).Preload("Permissions").First(&role, id).Error
	return r.found(ctx, "find_by_id", &role, err)
}

func (r *GormRoleRepository) FindByName(ctx context.Context, name string) (*domain.Role, error) {
	var role domain.Role
	err := r.db.WithContext(ctx).Preload("Permissions").Where("name = ?", name).First(&role).Error
	return r.found(ctx, "find_by_name", &role, err)
}

func (r *GormRoleRepository) FindDefault(ctx context.Context) (*domain.Role, error) {
	var role domain.Role
	err := r.db.WithContext(ctx).Where("is_default = ?", true).Order("id ASC").First(&role).Error
	return r.found(ctx, "find_default", &role, err)
}

func (r *GormRoleRepository) found(ctx context.Context, op string, role *domain.Role, err error) (*domain.Role, error) {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		err = ErrRoleNotFound
	}
	observability.RecordRepositoryOperation(ctx, "role", op, outcome(err, ErrRoleNotFound))
	if err != nil {
		return nil, err
	}
	return role, nil
}

func (r *GormRoleRepository) List(ctx context.Context) ([]domain.Role, error) {
	var roles []domain.Role
	err := r.db.WithContext(ctx).Preload("Permissions").Order("id ASC").Find(&roles).Error
	observability.RecordRepositoryOperation(ctx, "role", "list", outcome(err, nil))
	return roles, err
}

func (r *GormRoleRepository) ListPaged(ctx context.Context, req PageRequest, name string) (PageResult[domain.Role], error) {
	normalized := req.Normalize()
	result := newPageResult[domain.Role](normalized)

	base := r.db.WithContext(ctx).Model(&domain.Role{})
	if name != "" {
		base = base.Where("roles.name LIKE ?", name+"%")
	}
	var total int64
	if err := base.Count(&total).Error; err != nil {
		observability.RecordRepositoryOperation(ctx, "role", "list_paged", "error")
		return PageResult[domain.Role]{}, err
	}

	if err := base.Preload("Permissions").Order("roles.id ASC").Offset(normalized.offset()).Limit(normalized.PageSize).Find(&result.Items).Error; err != nil {
		observability.RecordRepositoryOperation(ctx, "role", "list_paged", "error")
		return PageResult[domain.Role]{}, err
	}
	result.setTotal(total)
	observability.RecordRepositoryOperation(ctx, "role", "list_paged", "success")
	return result, nil
}

// Create inserts the role and its permission links. A default role clears the
// flag on every other role in the same transaction.
func (r *GormRoleRepository) Create(ctx context.Context, role *domain.Role) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if role.IsDefault {
			if err := clearDefault(tx, 0); err != nil {
				return err
			}
		}
		return tx.Omit("Permissions.*").Create(role).Error
	})
	observability.RecordRepositoryOperation(ctx, "role", "create", outcome(err, nil))
	return err
}

func (r *GormRoleRepository) Update(ctx context.Context, role *domain.Role) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if role.IsDefault {
			if err := clearDefault(tx, role.ID); err != nil {
				return err
			}
		}
		res := tx.Model(&domain.Role{}).Where("id = ?", role.ID).Updates(map[string]any{
			"name":        role.Name,
			"description": role.Description,
			"is_default":  role.IsDefault,
		})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrRoleNotFound
		}
		return nil
	})
	observability.RecordRepositoryOperation(ctx, "role", "update", outcome(err, ErrRoleNotFound))
	return err
}

func clearDefault(tx *gorm.DB, keepID uint) error {
	return tx.Model(&domain.Role{}).
		Where("is_default = ? AND id <> ?", true, keepID).
		Update("is_default", false).Error
}

func (r *GormRoleRepository) DeleteByID(ctx context.Context, id uint) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		role := domain.Role{ID: id}
		if err := tx.Model(&role).Association("Permissions").Clear(); err != nil {
			return err
		}
		if err := tx.Exec("DELETE FROM user_roles WHERE role_id = ?", id).Error; err != nil {
			return err
		}
		res := tx.Delete(&domain.Role{}, id)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrRoleNotFound
		}
		return nil
	})
	observability.RecordRepositoryOperation(ctx, "role", "delete_by_id", outcome(err, ErrRoleNotFound))
	return err
}

func (r *GormRoleRepository) ReplacePermissions(ctx context.Context, roleID uint, permissionIDs []uint) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		role, perms, err := loadRoleAndPermissions(tx, roleID, permissionIDs)
		if err != nil {
			return err
		}
		return tx.Model(role).Association("Permissions").Replace(perms)
	})
	observability.RecordRepositoryOperation(ctx, "role", "replace_permissions", outcome(err, ErrRoleNotFound))
	return err
}

// AppendPermissions adds links that are not present yet; existing pairs are
// left as they are.
func (r *GormRoleRepository) AppendPermissions(ctx context.Context, roleID uint, permissionIDs []uint) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		role, perms, err := loadRoleAndPermissions(tx, roleID, permissionIDs)
		if err != nil {
			return err
		}
		held := make(map[uint]struct{}, len(role.Permissions))
		for _, p := range role.Permissions {
			held[p.ID] = struct{}{}
		}
		missing := make([]domain.Permission, 0, len(perms))
		for _, p := range perms {
			if _, ok := held[p.ID]; !ok {
				missing = append(missing, p)
			}
		}
		if len(missing) == 0 {
			return nil
		}
		return tx.Model(role).Association("Permissions").Append(missing)
	})
	observability.RecordRepositoryOperation(ctx, "role", "append_permissions", outcome(err, ErrRoleNotFound))
	return err
}

func loadRoleAndPermissions(tx *gorm.DB, roleID uint, permissionIDs []uint) (*domain.Role, []domain.Permission, error) {
	var role domain.Role
	if err := tx.Preload("Permissions").First(&role, roleID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil, ErrRoleNotFound
		}
		return nil, nil, err
	}
	var perms []domain.Permission
	if len(permissionIDs) > 0 {
		if err := tx.Where("id IN ?", permissionIDs).Find(&perms).Error; err != nil {
			return nil, nil, err
		}
		if len(perms) != len(uniqueIDs(permissionIDs)) {
			return nil, nil, ErrPermissionNotFound
		}
	}
	return &role, perms, nil
}

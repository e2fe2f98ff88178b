package service

import (
	"context"
	"log/slog"
	"sort"
	"strings"

	"go.opentelemetry.io/otel/attribute"

	"github.com/sandeepkv93/secure-auth-core/internal/domain"
	"github.com/sandeepkv93/secure-auth-core/internal/observability"
	"github.com/sandeepkv93/secure-auth-core/internal/permission"
	"github.com/sandeepkv93/secure-auth-core/internal/repository"
)

// DuplicateDeclaration records a code declared by more than one operation.
// The first declaration wins.
type DuplicateDeclaration struct {
	Code    string `json:"code"`
	Kept    string `json:"kept"`
	Ignored string `json:"ignored"`
}

// ReconcilePlan is the diff between the declared operations and the catalog.
type ReconcilePlan struct {
	Create     []domain.Permission    `json:"create"`
	Reactivate []domain.Permission    `json:"reactivate"`
	Deactivate []domain.Permission    `json:"deactivate"`
	Duplicates []DuplicateDeclaration `json:"duplicates"`
	Unchanged  int                    `json:"unchanged"`
}

func (p ReconcilePlan) Empty() bool {
	return len(p.Create) == 0 && len(p.Reactivate) == 0 && len(p.Deactivate) == 0
}

type ReconcileResult struct {
	Created     int `json:"created"`
	Existing    int `json:"existing"`
	Reactivated int `json:"reactivated"`
	Deactivated int `json:"deactivated"`
}

func (r ReconcileResult) Changed() bool {
	return r.Created+r.Reactivated+r.Deactivated > 0
}

// PermissionReconciler keeps the system permission catalog equal to the set of
// codes required by the operations the process exposes. Manually created
// codes are never modified.
type PermissionReconciler struct {
	perms     repository.PermissionRepository
	snapshots PermissionSnapshotStore
	logger    *slog.Logger
}

func NewPermissionReconciler(perms repository.PermissionRepository, snapshots PermissionSnapshotStore, logger *slog.Logger) *PermissionReconciler {
	if snapshots == nil {
		snapshots = NoopPermissionSnapshotStore{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &PermissionReconciler{perms: perms, snapshots: snapshots, logger: logger}
}

func (r *PermissionReconciler) Plan(ctx context.Context, ops []permission.Operation) (ReconcilePlan, error) {
	declared, duplicates := r.declare(ctx, ops)
	existing, err := r.perms.List(ctx)
	if err != nil {
		return ReconcilePlan{}, err
	}
	byCode := make(map[string]domain.Permission, len(existing))
	for _, p := range existing {
		byCode[p.Code] = p
	}

	plan := ReconcilePlan{Duplicates: duplicates}
	for _, d := range declared {
		current, ok := byCode[d.Code]
		switch {
		case !ok:
			plan.Create = append(plan.Create, d)
		case current.IsSystem && !current.IsActive:
			plan.Reactivate = append(plan.Reactivate, current)
		default:
			plan.Unchanged++
		}
	}
	for _, p := range existing {
		if !p.IsSystem || !p.IsActive {
			continue
		}
		if _, ok := declared[p.Code]; !ok {
			plan.Deactivate = append(plan.Deactivate, p)
		}
	}
	sortPermissions(plan.Create)
	sortPermissions(plan.Reactivate)
	sortPermissions(plan.Deactivate)
	return plan, nil
}

// Apply executes plan. Inserts that lose a race against another instance are
// counted as existing.
func (r *PermissionReconciler) Apply(ctx context.Context, plan ReconcilePlan) (ReconcileResult, error) {
	var res ReconcileResult
	for i := range plan.Create {
		p := plan.Create[i]
		p.ID = 0
		if err := r.perms.Create(ctx, &p); err != nil {
			if repository.IsUniqueViolation(err) {
				r.logger.DebugContext(ctx, "permission already inserted concurrently", "code", p.Code)
				res.Existing++
				continue
			}
			return res, err
		}
		res.Created++
	}
	if ids := permissionIDsOf(plan.Reactivate); len(ids) > 0 {
		n, err := r.perms.SetActive(ctx, ids, true)
		if err != nil {
			return res, err
		}
		res.Reactivated = int(n)
	}
	if ids := permissionIDsOf(plan.Deactivate); len(ids) > 0 {
		n, err := r.perms.SetActive(ctx, ids, false)
		if err != nil {
			return res, err
		}
		res.Deactivated = int(n)
	}
	observability.RecordReconcileChange(ctx, "created", res.Created)
	observability.RecordReconcileChange(ctx, "reactivated", res.Reactivated)
	observability.RecordReconcileChange(ctx, "deactivated", res.Deactivated)
	if res.Reactivated+res.Deactivated > 0 {
		if err := r.snapshots.InvalidateAll(ctx); err != nil {
			r.logger.WarnContext(ctx, "permission snapshot invalidation failed", "error", err)
		}
	}
	return res, nil
}

func (r *PermissionReconciler) Reconcile(ctx context.Context, ops []permission.Operation) (ReconcilePlan, ReconcileResult, error) {
	ctx, span := observability.Tracer().Start(ctx, "permissions.reconcile")
	defer span.End()

	plan, err := r.Plan(ctx, ops)
	if err != nil {
		return ReconcilePlan{}, ReconcileResult{}, err
	}
	res, err := r.Apply(ctx, plan)
	if err != nil {
		return plan, res, err
	}
	span.SetAttributes(
		attribute.Int("reconcile.created", res.Created),
		attribute.Int("reconcile.reactivated", res.Reactivated),
		attribute.Int("reconcile.deactivated", res.Deactivated),
	)
	r.logger.InfoContext(ctx, "permission catalog reconciled",
		"created", res.Created,
		"existing", res.Existing,
		"reactivated", res.Reactivated,
		"deactivated", res.Deactivated,
		"unchanged", plan.Unchanged,
		"duplicates", len(plan.Duplicates),
	)
	return plan, res, nil
}

func (r *PermissionReconciler) declare(ctx context.Context, ops []permission.Operation) (map[string]domain.Permission, []DuplicateDeclaration) {
	declared := make(map[string]domain.Permission)
	var duplicates []DuplicateDeclaration
	for _, op := range ops {
		for _, req := range op.Requirements {
			if !req.Valid() {
				r.logger.WarnContext(ctx, "skipping invalid permission requirement", "operation", op.Name, "code", req.Code())
				continue
			}
			code := req.Code()
			route := op.Route()
			if prev, ok := declared[code]; ok {
				prevRoute := strings.ToUpper(prev.HTTPMethod) + " " + prev.RoutePath
				if prevRoute == route {
					continue
				}
				r.logger.WarnContext(ctx, "permission code declared by multiple operations", "code", code, "kept", prevRoute, "ignored", route)
				duplicates = append(duplicates, DuplicateDeclaration{Code: code, Kept: prevRoute, Ignored: route})
				continue
			}
			declared[code] = domain.Permission{
				Code:        code,
				Name:        permission.DisplayName(req.Resource, req.Action),
				Description: "Auto-generated: " + route,
				Scope:       domain.PermissionScopeResource,
				ModuleName:  op.Module,
				Resource:    req.Resource,
				Action:      req.Action,
				HTTPMethod:  strings.ToUpper(op.Method),
				RoutePath:   op.Path,
				IsSystem:    true,
				IsActive:    true,
			}
		}
	}
	return declared, duplicates
}

func permissionIDsOf(perms []domain.Permission) []uint {
	ids := make([]uint, 0, len(perms))
	for _, p := range perms {
		ids = append(ids, p.ID)
	}
	return ids
}

func sortPermissions(perms []domain.Permission) {
	sort.Slice(perms, func(i, j int) bool { return perms[i].Code < perms[j].Code })
}

package service

import (
	"context"

	"github.com/emrgen/salesdb/internal/apperr"
	"github.com/emrgen/salesdb/internal/model"
	"github.com/emrgen/salesdb/internal/store"
)

// resolvePrincipal returns the caller. A principal without a role gets the
// role stored under users/<uid>/role.
func resolvePrincipal(ctx context.Context, st store.Store, op string) (model.Principal, error) {
	p, ok := model.PrincipalFrom(ctx)
	if !ok {
		return model.Principal{}, apperr.Wrap(apperr.AccessDenied, op, ErrNoPrincipal, "")
	}

	if p.Role == "" && model.ValidKey(p.ID) {
		v, _, err := st.Read(ctx, model.UserRolePath(p.ID))
		if err != nil {
			return model.Principal{}, err
		}
		p.Role = model.AsString(v)
	}

	return p, nil
}

func (r *RelationshipManager) principal(ctx context.Context, op string) (model.Principal, error) {
	return resolvePrincipal(ctx, r.store, op)
}

func checkAccess(op string, p model.Principal, sale *model.Sale) error {
	if p.IsAdmin() {
		return nil
	}

	if owner := sale.OwnerID(); owner != "" && owner == p.ID {
		return nil
	}

	return apperr.Wrap(apperr.AccessDenied, op, ErrNotOwner, "sale %s", sale.ID)
}

// authorize loads the sale and checks the caller may touch it. The principal
// is returned even when the sale is missing so callers can decide on orphans.
func (r *RelationshipManager) authorize(ctx context.Context, op, saleID string) (model.Principal, *model.Sale, error) {
	p, err := r.principal(ctx, op)
	if err != nil {
		return p, nil, err
	}

	sale, err := r.loadSale(ctx, op, saleID)
	if err != nil {
		return p, nil, err
	}

	if err := checkAccess(op, p, sale); err != nil {
		return p, nil, err
	}

	return p, sale, nil
}

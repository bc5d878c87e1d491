package composables

import (
	"context"
	"errors"

	"github.com/iota-uz/workshop/pkg/constants"
)

var ErrNoTenantID = errors.New("tenant id not found in context")

func WithTenantID(ctx context.Context, tenantID int64) context.Context {
	return context.WithValue(ctx, constants.TenantIDKey, tenantID)
}

func UseTenantID(ctx context.Context) (int64, error) {
	tenantID, ok := ctx.Value(constants.TenantIDKey).(int64)
	if !ok {
		return 0, ErrNoTenantID
	}
	return tenantID, nil
}

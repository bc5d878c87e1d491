package backup

import (
	"context"
	"fmt"
	"strings"

	"github.com/iota-uz/workshop/modules/backup/domain/catalog"
	"github.com/iota-uz/workshop/modules/backup/domain/snapshot"
)

type Mode string

const (
	ModeMerge   Mode = "merge"
	ModeReplace Mode = "replace"
)

func ParseMode(s string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(s))) {
	case ModeMerge, "":
		return ModeMerge, nil
	case ModeReplace:
		return ModeReplace, nil
	default:
		return "", fmt.Errorf("%w: %q (expected merge|replace)", ErrInvalidMode, s)
	}
}

// ModeFor maps the boundary's replace flag to a Mode.
func ModeFor(replace bool) Mode {
	if replace {
		return ModeReplace
	}
	return ModeMerge
}

type Tenant struct {
	ID     int64
	Name   string
	Fields snapshot.Row
}

// Repository is the storage port of the backup engine. Entity rows are
// snapshot.Row values holding normalized Go types; ListRows includes the id.
//
// All methods except InTx and InReadTx expect to run inside one of them.
type Repository interface {
	InTx(ctx context.Context, tenantID int64, fn func(ctx context.Context) error) error
	InReadTx(ctx context.Context, tenantID int64, fn func(ctx context.Context) error) error
	// InSavepoint undoes fn's writes when it fails and keeps the outer transaction usable.
	InSavepoint(ctx context.Context, fn func(ctx context.Context) error) error

	GetTenant(ctx context.Context, tenantID int64) (*Tenant, error)
	ListGroups(ctx context.Context) ([]snapshot.Group, error)
	ListUsers(ctx context.Context, tenantID int64) ([]snapshot.User, error)
	ListRows(ctx context.Context, e *catalog.Entity, tenantID int64) ([]snapshot.Row, error)

	// UpsertGroup returns the id of the group named name, creating it when
	// missing; created reports which of the two happened.
	UpsertGroup(ctx context.Context, name string) (id int64, created bool, err error)
	// GrantPermissions adds permissions (app_label.codename) to a group and
	// returns the keys that do not exist in this installation.
	GrantPermissions(ctx context.Context, groupID int64, permissions []string) ([]string, error)
	// UpsertUser returns the id of the user with u.Username, creating it when missing.
	// Existing users are left untouched.
	UpsertUser(ctx context.Context, u snapshot.User) (id int64, created bool, err error)
	AddUserGroups(ctx context.Context, userID int64, groupIDs []int64) error
	AddMembership(ctx context.Context, tenantID, userID int64) error

	FindByNaturalKey(ctx context.Context, e *catalog.Entity, tenantID int64, row snapshot.Row) (int64, bool, error)
	Insert(ctx context.Context, e *catalog.Entity, tenantID int64, row snapshot.Row) (int64, error)
	// RecomputeTotal sets t.Column on the given parent rows to the sum of their children.
	RecomputeTotal(ctx context.Context, parent *catalog.Entity, t catalog.Total, tenantID int64, ids []int64) error
	NullReferences(ctx context.Context, e *catalog.Entity, column string, tenantID int64) (int64, error)
	DeleteAll(ctx context.Context, e *catalog.Entity, tenantID int64) (int64, error)
}

// Package access derives the row visibility of a principal.
//
// Every repository that lists or loads group-scoped rows applies Scope to
// its query so the visibility rule lives in exactly one place:
//
//   - superadmin sees every row
//   - admin sees rows whose group column equals its group
//   - everyone else sees rows whose owner column equals its user id
//
// Rows outside the scope are never loaded, so a retrieve of such a row
// reports not found and a list silently omits it.
package access

import (
	sq "github.com/Masterminds/squirrel"

	"github.com/omnifin/backoffice/pkg/models"
)

// Columns names the ownership columns of a table, qualified as needed by the caller.
type Columns struct {
	Owner string
	Group string
}

// Scope returns the visibility predicate of p over a table with the given columns.
func Scope(p models.Principal, cols Columns) sq.Sqlizer {
	switch {
	case p.Role == models.RoleSuperadmin:
		return sq.Expr("TRUE")
	case p.Role == models.RoleAdmin && p.GroupID != nil && cols.Group != "":
		return sq.Eq{cols.Group: *p.GroupID}
	default:
		return sq.Eq{cols.Owner: p.UserID}
	}
}

// CanSee reports whether a row with the given owner and group is visible to p.
// It mirrors Scope for rows already in memory.
func CanSee(p models.Principal, ownerID int64, groupID *int64) bool {
	switch {
	case p.Role == models.RoleSuperadmin:
		return true
	case p.Role == models.RoleAdmin && p.GroupID != nil:
		return groupID != nil && *groupID == *p.GroupID
	default:
		return ownerID == p.UserID
	}
}

// Shared is the scope the assistant reads reference content through (knowledge, FAQs)
// on behalf of p. Superadmin sees every row; everyone else sees its own group plus global rows.
func Shared(p models.Principal, groupCol string) sq.Sqlizer {
	if p.Role == models.RoleSuperadmin {
		return sq.Expr("TRUE")
	}
	return GroupOrGlobal(p.GroupID, groupCol)
}

// GroupOrGlobal restricts to rows of groupID plus rows with no group.
// A nil groupID yields only global rows.
func GroupOrGlobal(groupID *int64, groupCol string) sq.Sqlizer {
	if groupID == nil {
		return sq.Eq{groupCol: nil}
	}
	return sq.Or{sq.Eq{groupCol: *groupID}, sq.Eq{groupCol: nil}}
}

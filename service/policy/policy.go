package policy

import (
	"gorm.io/gorm"

	entity "lats.GO/model/entity"
)

// Access is the result of an access check. The zero value denies
// everything, so absence of a rule fails closed.
type Access struct {
	Visible  bool
	Writable bool
}

var denied = Access{}

// CanAccess resolves whether a record of the given kind is visible and
// writable from a branch context. It never returns an error: a record the
// context may not see behaves exactly like a record that does not exist.
//
// recordBranchID nil means the record is global.
func CanAccess(ctx *entity.Branch, kind entity.EntityKind, recordBranchID *uint) Access {
	// No branch context: internal/administrative caller, full access.
	if ctx == nil {
		return Access{Visible: true, Writable: true}
	}

	// Global records are visible from every branch but owned by admin
	// tooling: only a branch in shared mode may write them.
	if recordBranchID == nil {
		if ctx.IsolationMode == entity.IsolationShared {
			return Access{Visible: true, Writable: true}
		}
		return Access{Visible: true}
	}

	owned := *recordBranchID == ctx.BranchID

	switch ctx.IsolationMode {
	case entity.IsolationIsolated:
		if owned {
			return Access{Visible: true, Writable: true}
		}
		return denied
	case entity.IsolationShared:
		return Access{Visible: true, Writable: true}
	case entity.IsolationHybrid:
		if owned || ctx.ShareFlag(kind) {
			return Access{Visible: true, Writable: true}
		}
		return denied
	}
	// Unknown isolation mode: only the owner gets through.
	if owned {
		return Access{Visible: true, Writable: true}
	}
	return denied
}

// VisibleScope narrows a query to rows the branch context may see,
// matching CanAccess semantics for listing paths. column is the
// branch-id column of the queried table.
func VisibleScope(q *gorm.DB, ctx *entity.Branch, kind entity.EntityKind, column string) *gorm.DB {
	if ctx == nil {
		return q
	}
	switch ctx.IsolationMode {
	case entity.IsolationShared:
		return q
	case entity.IsolationHybrid:
		if ctx.ShareFlag(kind) {
			return q
		}
	}
	return q.Where(column+" = ? OR "+column+" IS NULL", ctx.BranchID)
}

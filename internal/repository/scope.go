package repository

import (
	"fmt"

	"github.com/mkcamara/scolaris-core/internal/models"
)

// scopeBySchool rewrites a query so non-SUPERADMIN actors only see rows of
// their own school. Every listing query in this package goes through it;
// tenant isolation is a query-rewrite rule, not a per-handler filter.
func scopeBySchool(query string, args []interface{}, actor models.Actor, column string) (string, []interface{}) {
	if actor.CrossSchool() {
		return query, args
	}
	query += fmt.Sprintf(" AND %s = $%d", column, len(args)+1)
	args = append(args, actor.SchoolID)
	return query, args
}

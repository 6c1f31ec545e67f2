package trace

import (
	"context"
	"strings"

	"github.com/roach88/slicestore/internal/ir"
)

// Filter selects records. The zero Filter selects every record; set fields
// are combined with AND.
type Filter struct {
	FlowToken string
	Type      ir.ActionType
	// Failed keeps only records whose dispatch returned an error.
	Failed bool
}

// orderBy is appended to every record query so results are deterministic.
const orderBy = `ORDER BY seq ASC, id COLLATE BINARY ASC`

// compile renders f as a WHERE clause (empty when f is zero) followed by
// the stable ordering. Values are always bound as parameters.
func (f Filter) compile() (string, []any) {
	var (
		conds []string
		args  []any
	)
	if f.FlowToken != "" {
		conds = append(conds, "flow_token = ?")
		args = append(args, f.FlowToken)
	}
	if f.Type != "" {
		conds = append(conds, "action_type = ?")
		args = append(args, string(f.Type))
	}
	if f.Failed {
		conds = append(conds, "error != ''")
	}

	if len(conds) == 0 {
		return orderBy, nil
	}
	return "WHERE " + strings.Join(conds, " AND ") + "\n" + orderBy, args
}

// Query returns the records matching f in seq order.
// Returns an empty slice (not nil) when nothing matches.
func (l *Log) Query(ctx context.Context, f Filter) ([]Record, error) {
	clause, args := f.compile()
	return l.query(ctx, selectColumns+clause, args...)
}

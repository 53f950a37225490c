package storage

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// predicate is one `column OP $n`-shaped fragment of a WHERE clause, built up
// incrementally so that each repository's List method can compose the
// filters its caller actually supplied instead of hand-rolling a new SQL
// string per filter combination (spec.md §9's "small query builder that
// accepts a list of predicates combined with AND").
type predicate struct {
	clause string
	args   []any
}

// queryBuilder accumulates predicates and renders the final WHERE clause plus
// a flattened, correctly-ordered argument list for database/sql placeholders.
type queryBuilder struct {
	predicates []predicate
	nextArg    int
}

func newQueryBuilder() *queryBuilder {
	return &queryBuilder{nextArg: 1}
}

// add appends a predicate whose clause uses %d placeholders for its own
// argument positions, e.g. add("workspace_id = $%d", workspaceID).
func (q *queryBuilder) add(clauseFmt string, args ...any) {
	placeholders := make([]any, len(args))
	for i := range args {
		placeholders[i] = q.nextArg + i
	}
	q.predicates = append(q.predicates, predicate{
		clause: fmt.Sprintf(clauseFmt, placeholders...),
		args:   args,
	})
	q.nextArg += len(args)
}

// addIf calls add only when cond is true, so optional filters read as a flat
// list of conditionals instead of nested branching at the call site.
func (q *queryBuilder) addIf(cond bool, clauseFmt string, args ...any) {
	if cond {
		q.add(clauseFmt, args...)
	}
}

// where renders "WHERE a AND b AND c", or "" if no predicates were added.
func (q *queryBuilder) where() string {
	if len(q.predicates) == 0 {
		return ""
	}
	clauses := make([]string, len(q.predicates))
	for i, p := range q.predicates {
		clauses[i] = p.clause
	}
	return "WHERE " + strings.Join(clauses, " AND ")
}

// args flattens all accumulated predicate arguments in placeholder order.
func (q *queryBuilder) args() []any {
	var out []any
	for _, p := range q.predicates {
		out = append(out, p.args...)
	}
	return out
}

// nextPlaceholder returns the next free $n, for callers appending a clause
// (such as ORDER/LIMIT arguments) that isn't a WHERE predicate.
func (q *queryBuilder) nextPlaceholder() int {
	return q.nextArg
}

// Cursor is an opaque, base64-encoded keyset pagination token over
// (timestamp, id) pairs, per §9's "keyset pagination as a (timestamp, id) <
// (?, ?) predicate" design note. It survives being round-tripped through a
// client as an opaque string in a query parameter.
type Cursor struct {
	Timestamp time.Time `json:"t"`
	ID        string    `json:"i"`
}

// EncodeCursor renders a Cursor as an opaque pagination token.
func EncodeCursor(c Cursor) (string, error) {
	raw, err := json.Marshal(c)
	if err != nil {
		return "", fmt.Errorf("marshal cursor: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(raw), nil
}

// DecodeCursor parses an opaque pagination token produced by EncodeCursor.
func DecodeCursor(token string) (Cursor, error) {
	var c Cursor
	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return c, fmt.Errorf("decode cursor: %w", err)
	}
	if err := json.Unmarshal(raw, &c); err != nil {
		return c, fmt.Errorf("unmarshal cursor: %w", err)
	}
	return c, nil
}

// addKeysetBefore adds the "(col_ts, col_id) < (ts, id)" predicate used to
// fetch the page strictly older than cursor, for a descending (ts, id) sort.
func (q *queryBuilder) addKeysetBefore(colTS, colID string, cursor *Cursor) {
	if cursor == nil {
		return
	}
	q.add("("+colTS+", "+colID+") < ($%d, $%d)", cursor.Timestamp, cursor.ID)
}

// addKeysetAfter adds the "(col_ts, col_id) > (ts, id)" predicate used to
// fetch the page strictly newer than cursor, for an ascending (ts, id) sort.
func (q *queryBuilder) addKeysetAfter(colTS, colID string, cursor *Cursor) {
	if cursor == nil {
		return
	}
	q.add("("+colTS+", "+colID+") > ($%d, $%d)", cursor.Timestamp, cursor.ID)
}

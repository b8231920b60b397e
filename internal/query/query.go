// Package query builds parameterized account-search SQL from predicate
// trees. Field names are validated against an allow-list of columns from
// the account/realm join, so a caller can pass user-supplied filters
// without risking injection.
package query

import (
	"fmt"
	"strings"
)

// Logic determines how multiple predicates are combined.
type Logic int

const (
	AND Logic = iota
	OR
)

// Operator represents a SQL comparison operator.
type Operator string

const (
	Equal          Operator = "="
	NotEqual       Operator = "!="
	Like           Operator = "LIKE"
	NotLike        Operator = "NOT LIKE"
	GreaterOrEqual Operator = ">="
	LessOrEqual    Operator = "<="
)

// validOperators is the set of allowed operators for validation.
var validOperators = map[Operator]bool{
	Equal: true, NotEqual: true, Like: true, NotLike: true,
	GreaterOrEqual: true, LessOrEqual: true,
}

// accountFields maps the searchable field names to their qualified columns
// in the account/realm join. Only names in this map may appear in a
// predicate or an ORDER BY.
var accountFields = map[string]string{
	"id":               "accounts.id",
	"login_name":       "accounts.login_name",
	"full_name":        "accounts.full_name",
	"addr":             "accounts.addr",
	"signature":        "accounts.signature",
	"realm_id":         "accounts.realm_id",
	"db_status":        "accounts.db_status",
	"realm_name":       "realms.realm_name",
	"realm_addr":       "realms.realm_addr",
	"scope_host_id":    "realms.scope_host_id",
	"scope_confidence": "realms.scope_confidence",
}

// selectColumns is the column list every built query returns, in the order
// the caller scans them.
var selectColumns = []string{
	"accounts.id", "accounts.login_name", "accounts.full_name",
	"accounts.addr", "accounts.signature", "accounts.realm_id",
	"accounts.db_status", "realms.realm_name", "realms.realm_addr",
}

const fromClause = " FROM tsk_os_accounts accounts" +
	" JOIN tsk_os_account_realms realms ON realms.id = accounts.realm_id"

// Predicate represents a single filter condition or a composite of conditions.
// Predicates use parameterized values to prevent SQL injection.
type Predicate struct {
	kind  predicateKind
	field string
	op    Operator
	value string
	left  *Predicate
	right *Predicate
	logic Logic
}

type predicateKind int

const (
	predNone predicateKind = iota
	predSimple
	predComposite
)

// Simple creates a predicate that compares a field to a value.
// Returns nil if the field name is invalid or the operator is unrecognized.
func Simple(field string, op Operator, value string) *Predicate {
	if _, ok := accountFields[field]; !ok || !validOperators[op] {
		return nil
	}
	return &Predicate{
		kind:  predSimple,
		field: field,
		op:    op,
		value: value,
	}
}

// Combine joins multiple predicates with the given logic (AND or OR).
// Returns nil for an empty slice. Returns the single predicate if only one
// is given. Nil predicates in the slice are skipped.
func Combine(preds []*Predicate, logic Logic) *Predicate {
	filtered := make([]*Predicate, 0, len(preds))
	for _, p := range preds {
		if p != nil {
			filtered = append(filtered, p)
		}
	}

	if len(filtered) == 0 {
		return nil
	}
	if len(filtered) == 1 {
		return filtered[0]
	}

	result := &Predicate{
		kind:  predComposite,
		left:  filtered[0],
		right: filtered[1],
		logic: logic,
	}

	for i := 2; i < len(filtered); i++ {
		result = &Predicate{
			kind:  predComposite,
			left:  result,
			right: filtered[i],
			logic: logic,
		}
	}

	return result
}

// whereClause renders the predicate tree, numbering placeholders from
// *next and advancing it per parameter.
func (p *Predicate) whereClause(d Dialect, next *int) (string, []interface{}) {
	if p == nil {
		return "", nil
	}

	switch p.kind {
	case predNone:
		return "", nil

	case predSimple:
		col := accountFields[p.field]
		ph := d.Placeholder(*next)
		*next++
		if p.op == Like || p.op == NotLike {
			return fmt.Sprintf("(%s %s %s)", col, p.op, ph),
				[]interface{}{"%" + p.value + "%"}
		}
		return fmt.Sprintf("(%s %s %s)", col, p.op, ph),
			[]interface{}{p.value}

	case predComposite:
		leftSQL, leftArgs := p.left.whereClause(d, next)
		rightSQL, rightArgs := p.right.whereClause(d, next)

		if leftSQL == "" && rightSQL == "" {
			return "", nil
		}
		if leftSQL == "" {
			return rightSQL, rightArgs
		}
		if rightSQL == "" {
			return leftSQL, leftArgs
		}

		logicStr := "AND"
		if p.logic == OR {
			logicStr = "OR"
		}

		sql := fmt.Sprintf("(%s %s %s)", leftSQL, logicStr, rightSQL)
		args := append(leftArgs, rightArgs...)
		return sql, args

	default:
		return "", nil
	}
}

// WhereClause returns the SQL WHERE fragment and its parameter values using
// the default dialect. For example: "(accounts.addr = ?)", []interface{}{"S-1-5-21-..."}
func (p *Predicate) WhereClause() (string, []interface{}) {
	next := 1
	return p.whereClause(DefaultDialect, &next)
}

// Fields returns the list of field names referenced by this predicate tree.
func (p *Predicate) Fields() []string {
	if p == nil {
		return nil
	}

	switch p.kind {
	case predNone:
		return nil
	case predSimple:
		return []string{p.field}
	case predComposite:
		seen := make(map[string]bool)
		var result []string
		for _, f := range p.left.Fields() {
			if !seen[f] {
				seen[f] = true
				result = append(result, f)
			}
		}
		for _, f := range p.right.Fields() {
			if !seen[f] {
				seen[f] = true
				result = append(result, f)
			}
		}
		return result
	default:
		return nil
	}
}

// Query builds a full SELECT over the account/realm join from predicates,
// ordering, and pagination.
type Query struct {
	dialect    Dialect
	predicates []*Predicate
	logic      Logic
	orderBy    string
	pageSize   int
	page       int
}

// New creates a new Query with the given page size.
// Pass 0 for no pagination and nil for the default dialect.
func New(d Dialect, pageSize int) *Query {
	if d == nil {
		d = DefaultDialect
	}
	return &Query{
		dialect:  d,
		logic:    AND,
		pageSize: pageSize,
		page:     1,
	}
}

// SetLogic sets how top-level predicates are combined (AND or OR).
func (q *Query) SetLogic(logic Logic) {
	q.logic = logic
}

// AddPredicate appends a predicate to the query. Nil predicates are ignored.
func (q *Query) AddPredicate(p *Predicate) {
	if p != nil {
		q.predicates = append(q.predicates, p)
	}
}

// RemovePredicate removes the first occurrence of a predicate from the query.
func (q *Query) RemovePredicate(p *Predicate) {
	for i, pred := range q.predicates {
		if pred == p {
			q.predicates = append(q.predicates[:i], q.predicates[i+1:]...)
			return
		}
	}
}

// ClearPredicates removes all predicates from the query.
func (q *Query) ClearPredicates() {
	q.predicates = nil
}

// OrderBy sets the field to sort results by.
// Pass an empty string to clear ordering.
// Returns an error if the field name is not valid.
func (q *Query) OrderBy(field string) error {
	if field == "" {
		q.orderBy = ""
		return nil
	}
	col, ok := accountFields[field]
	if !ok {
		return fmt.Errorf("invalid order by field: %s", field)
	}
	q.orderBy = col
	return nil
}

// SetPage sets the current page number (1-based).
func (q *Query) SetPage(page int) {
	if page >= 1 {
		q.page = page
	}
}

// PageNumber returns the current page number (1-based).
func (q *Query) PageNumber() int {
	return q.page
}

// Build generates the full SQL SELECT statement and its parameter values.
// Returns the SQL string and a slice of arguments for parameterized execution.
func (q *Query) Build() (string, []interface{}) {
	sql := "SELECT " + strings.Join(selectColumns, ", ") + fromClause

	whereSQL, allArgs := q.where()
	if whereSQL != "" {
		sql += " WHERE " + whereSQL
	}

	if q.orderBy != "" {
		sql += " ORDER BY " + q.orderBy
	}

	if q.pageSize > 0 {
		offset := q.pageSize * (q.page - 1)
		sql += fmt.Sprintf(" LIMIT %d OFFSET %d", q.pageSize, offset)
	}

	return sql, allArgs
}

// BuildCount generates a COUNT query using the same predicates.
func (q *Query) BuildCount() (string, []interface{}) {
	sql := "SELECT COUNT(accounts.id)" + fromClause

	whereSQL, allArgs := q.where()
	if whereSQL != "" {
		sql += " WHERE " + whereSQL
	}

	return sql, allArgs
}

func (q *Query) where() (string, []interface{}) {
	if len(q.predicates) == 0 {
		return "", nil
	}
	combined := Combine(q.predicates, q.logic)
	if combined == nil {
		return "", nil
	}
	next := 1
	return combined.whereClause(q.dialect, &next)
}

// PredicateFields returns all field names referenced across all predicates.
func (q *Query) PredicateFields() []string {
	seen := make(map[string]bool)
	var result []string
	for _, p := range q.predicates {
		for _, f := range p.Fields() {
			if !seen[f] {
				seen[f] = true
				result = append(result, f)
			}
		}
	}
	return result
}

package infrastructure

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mj-trademark/portal/internal/case/domain"
	"github.com/mj-trademark/portal/internal/shared/database"
	"github.com/mj-trademark/portal/internal/trademark"
)

const caseColumns = `id, case_number, sequence_number, user_id, title, trademark_type, applicant,
	classes, trademark_details, class_selections, class_category, product_service,
	client_intake, consultation_route, consultation_started, status, notes,
	assigned_attorney_id, assigned_internal_staff_id, created_at, updated_at, deleted_at`

// dialect covers the differences between the Postgres and SQLite queries.
type dialect interface {
	placeholder(n int) string
	// classesOverlap matches rows holding any of the codes bound at n.
	classesOverlap(n int) string
	classesArg(codes []string) any
	// contains matches column against a pattern bound at n, case-insensitively.
	contains(column string, n int) string
}

type postgresDialect struct{}

func (postgresDialect) placeholder(n int) string { return fmt.Sprintf("$%d", n) }

func (postgresDialect) classesOverlap(n int) string {
	return fmt.Sprintf("classes && $%d::text[]", n)
}

func (postgresDialect) classesArg(codes []string) any { return codes }

func (postgresDialect) contains(column string, n int) string {
	return fmt.Sprintf(`%s ILIKE $%d ESCAPE '\'`, column, n)
}

type sqliteDialect struct{}

func (sqliteDialect) placeholder(int) string { return "?" }

func (sqliteDialect) classesOverlap(int) string {
	return "EXISTS (SELECT 1 FROM json_each(cases.classes) AS c WHERE c.value IN (SELECT value FROM json_each(?)))"
}

func (sqliteDialect) classesArg(codes []string) any {
	b, _ := json.Marshal(codes)
	return string(b)
}

// SQLite's LIKE is case-insensitive for ASCII; lower() on both sides keeps
// the behaviour explicit.
func (sqliteDialect) contains(column string, _ int) string {
	return fmt.Sprintf(`lower(%s) LIKE lower(?) ESCAPE '\'`, column)
}

var sortColumns = map[domain.SortField]string{
	domain.SortByCaseNumber: "case_number",
	domain.SortByTitle:      "title",
	domain.SortByApplicant:  "applicant",
	domain.SortByStatus:     statusOrder(),
	domain.SortByCreatedAt:  "created_at",
	domain.SortByUpdatedAt:  "updated_at",
}

// statusOrder ranks the status column by lifecycle position rather than by
// name. Both dialects accept the CASE expression.
func statusOrder() string {
	var b strings.Builder
	b.WriteString("CASE status")
	statuses := domain.Statuses()
	for i, info := range statuses {
		fmt.Fprintf(&b, " WHEN '%s' THEN %d", info.Value, i)
	}
	fmt.Fprintf(&b, " ELSE %d END", len(statuses))
	return b.String()
}

// buildListQuery returns the WHERE clause (with leading "WHERE"), its args
// and the ORDER BY clause for filter.
func buildListQuery(d dialect, filter domain.ListFilter) (where string, args []any, orderBy string) {
	conditions := []string{"deleted_at IS NULL"}
	argNum := 1

	add := func(cond string, arg any) {
		conditions = append(conditions, cond)
		args = append(args, arg)
		argNum++
	}

	if !filter.OwnerID.IsZero() {
		add("user_id = "+d.placeholder(argNum), filter.OwnerID.String())
	}
	if !filter.AttorneyID.IsZero() {
		add("assigned_attorney_id = "+d.placeholder(argNum), filter.AttorneyID.String())
	}
	if !filter.InternalStaffID.IsZero() {
		add("assigned_internal_staff_id = "+d.placeholder(argNum), filter.InternalStaffID.String())
	}
	if filter.Status != "" {
		add("status = "+d.placeholder(argNum), string(filter.Status))
	}
	if filter.TrademarkType != "" {
		add("trademark_type = "+d.placeholder(argNum), string(filter.TrademarkType))
	}
	if len(filter.Classes) > 0 {
		add(d.classesOverlap(argNum), d.classesArg(filter.Classes))
	}
	if search := strings.TrimSpace(filter.Search); search != "" {
		pattern := "%" + database.EscapeLike(search) + "%"
		columns := []string{"case_number", "title"}
		if filter.SearchApplicant {
			columns = append(columns, "applicant")
		}
		var ors []string
		for _, col := range columns {
			ors = append(ors, d.contains(col, argNum))
			args = append(args, pattern)
			argNum++
		}
		conditions = append(conditions, "("+strings.Join(ors, " OR ")+")")
	}

	column, ok := sortColumns[filter.SortBy]
	if !ok {
		column = "updated_at"
	}
	dir := "ASC"
	if filter.SortDesc {
		dir = "DESC"
	}
	orderBy = fmt.Sprintf("ORDER BY %s %s, id ASC", column, dir)

	return "WHERE " + strings.Join(conditions, " AND "), args, orderBy
}

func encodeSelections(selections []trademark.ClassSelection) (any, error) {
	if selections == nil {
		return nil, nil
	}
	b, err := json.Marshal(selections)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func decodeSelections(raw []byte) ([]trademark.ClassSelection, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var selections []trademark.ClassSelection
	if err := json.Unmarshal(raw, &selections); err != nil {
		return nil, err
	}
	return selections, nil
}

// rawJSON copies a scanned document; drivers may reuse the buffer.
func rawJSON(raw []byte) json.RawMessage {
	if len(raw) == 0 {
		return nil
	}
	return append(json.RawMessage(nil), raw...)
}

package store

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

var ErrUnknownField = errors.New("unknown entity field")

// entityColumns are the approval_entity columns callers may filter and order by.
var entityColumns = map[string]struct{}{
	"entity_id":     {},
	"entity_type":   {},
	"review_status": {},
	"reviewed_by":   {},
	"reviewed_at":   {},
	"parent_id":     {},
	"copy_status":   {},
	"name":          {},
	"uploaded_by":   {},
	"uploaded_at":   {},
	"dcm_id":        {},
	"file_size":     {},
}

const defaultEntityOrder = "uploaded_at"

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// entityWhere builds the WHERE clause and positional args for f.
func entityWhere(f EntityFilter) (string, []any, error) {
	args := []any{f.RequestID}
	clauses := []string{"request_id = $1"}
	if f.ParentID != "" {
		args = append(args, f.ParentID)
		clauses = append(clauses, fmt.Sprintf("parent_id = $%d", len(args)))
	} else {
		clauses = append(clauses, "parent_id IS NULL")
	}

	partial := make(map[string]bool, len(f.Partial))
	for _, field := range f.Partial {
		if _, ok := entityColumns[field]; !ok {
			return "", nil, fmt.Errorf("%w: %s", ErrUnknownField, field)
		}
		partial[field] = true
	}

	fields := make([]string, 0, len(f.Query))
	for field := range f.Query {
		if _, ok := entityColumns[field]; !ok {
			return "", nil, fmt.Errorf("%w: %s", ErrUnknownField, field)
		}
		fields = append(fields, field)
	}
	sort.Strings(fields)

	for _, field := range fields {
		value := f.Query[field]
		if partial[field] {
			args = append(args, "%"+likeEscaper.Replace(value)+"%")
			clauses = append(clauses, fmt.Sprintf(`%s::text LIKE $%d ESCAPE '\'`, field, len(args)))
			continue
		}
		args = append(args, value)
		clauses = append(clauses, fmt.Sprintf("%s::text = $%d", field, len(args)))
	}
	return strings.Join(clauses, " AND "), args, nil
}

// entityOrder keeps folders ahead of files, then applies the requested column.
func entityOrder(f EntityFilter) (string, error) {
	column := f.OrderBy
	if column == "" {
		column = defaultEntityOrder
	}
	if _, ok := entityColumns[column]; !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownField, column)
	}
	direction := "ASC"
	if f.OrderDesc {
		direction = "DESC"
	}
	return fmt.Sprintf("entity_type DESC, %s %s, id", column, direction), nil
}

// pageBounds normalizes page/page_size into LIMIT/OFFSET.
func pageBounds(page, pageSize int) (limit, offset int) {
	if pageSize <= 0 {
		pageSize = 25
	}
	if page < 0 {
		page = 0
	}
	return pageSize, page * pageSize
}

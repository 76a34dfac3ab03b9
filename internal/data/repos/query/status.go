package query

import (
	sq "github.com/Masterminds/squirrel"
	"gorm.io/gorm"
)

// CountByStatusSQL builds the grouped status count for table. Soft-deleted rows are
// excluded when softDelete is set. Placeholders are '?' so gorm can rebind per dialect.
func CountByStatusSQL(table string, softDelete bool) (string, []interface{}, error) {
	b := sq.Select("status", "COUNT(*) AS n").
		From(table).
		GroupBy("status").
		PlaceholderFormat(sq.Question)
	if softDelete {
		b = b.Where(sq.Eq{"deleted_at": nil})
	}
	return b.ToSql()
}

// CountByStatus runs CountByStatusSQL on conn.
func CountByStatus(conn *gorm.DB, table string, softDelete bool) (map[string]int64, error) {
	stmt, args, err := CountByStatusSQL(table, softDelete)
	if err != nil {
		return nil, err
	}
	type row struct {
		Status string
		N      int64
	}
	var rows []row
	if err := conn.Raw(stmt, args...).Scan(&rows).Error; err != nil {
		return nil, err
	}
	out := make(map[string]int64, len(rows))
	for _, rw := range rows {
		out[rw.Status] = rw.N
	}
	return out, nil
}

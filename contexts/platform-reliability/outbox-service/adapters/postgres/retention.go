package postgresadapter

import (
	"context"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"
)

// TableRetention purges expired rows of a bounded collection owned by another
// context. Only rows matching TerminalFilter are ever deleted.
type TableRetention struct {
	DB             *gorm.DB
	Target         string
	Table          string
	TimeColumn     string
	TerminalFilter string
	FilterArgs     []any
	BatchSize      int
}

func (t TableRetention) Name() string {
	if t.Target != "" {
		return t.Target
	}
	return t.Table
}

func (t TableRetention) Purge(ctx context.Context, cutoff time.Time) (int64, error) {
	if strings.TrimSpace(t.Table) == "" || strings.TrimSpace(t.TimeColumn) == "" {
		return 0, fmt.Errorf("retention target %q: table and time column are required", t.Name())
	}
	batchSize := t.BatchSize
	if batchSize <= 0 {
		batchSize = 1000
	}

	where := fmt.Sprintf("%s < ?", quoteIdent(t.TimeColumn))
	if strings.TrimSpace(t.TerminalFilter) != "" {
		where = fmt.Sprintf("(%s) AND %s", t.TerminalFilter, where)
	}
	statement := fmt.Sprintf(
		"DELETE FROM %[1]s WHERE ctid IN (SELECT ctid FROM %[1]s WHERE %[2]s LIMIT ?)",
		quoteIdent(t.Table), where,
	)

	args := append(append([]any{}, t.FilterArgs...), cutoff.UTC(), batchSize)
	var total int64
	for {
		if err := ctx.Err(); err != nil {
			return total, err
		}
		result := t.DB.WithContext(ctx).Exec(statement, args...)
		if result.Error != nil {
			return total, result.Error
		}
		total += result.RowsAffected
		if result.RowsAffected < int64(batchSize) {
			return total, nil
		}
	}
}

func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

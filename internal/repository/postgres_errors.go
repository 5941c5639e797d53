package repository

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"github.com/beatmiles/beatmiles/internal/model"
)

// pgUniqueViolation はPostgreSQLの一意制約違反（SQLSTATE 23505）。
const pgUniqueViolation = "23505"

// wrapStoreError はドライバーのエラーを分類してラップする。
// 一意制約違反は model.ErrConflict、それ以外は model.ErrStoreUnavailable として扱う。
func wrapStoreError(op string, err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == pgUniqueViolation {
		return fmt.Errorf("%s: %w (constraint %s)", op, model.ErrConflict, pqErr.Constraint)
	}
	return fmt.Errorf("%s: %w: %w", op, model.ErrStoreUnavailable, err)
}

// nullString は空文字列をNULLとして扱う。
func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// nullFloat はnilポインタをNULLとして扱う。
func nullFloat(f *float64) sql.NullFloat64 {
	if f == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *f, Valid: true}
}

func floatPtr(n sql.NullFloat64) *float64 {
	if !n.Valid {
		return nil
	}
	v := n.Float64
	return &v
}

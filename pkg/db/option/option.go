package option

import (
	"fmt"

	"gorm.io/gorm"
)

// QueryOption mutates a gorm query before execution.
type QueryOption func(tx *gorm.DB) *gorm.DB

type QuerySortBy struct {
	Field   string
	OrderBy string // ASC | DESC
}

func WithSortBy(sort QuerySortBy) QueryOption {
	return func(tx *gorm.DB) *gorm.DB {
		field := sort.Field
		if field == "" {
			field = "created_at"
		}
		order := sort.OrderBy
		if order != "ASC" && order != "DESC" {
			order = "ASC"
		}
		return tx.Order(fmt.Sprintf("%s %s", field, order))
	}
}

func WithLimit(limit int) QueryOption {
	return func(tx *gorm.DB) *gorm.DB {
		if limit <= 0 {
			return tx
		}
		return tx.Limit(limit)
	}
}

func GT(field string, value any) QueryOption {
	return Condition(fmt.Sprintf("%s > ?", field), value)
}

func GTE(field string, value any) QueryOption {
	return Condition(fmt.Sprintf("%s >= ?", field), value)
}

func LT(field string, value any) QueryOption {
	return Condition(fmt.Sprintf("%s < ?", field), value)
}

func LTE(field string, value any) QueryOption {
	return Condition(fmt.Sprintf("%s <= ?", field), value)
}

func Condition(query string, args ...any) QueryOption {
	return func(tx *gorm.DB) *gorm.DB {
		return tx.Where(query, args...)
	}
}

// Apply runs all options against the query.
func Apply(tx *gorm.DB, opts ...QueryOption) *gorm.DB {
	for _, opt := range opts {
		tx = opt(tx)
	}
	return tx
}

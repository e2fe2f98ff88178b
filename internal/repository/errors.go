package repository

import (
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
)

const pgUniqueViolation = "23505"

// IsUniqueViolation reports whether err is a unique constraint failure, either
// translated by gorm or raw from the postgres driver.
func IsUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation
}

func outcome(err error, notFound error) string {
	switch {
	case err == nil:
		return "success"
	case notFound != nil && errors.Is(err, notFound):
		return "not_found"
	default:
		return "error"
	}
}

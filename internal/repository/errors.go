// Package repository implements the MySQL access layer.  Each repository
// wraps an explicitly constructed *sql.DB; there is no package level
// connection.  The sentinel values below let handlers and the chat relay
// distinguish failure scenarios with errors.Is.
package repository

import (
	"errors"

	"github.com/go-sql-driver/mysql"
)

var (
	// ErrUserNotFound is returned when no user matches an id or email.
	ErrUserNotFound = errors.New("user not found")

	// ErrEmailExists is returned by UserRepo.Create for a duplicate email.
	ErrEmailExists = errors.New("email already exists")

	// ErrPatientNotFound is returned when no patient has the given id.
	ErrPatientNotFound = errors.New("patient not found")

	// ErrForbidden is returned when the caller attempts an operation on a
	// resource owned by another user.  Handlers translate it into 403.
	ErrForbidden = errors.New("forbidden")

	// ErrTokenInvalid is returned for unknown, revoked or expired refresh tokens.
	ErrTokenInvalid = errors.New("refresh token invalid")
)

// isDuplicate reports a MySQL unique key violation (error 1062).
func isDuplicate(err error) bool {
	var me *mysql.MySQLError
	return errors.As(err, &me) && me.Number == 1062
}

// Package repository holds the MySQL-backed stores for users, sessions,
// revoked access tokens and single-use security tokens. Each store exposes
// only the operations the credential lifecycle needs. Expiry predicates take
// the caller's notion of "now" so that tests and the services agree on time.
package repository

import (
	"errors"

	"github.com/go-sql-driver/mysql"
)

// ErrNotFound is returned when a lookup by key matches no row.
var ErrNotFound = errors.New("not found")

// ErrEmailExists is returned by UserRepo.Create on a duplicate email.
var ErrEmailExists = errors.New("email already exists")

// ErrUnknownTokenType is returned when a security token type has no table.
var ErrUnknownTokenType = errors.New("unknown security token type")

// mysqlDuplicateEntry is the server error number for unique key violations.
const mysqlDuplicateEntry = 1062

func isDuplicate(err error) bool {
	var me *mysql.MySQLError
	return errors.As(err, &me) && me.Number == mysqlDuplicateEntry
}

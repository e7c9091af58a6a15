package repository

import (
	"errors"

	"github.com/lib/pq"
)

// invalidTextRepresentation is raised when a parameter cannot be cast to its column type,
// e.g. a non-UUID string compared with a uuid column.
const invalidTextRepresentation = "22P02"

// IsMalformedID reports whether err comes from an identifier Postgres could not parse. Such an
// id matches no row.
func IsMalformedID(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == invalidTextRepresentation
}

package server

import (
	"errors"
	"log"
	"net/http"

	"github.com/jackc/pgx/v5/pgconn"
)

// Typed failures the data-access helpers return; handlers map them to
// the HTTP error convention in one place.
var (
	errNotFound     = errors.New("not found")
	errAccessDenied = errors.New("access denied")
	errConflict     = errors.New("conflict")
)

// httpError maps a typed failure to a status code and writes the
// response. Unknown errors are logged with the request id and hidden
// behind a 500.
func httpError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, errNotFound):
		http.Error(w, "not found", http.StatusNotFound)
	case errors.Is(err, errAccessDenied):
		http.Error(w, "access denied", http.StatusForbidden)
	case errors.Is(err, errConflict):
		http.Error(w, "conflict", http.StatusConflict)
	default:
		rid := RequestIDFromContext(r.Context())
		log.Printf("rid=%s msg=internal_error err=%v", rid, err)
		http.Error(w, "server error", http.StatusInternalServerError)
	}
}

// isUniqueViolation reports whether err is a Postgres unique constraint
// violation (SQLSTATE 23505), used to map duplicate shares and
// duplicate registrations to errConflict.
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

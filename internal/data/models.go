// internal/data/models.go
package data

import (
	"database/sql"
	"errors"

	"github.com/lib/pq"
)

// Sentinel errors shared across the model layer. Handlers match on these
// with errors.Is to choose the HTTP response.
var (
	// ErrRecordNotFound is returned when a query finds no matching row.
	ErrRecordNotFound = errors.New("record not found")

	// ErrEditConflict is returned when an optimistic-lock version check
	// fails during an update.
	ErrEditConflict = errors.New("edit conflict")

	// Lending lifecycle conflicts.
	ErrNoCopiesAvailable  = errors.New("no available copies for this book")
	ErrSubscriberInactive = errors.New("subscriber is not active")
	ErrAlreadyReturned    = errors.New("lending is already returned")

	// Referential-integrity guards.
	ErrInUse            = errors.New("record is referenced by one or more books")
	ErrOutstandingLoans = errors.New("subscriber has outstanding loans")
	ErrCopiesOnLoan     = errors.New("book has copies currently on loan")

	// Unique-key conflicts, mapped from PostgreSQL unique violations.
	ErrDuplicateISBN       = errors.New("a book with this ISBN already exists")
	ErrDuplicateName       = errors.New("a record with this name already exists")
	ErrDuplicateEmail      = errors.New("a subscriber with this email already exists")
	ErrDuplicateCardNumber = errors.New("a subscriber with this card number already exists")
	ErrDuplicateLogin      = errors.New("a user with this login already exists")
)

// Models is a top-level container that groups all database model types together.
// It is passed around the application via applicationDependencies so every handler
// has access to the database without importing sql directly. Each field is an
// interface so tests can substitute in-memory doubles for the SQL-backed models.
type Models struct {
	Books       BookStore
	Authors     AuthorStore
	Categories  CategoryStore
	Subscribers SubscriberStore
	Lendings    LendingStore
	Users       UserStore
}

// NewModels constructs a Models value wired up to the given database connection pool.
// Call this once during application startup and store the result in applicationDependencies.
func NewModels(db *sql.DB) Models {
	return Models{
		Books:       BookModel{DB: db},
		Authors:     AuthorModel{DB: db},
		Categories:  CategoryModel{DB: db},
		Subscribers: SubscriberModel{DB: db},
		Lendings:    LendingModel{DB: db},
		Users:       UserModel{DB: db},
	}
}

// isUniqueViolation reports whether err is a PostgreSQL unique-constraint
// violation (SQLSTATE 23505) on the named constraint or index.
func isUniqueViolation(err error, constraint string) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505" && pqErr.Constraint == constraint
	}
	return false
}

// isForeignKeyViolation reports whether err is a PostgreSQL foreign-key
// violation (SQLSTATE 23503) on the named constraint.
func isForeignKeyViolation(err error, constraint string) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23503" && pqErr.Constraint == constraint
	}
	return false
}

// internal/data/lendings.go
// The lending ledger: one row per checkout transaction, linking a book copy
// to a subscriber. Every mutating operation here runs inside a single
// database transaction so the copy-count arithmetic and the ledger write
// commit or roll back together.
package data

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/clms/library-api/internal/validator"
)

// LendingStatus is the lifecycle state of a lending record.
//
//	issue              return
//	 ──► ISSUED ───────────────► RETURNED (terminal)
//	        │ sweep (due < today)     ▲
//	        ▼                         │ return
//	     OVERDUE ─────────────────────┘
type LendingStatus string

const (
	StatusIssued   LendingStatus = "ISSUED"
	StatusReturned LendingStatus = "RETURNED"
	StatusOverdue  LendingStatus = "OVERDUE"
)

// BookSummary is the slimmed-down book view embedded in lending responses.
type BookSummary struct {
	ID    int64  `json:"id"`
	Title string `json:"title"`
	ISBN  string `json:"isbn,omitempty"`
}

// SubscriberSummary is the slimmed-down subscriber view embedded in lending
// responses.
type SubscriberSummary struct {
	ID                int64  `json:"id"`
	Name              string `json:"name"`
	LibraryCardNumber string `json:"library_card_number"`
}

// Lending is a single checkout record. It owns the issue/due/return date
// triple and the status; the book and subscriber are referenced, not owned.
type Lending struct {
	ID           int64             `json:"id"`
	BookID       int64             `json:"book_id"`
	SubscriberID int64             `json:"subscriber_id"`
	IssueDate    Date              `json:"issue_date"`
	DueDate      Date              `json:"due_date"`
	ReturnDate   *Date             `json:"return_date,omitempty"`
	Status       LendingStatus     `json:"status"`
	Book         BookSummary       `json:"book"`
	Subscriber   SubscriberSummary `json:"subscriber"`
	CreatedAt    time.Time         `json:"created_at"`
	UpdatedAt    time.Time         `json:"updated_at"`
}

// Outstanding reports whether the lending still holds a book copy.
func (l *Lending) Outstanding() bool {
	return l.Status == StatusIssued || l.Status == StatusOverdue
}

// MarkReturned transitions the lending to RETURNED, stamping the return
// date. Returning an already-returned lending is an error; OVERDUE is a
// valid starting state.
func (l *Lending) MarkReturned(returnDate Date) error {
	if l.Status == StatusReturned {
		return ErrAlreadyReturned
	}
	l.Status = StatusReturned
	l.ReturnDate = &returnDate
	return nil
}

// OverdueAsOf reports whether the lending should be swept to OVERDUE: still
// ISSUED with a due date before the given day.
func (l *Lending) OverdueAsOf(today Date) bool {
	return l.Status == StatusIssued && l.DueDate.Before(today)
}

// ValidateLending checks a lending record before issue.
func ValidateLending(v *validator.Validator, lending *Lending) {
	v.Check(lending.BookID > 0, "book_id", "must be provided")
	v.Check(lending.SubscriberID > 0, "subscriber_id", "must be provided")
	v.Check(!lending.DueDate.IsZero(), "due_date", "must be provided")
	if !lending.IssueDate.IsZero() && !lending.DueDate.IsZero() {
		v.Check(!lending.DueDate.Before(lending.IssueDate), "due_date", "must not be before the issue date")
	}
}

// Not-found errors for the two references an issue call resolves. Both
// unwrap to ErrRecordNotFound.
var (
	ErrBookNotFound       = fmt.Errorf("book: %w", ErrRecordNotFound)
	ErrSubscriberNotFound = fmt.Errorf("subscriber: %w", ErrRecordNotFound)
)

// LendingStore is the persistence interface for the lending ledger.
type LendingStore interface {
	Issue(lending *Lending) error
	Return(id int64) (*Lending, error)
	SweepOverdue(today Date) ([]*Lending, error)
	Delete(id int64) error
	Get(id int64) (*Lending, error)
	GetAll(filters Filters) ([]*Lending, Metadata, error)
	GetAllByStatus(status LendingStatus, filters Filters) ([]*Lending, Metadata, error)
	GetAllBySubscriber(subscriberID int64, filters Filters) ([]*Lending, Metadata, error)
	GetCurrentBySubscriber(subscriberID int64, filters Filters) ([]*Lending, Metadata, error)
}

// LendingModel wraps a *sql.DB connection and implements the lending
// lifecycle over the lendings, books, and subscribers tables.
type LendingModel struct {
	DB *sql.DB
}

// lendingColumns is the SELECT list shared by every lending read, joining in
// the book and subscriber summaries.
const lendingColumns = `
	l.id, l.book_id, l.subscriber_id, l.issue_date, l.due_date, l.return_date,
	l.status, l.created_at, l.updated_at,
	b.title, COALESCE(b.isbn, ''), s.name, s.library_card_number`

const lendingFrom = `
	FROM lendings l
	JOIN books b ON b.id = l.book_id
	JOIN subscribers s ON s.id = l.subscriber_id`

func scanLending(row interface{ Scan(...any) error }, extra ...any) (*Lending, error) {
	var l Lending
	var returnDate sql.NullTime

	dest := append(extra,
		&l.ID,
		&l.BookID,
		&l.SubscriberID,
		&l.IssueDate,
		&l.DueDate,
		&returnDate,
		&l.Status,
		&l.CreatedAt,
		&l.UpdatedAt,
		&l.Book.Title,
		&l.Book.ISBN,
		&l.Subscriber.Name,
		&l.Subscriber.LibraryCardNumber,
	)
	if err := row.Scan(dest...); err != nil {
		return nil, err
	}

	l.Book.ID = l.BookID
	l.Subscriber.ID = l.SubscriberID
	if returnDate.Valid {
		d := NewDate(returnDate.Time)
		l.ReturnDate = &d
	}
	return &l, nil
}

// Issue checks out one copy of a book to a subscriber. In one transaction it
// verifies the subscriber exists and is active, decrements the book's
// available count, and inserts the ISSUED ledger row.
//
// The decrement is conditional on available_copies > 0, so two concurrent
// issues racing for the last copy cannot both succeed: the second UPDATE
// matches no row and the call fails with ErrNoCopiesAvailable.
func (m LendingModel) Issue(lending *Lending) error {
	tx, err := m.DB.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var active bool
	err = tx.QueryRow(`SELECT active FROM subscribers WHERE id = $1`, lending.SubscriberID).Scan(&active)
	if err != nil {
		switch {
		case errors.Is(err, sql.ErrNoRows):
			return ErrSubscriberNotFound
		default:
			return err
		}
	}
	if !active {
		return ErrSubscriberInactive
	}

	// Atomic conditional decrement; this is the copy-race guard.
	result, err := tx.Exec(`
		UPDATE books
		SET available_copies = available_copies - 1, updated_at = now(), version = version + 1
		WHERE id = $1 AND available_copies > 0`, lending.BookID)
	if err != nil {
		return err
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rowsAffected == 0 {
		var exists bool
		err = tx.QueryRow(`SELECT EXISTS (SELECT 1 FROM books WHERE id = $1)`, lending.BookID).Scan(&exists)
		if err != nil {
			return err
		}
		if !exists {
			return ErrBookNotFound
		}
		return ErrNoCopiesAvailable
	}

	if lending.IssueDate.IsZero() {
		lending.IssueDate = Today()
	}
	lending.Status = StatusIssued

	err = tx.QueryRow(`
		INSERT INTO lendings (book_id, subscriber_id, issue_date, due_date, status)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at, updated_at`,
		lending.BookID,
		lending.SubscriberID,
		lending.IssueDate,
		lending.DueDate,
		lending.Status,
	).Scan(&lending.ID, &lending.CreatedAt, &lending.UpdatedAt)
	if err != nil {
		return err
	}

	// Fill in the embedded summaries for the response.
	err = tx.QueryRow(`SELECT title, COALESCE(isbn, '') FROM books WHERE id = $1`, lending.BookID).
		Scan(&lending.Book.Title, &lending.Book.ISBN)
	if err != nil {
		return err
	}
	lending.Book.ID = lending.BookID
	err = tx.QueryRow(`SELECT name, library_card_number FROM subscribers WHERE id = $1`, lending.SubscriberID).
		Scan(&lending.Subscriber.Name, &lending.Subscriber.LibraryCardNumber)
	if err != nil {
		return err
	}
	lending.Subscriber.ID = lending.SubscriberID

	return tx.Commit()
}

// Return transitions a lending to RETURNED and hands the copy back to the
// book's available count. Valid from ISSUED and OVERDUE; a second return of
// the same lending fails with ErrAlreadyReturned and changes nothing.
func (m LendingModel) Return(id int64) (*Lending, error) {
	if id < 1 {
		return nil, ErrRecordNotFound
	}

	tx, err := m.DB.Begin()
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	var status LendingStatus
	var bookID int64
	err = tx.QueryRow(`SELECT status, book_id FROM lendings WHERE id = $1 FOR UPDATE`, id).
		Scan(&status, &bookID)
	if err != nil {
		switch {
		case errors.Is(err, sql.ErrNoRows):
			return nil, ErrRecordNotFound
		default:
			return nil, err
		}
	}
	if status == StatusReturned {
		return nil, ErrAlreadyReturned
	}

	// Release the copy. Not re-validated against total_copies: the issue
	// that created this row already decremented it.
	_, err = tx.Exec(`
		UPDATE books
		SET available_copies = available_copies + 1, updated_at = now(), version = version + 1
		WHERE id = $1`, bookID)
	if err != nil {
		return nil, err
	}

	_, err = tx.Exec(`
		UPDATE lendings
		SET status = $2, return_date = $3, updated_at = now()
		WHERE id = $1`, id, StatusReturned, Today())
	if err != nil {
		return nil, err
	}

	lending, err := getLending(tx, id)
	if err != nil {
		return nil, err
	}

	if err = tx.Commit(); err != nil {
		return nil, err
	}
	return lending, nil
}

// SweepOverdue transitions every ISSUED lending whose due date falls before
// today to OVERDUE and returns exactly the transitioned set. The UPDATE is a
// single statement scoped to status = ISSUED, which makes the sweep
// idempotent: rows already OVERDUE or RETURNED are neither mutated nor
// reported, and an immediate second sweep returns an empty set.
func (m LendingModel) SweepOverdue(today Date) ([]*Lending, error) {
	tx, err := m.DB.Begin()
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	rows, err := tx.Query(`
		UPDATE lendings
		SET status = $1, updated_at = now()
		WHERE status = $2 AND due_date < $3
		RETURNING id`, StatusOverdue, StatusIssued, today)
	if err != nil {
		return nil, err
	}

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, err
		}
		ids = append(ids, id)
	}
	if err = rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	swept := []*Lending{}
	if len(ids) > 0 {
		query := `SELECT` + lendingColumns + lendingFrom + ` WHERE l.id = ANY($1) ORDER BY l.due_date ASC, l.id ASC`
		lendingRows, err := tx.Query(query, pq.Array(ids))
		if err != nil {
			return nil, err
		}
		defer lendingRows.Close()

		for lendingRows.Next() {
			lending, err := scanLending(lendingRows)
			if err != nil {
				return nil, err
			}
			swept = append(swept, lending)
		}
		if err = lendingRows.Err(); err != nil {
			return nil, err
		}
	}

	if err = tx.Commit(); err != nil {
		return nil, err
	}
	return swept, nil
}

// Delete removes a ledger row. If the lending is still outstanding (ISSUED
// or OVERDUE) the held copy is restored to the book's available count as a
// compensating action before the row is deleted; a RETURNED lending already
// released its copy, so none is restored.
func (m LendingModel) Delete(id int64) error {
	if id < 1 {
		return ErrRecordNotFound
	}

	tx, err := m.DB.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var status LendingStatus
	var bookID int64
	err = tx.QueryRow(`SELECT status, book_id FROM lendings WHERE id = $1 FOR UPDATE`, id).
		Scan(&status, &bookID)
	if err != nil {
		switch {
		case errors.Is(err, sql.ErrNoRows):
			return ErrRecordNotFound
		default:
			return err
		}
	}

	if status == StatusIssued || status == StatusOverdue {
		_, err = tx.Exec(`
			UPDATE books
			SET available_copies = available_copies + 1, updated_at = now(), version = version + 1
			WHERE id = $1`, bookID)
		if err != nil {
			return err
		}
	}

	_, err = tx.Exec(`DELETE FROM lendings WHERE id = $1`, id)
	if err != nil {
		return err
	}

	return tx.Commit()
}

// Get retrieves a single lending with its book and subscriber summaries.
func (m LendingModel) Get(id int64) (*Lending, error) {
	if id < 1 {
		return nil, ErrRecordNotFound
	}
	return getLending(m.DB, id)
}

func getLending(q queryer, id int64) (*Lending, error) {
	query := `SELECT` + lendingColumns + lendingFrom + ` WHERE l.id = $1`

	lending, err := scanLending(q.QueryRow(query, id))
	if err != nil {
		switch {
		case errors.Is(err, sql.ErrNoRows):
			return nil, ErrRecordNotFound
		default:
			return nil, err
		}
	}
	return lending, nil
}

// GetAll retrieves the paginated, sorted lending ledger.
func (m LendingModel) GetAll(filters Filters) ([]*Lending, Metadata, error) {
	query := fmt.Sprintf(`
		SELECT count(*) OVER(),`+lendingColumns+lendingFrom+`
		ORDER BY l.%s %s, l.id ASC
		LIMIT $1 OFFSET $2`, filters.sortColumn(), filters.sortDirection())

	return m.queryLendings(query, filters, filters.limit(), filters.offset())
}

// GetAllByStatus retrieves the paginated lendings in the given status.
func (m LendingModel) GetAllByStatus(status LendingStatus, filters Filters) ([]*Lending, Metadata, error) {
	query := fmt.Sprintf(`
		SELECT count(*) OVER(),`+lendingColumns+lendingFrom+`
		WHERE l.status = $1
		ORDER BY l.%s %s, l.id ASC
		LIMIT $2 OFFSET $3`, filters.sortColumn(), filters.sortDirection())

	return m.queryLendings(query, filters, status, filters.limit(), filters.offset())
}

// GetAllBySubscriber retrieves the paginated lending history for a subscriber.
func (m LendingModel) GetAllBySubscriber(subscriberID int64, filters Filters) ([]*Lending, Metadata, error) {
	query := fmt.Sprintf(`
		SELECT count(*) OVER(),`+lendingColumns+lendingFrom+`
		WHERE l.subscriber_id = $1
		ORDER BY l.%s %s, l.id ASC
		LIMIT $2 OFFSET $3`, filters.sortColumn(), filters.sortDirection())

	return m.queryLendings(query, filters, subscriberID, filters.limit(), filters.offset())
}

// GetCurrentBySubscriber retrieves the subscriber's lendings still in ISSUED.
func (m LendingModel) GetCurrentBySubscriber(subscriberID int64, filters Filters) ([]*Lending, Metadata, error) {
	query := fmt.Sprintf(`
		SELECT count(*) OVER(),`+lendingColumns+lendingFrom+`
		WHERE l.subscriber_id = $1 AND l.status = $2
		ORDER BY l.%s %s, l.id ASC
		LIMIT $3 OFFSET $4`, filters.sortColumn(), filters.sortDirection())

	return m.queryLendings(query, filters, subscriberID, StatusIssued, filters.limit(), filters.offset())
}

func (m LendingModel) queryLendings(query string, filters Filters, args ...any) ([]*Lending, Metadata, error) {
	rows, err := m.DB.Query(query, args...)
	if err != nil {
		return nil, Metadata{}, err
	}
	defer rows.Close()

	totalRecords := 0
	lendings := []*Lending{}

	for rows.Next() {
		lending, err := scanLending(rows, &totalRecords)
		if err != nil {
			return nil, Metadata{}, err
		}
		lendings = append(lendings, lending)
	}
	if err = rows.Err(); err != nil {
		return nil, Metadata{}, err
	}

	return lendings, calculateMetadata(totalRecords, filters.Page, filters.PageSize), nil
}

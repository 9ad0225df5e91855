// internal/data/subscribers.go
package data

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/clms/library-api/internal/validator"
)

// Subscriber represents a library member who can borrow books.
type Subscriber struct {
	ID                int64     `json:"id"`
	Name              string    `json:"name"`
	Email             string    `json:"email"`
	PhoneNumber       string    `json:"phone_number,omitempty"`
	LibraryCardNumber string    `json:"library_card_number"`
	Active            bool      `json:"active"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}

// ValidateSubscriber checks the fields of a subscriber record.
func ValidateSubscriber(v *validator.Validator, subscriber *Subscriber) {
	v.Check(validator.NotBlank(subscriber.Name), "name", "must be provided")
	v.Check(len(subscriber.Name) <= 255, "name", "must not be more than 255 characters long")
	v.Check(validator.NotBlank(subscriber.Email), "email", "must be provided")
	v.Check(validator.Matches(subscriber.Email, validator.EmailRX), "email", "must be a valid email address")
	v.Check(validator.NotBlank(subscriber.LibraryCardNumber), "library_card_number", "must be provided")
	v.Check(len(subscriber.LibraryCardNumber) <= 64, "library_card_number", "must not be more than 64 characters long")
}

// SubscriberStore is the persistence interface for subscribers.
type SubscriberStore interface {
	Insert(subscriber *Subscriber) error
	Get(id int64) (*Subscriber, error)
	GetByCardNumber(cardNumber string) (*Subscriber, error)
	GetAll(name string, filters Filters) ([]*Subscriber, Metadata, error)
	GetActive(filters Filters) ([]*Subscriber, Metadata, error)
	Update(subscriber *Subscriber) error
	SetActive(id int64, active bool) (*Subscriber, error)
	Delete(id int64) error
	CountOutstanding(id int64) (int, error)
}

// SubscriberModel wraps a *sql.DB connection and provides methods for
// creating, reading, updating, and deleting subscriber records.
type SubscriberModel struct {
	DB *sql.DB
}

const subscriberColumns = `id, name, email, COALESCE(phone_number, ''), library_card_number, active, created_at, updated_at`

func scanSubscriber(row interface{ Scan(...any) error }, extra ...any) (*Subscriber, error) {
	var s Subscriber
	dest := append(extra,
		&s.ID,
		&s.Name,
		&s.Email,
		&s.PhoneNumber,
		&s.LibraryCardNumber,
		&s.Active,
		&s.CreatedAt,
		&s.UpdatedAt,
	)
	if err := row.Scan(dest...); err != nil {
		return nil, err
	}
	return &s, nil
}

// Insert adds a new subscriber. New subscribers always start active.
// Duplicate email or card number surface as dedicated conflict errors.
func (m SubscriberModel) Insert(subscriber *Subscriber) error {
	query := `
		INSERT INTO subscribers (name, email, phone_number, library_card_number, active)
		VALUES ($1, $2, NULLIF($3, ''), $4, true)
		RETURNING id, active, created_at, updated_at`

	err := m.DB.QueryRow(
		query,
		subscriber.Name,
		subscriber.Email,
		subscriber.PhoneNumber,
		subscriber.LibraryCardNumber,
	).Scan(&subscriber.ID, &subscriber.Active, &subscriber.CreatedAt, &subscriber.UpdatedAt)
	if err != nil {
		switch {
		case isUniqueViolation(err, "subscribers_email_key"):
			return ErrDuplicateEmail
		case isUniqueViolation(err, "subscribers_library_card_number_key"):
			return ErrDuplicateCardNumber
		default:
			return err
		}
	}
	return nil
}

// Get retrieves a single subscriber by id.
func (m SubscriberModel) Get(id int64) (*Subscriber, error) {
	if id < 1 {
		return nil, ErrRecordNotFound
	}

	query := `SELECT ` + subscriberColumns + ` FROM subscribers WHERE id = $1`

	subscriber, err := scanSubscriber(m.DB.QueryRow(query, id))
	if err != nil {
		switch {
		case errors.Is(err, sql.ErrNoRows):
			return nil, ErrRecordNotFound
		default:
			return nil, err
		}
	}
	return subscriber, nil
}

// GetByCardNumber retrieves a single subscriber by library card number.
func (m SubscriberModel) GetByCardNumber(cardNumber string) (*Subscriber, error) {
	query := `SELECT ` + subscriberColumns + ` FROM subscribers WHERE library_card_number = $1`

	subscriber, err := scanSubscriber(m.DB.QueryRow(query, cardNumber))
	if err != nil {
		switch {
		case errors.Is(err, sql.ErrNoRows):
			return nil, ErrRecordNotFound
		default:
			return nil, err
		}
	}
	return subscriber, nil
}

// GetAll retrieves a paginated, sorted list of subscribers, optionally
// filtered by a case-insensitive name substring.
func (m SubscriberModel) GetAll(name string, filters Filters) ([]*Subscriber, Metadata, error) {
	query := fmt.Sprintf(`
		SELECT count(*) OVER(), `+subscriberColumns+`
		FROM subscribers
		WHERE ($1 = '' OR name ILIKE '%%' || $1 || '%%')
		ORDER BY %s %s, id ASC
		LIMIT $2 OFFSET $3`, filters.sortColumn(), filters.sortDirection())

	return m.querySubscribers(query, filters, name, filters.limit(), filters.offset())
}

// GetActive retrieves the paginated subscribers whose active flag is set.
func (m SubscriberModel) GetActive(filters Filters) ([]*Subscriber, Metadata, error) {
	query := fmt.Sprintf(`
		SELECT count(*) OVER(), `+subscriberColumns+`
		FROM subscribers
		WHERE active = true
		ORDER BY %s %s, id ASC
		LIMIT $1 OFFSET $2`, filters.sortColumn(), filters.sortDirection())

	return m.querySubscribers(query, filters, filters.limit(), filters.offset())
}

func (m SubscriberModel) querySubscribers(query string, filters Filters, args ...any) ([]*Subscriber, Metadata, error) {
	rows, err := m.DB.Query(query, args...)
	if err != nil {
		return nil, Metadata{}, err
	}
	defer rows.Close()

	totalRecords := 0
	subscribers := []*Subscriber{}

	for rows.Next() {
		subscriber, err := scanSubscriber(rows, &totalRecords)
		if err != nil {
			return nil, Metadata{}, err
		}
		subscribers = append(subscribers, subscriber)
	}
	if err = rows.Err(); err != nil {
		return nil, Metadata{}, err
	}

	return subscribers, calculateMetadata(totalRecords, filters.Page, filters.PageSize), nil
}

// Update saves the subscriber's name, email, phone number, and card number.
func (m SubscriberModel) Update(subscriber *Subscriber) error {
	query := `
		UPDATE subscribers
		SET name = $1, email = $2, phone_number = NULLIF($3, ''), library_card_number = $4,
		    updated_at = now()
		WHERE id = $5
		RETURNING updated_at`

	err := m.DB.QueryRow(
		query,
		subscriber.Name,
		subscriber.Email,
		subscriber.PhoneNumber,
		subscriber.LibraryCardNumber,
		subscriber.ID,
	).Scan(&subscriber.UpdatedAt)
	if err != nil {
		switch {
		case errors.Is(err, sql.ErrNoRows):
			return ErrRecordNotFound
		case isUniqueViolation(err, "subscribers_email_key"):
			return ErrDuplicateEmail
		case isUniqueViolation(err, "subscribers_library_card_number_key"):
			return ErrDuplicateCardNumber
		default:
			return err
		}
	}
	return nil
}

// SetActive flips the subscriber's active flag. Deactivation is refused with
// ErrOutstandingLoans while the subscriber holds any ISSUED or OVERDUE
// lending; the count check and the flag write share one transaction so a
// concurrent issue cannot slip between them.
func (m SubscriberModel) SetActive(id int64, active bool) (*Subscriber, error) {
	if id < 1 {
		return nil, ErrRecordNotFound
	}

	tx, err := m.DB.Begin()
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	// Lock the subscriber row first so the outstanding-loan count cannot
	// change underneath us.
	var locked bool
	err = tx.QueryRow(`SELECT true FROM subscribers WHERE id = $1 FOR UPDATE`, id).Scan(&locked)
	if err != nil {
		switch {
		case errors.Is(err, sql.ErrNoRows):
			return nil, ErrRecordNotFound
		default:
			return nil, err
		}
	}

	if !active {
		outstanding, err := countOutstanding(tx, id)
		if err != nil {
			return nil, err
		}
		if outstanding > 0 {
			return nil, ErrOutstandingLoans
		}
	}

	query := `
		UPDATE subscribers
		SET active = $2, updated_at = now()
		WHERE id = $1
		RETURNING ` + subscriberColumns

	subscriber, err := scanSubscriber(tx.QueryRow(query, id, active))
	if err != nil {
		return nil, err
	}

	if err = tx.Commit(); err != nil {
		return nil, err
	}
	return subscriber, nil
}

// Delete removes the subscriber with the given id, refusing with
// ErrOutstandingLoans while any ISSUED or OVERDUE lending exists for them.
func (m SubscriberModel) Delete(id int64) error {
	if id < 1 {
		return ErrRecordNotFound
	}

	query := `
		DELETE FROM subscribers
		WHERE id = $1
		AND NOT EXISTS (
			SELECT 1 FROM lendings
			WHERE subscriber_id = $1 AND status IN ('ISSUED', 'OVERDUE')
		)`

	result, err := m.DB.Exec(query, id)
	if err != nil {
		return err
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rowsAffected == 0 {
		var exists bool
		err = m.DB.QueryRow(`SELECT EXISTS (SELECT 1 FROM subscribers WHERE id = $1)`, id).Scan(&exists)
		if err != nil {
			return err
		}
		if exists {
			return ErrOutstandingLoans
		}
		return ErrRecordNotFound
	}
	return nil
}

// CountOutstanding reports how many ISSUED or OVERDUE lendings the
// subscriber currently holds. A single count query, not an enumeration.
func (m SubscriberModel) CountOutstanding(id int64) (int, error) {
	return countOutstanding(m.DB, id)
}

// queryer is the subset of *sql.DB and *sql.Tx used by shared query helpers.
type queryer interface {
	QueryRow(query string, args ...any) *sql.Row
	Query(query string, args ...any) (*sql.Rows, error)
	Exec(query string, args ...any) (sql.Result, error)
}

func countOutstanding(q queryer, subscriberID int64) (int, error) {
	var count int
	err := q.QueryRow(`
		SELECT count(*) FROM lendings
		WHERE subscriber_id = $1 AND status IN ('ISSUED', 'OVERDUE')`, subscriberID).Scan(&count)
	return count, err
}

// internal/data/authors.go
package data

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/clms/library-api/internal/validator"
)

// Author represents a book author. Names are unique case-insensitively.
type Author struct {
	ID          int64     `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// ValidateAuthor checks the fields of an author record.
func ValidateAuthor(v *validator.Validator, author *Author) {
	v.Check(validator.NotBlank(author.Name), "name", "must be provided")
	v.Check(len(author.Name) <= 255, "name", "must not be more than 255 characters long")
	v.Check(len(author.Description) <= 2000, "description", "must not be more than 2000 characters long")
}

// AuthorStore is the persistence interface for authors.
type AuthorStore interface {
	Insert(author *Author) error
	Get(id int64) (*Author, error)
	GetAll(name string, filters Filters) ([]*Author, Metadata, error)
	Update(author *Author) error
	Delete(id int64) error
}

// AuthorModel wraps a *sql.DB connection and provides methods for
// creating, reading, updating, and deleting author records.
type AuthorModel struct {
	DB *sql.DB
}

// Insert adds a new author. A name that collides case-insensitively with an
// existing author surfaces as ErrDuplicateName.
func (m AuthorModel) Insert(author *Author) error {
	query := `
		INSERT INTO authors (name, description)
		VALUES ($1, $2)
		RETURNING id, created_at, updated_at`

	err := m.DB.QueryRow(query, author.Name, author.Description).
		Scan(&author.ID, &author.CreatedAt, &author.UpdatedAt)
	if err != nil {
		switch {
		case isUniqueViolation(err, "authors_name_lower_idx"):
			return ErrDuplicateName
		default:
			return err
		}
	}
	return nil
}

// Get retrieves a single author by id.
func (m AuthorModel) Get(id int64) (*Author, error) {
	if id < 1 {
		return nil, ErrRecordNotFound
	}

	query := `
		SELECT id, name, COALESCE(description, ''), created_at, updated_at
		FROM authors
		WHERE id = $1`

	var author Author
	err := m.DB.QueryRow(query, id).Scan(
		&author.ID,
		&author.Name,
		&author.Description,
		&author.CreatedAt,
		&author.UpdatedAt,
	)
	if err != nil {
		switch {
		case errors.Is(err, sql.ErrNoRows):
			return nil, ErrRecordNotFound
		default:
			return nil, err
		}
	}
	return &author, nil
}

// GetAll retrieves a paginated, sorted list of authors, optionally filtered
// by a case-insensitive name substring.
func (m AuthorModel) GetAll(name string, filters Filters) ([]*Author, Metadata, error) {
	query := fmt.Sprintf(`
		SELECT count(*) OVER(), id, name, COALESCE(description, ''), created_at, updated_at
		FROM authors
		WHERE ($1 = '' OR name ILIKE '%%' || $1 || '%%')
		ORDER BY %s %s, id ASC
		LIMIT $2 OFFSET $3`, filters.sortColumn(), filters.sortDirection())

	rows, err := m.DB.Query(query, name, filters.limit(), filters.offset())
	if err != nil {
		return nil, Metadata{}, err
	}
	defer rows.Close()

	totalRecords := 0
	authors := []*Author{}

	for rows.Next() {
		var author Author
		err := rows.Scan(
			&totalRecords,
			&author.ID,
			&author.Name,
			&author.Description,
			&author.CreatedAt,
			&author.UpdatedAt,
		)
		if err != nil {
			return nil, Metadata{}, err
		}
		authors = append(authors, &author)
	}
	if err = rows.Err(); err != nil {
		return nil, Metadata{}, err
	}

	return authors, calculateMetadata(totalRecords, filters.Page, filters.PageSize), nil
}

// Update saves the author's name and description.
func (m AuthorModel) Update(author *Author) error {
	query := `
		UPDATE authors
		SET name = $1, description = $2, updated_at = now()
		WHERE id = $3
		RETURNING updated_at`

	err := m.DB.QueryRow(query, author.Name, author.Description, author.ID).
		Scan(&author.UpdatedAt)
	if err != nil {
		switch {
		case errors.Is(err, sql.ErrNoRows):
			return ErrRecordNotFound
		case isUniqueViolation(err, "authors_name_lower_idx"):
			return ErrDuplicateName
		default:
			return err
		}
	}
	return nil
}

// Delete removes the author with the given id. An author referenced by any
// book is in use and cannot be deleted; the "no reference" predicate is part
// of the DELETE so the check and the removal are one atomic statement.
func (m AuthorModel) Delete(id int64) error {
	if id < 1 {
		return ErrRecordNotFound
	}

	query := `
		DELETE FROM authors
		WHERE id = $1
		AND NOT EXISTS (SELECT 1 FROM book_authors WHERE author_id = $1)`

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
		err = m.DB.QueryRow(`SELECT EXISTS (SELECT 1 FROM authors WHERE id = $1)`, id).Scan(&exists)
		if err != nil {
			return err
		}
		if exists {
			return ErrInUse
		}
		return ErrRecordNotFound
	}
	return nil
}

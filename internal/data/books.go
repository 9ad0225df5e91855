// Package data provides the data models and database interaction logic
// for the library management system.
package data

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/clms/library-api/internal/validator"
)

// Book represents a single book record stored in the database.
// Author and category memberships are held as id sets; the join rows live in
// the book_authors and book_categories tables.
type Book struct {
	ID              int64     `json:"id"`                         // Unique identifier assigned by the database
	Title           string    `json:"title"`                      // Title of the book
	ISBN            string    `json:"isbn,omitempty"`             // Optional unique ISBN; empty means none
	PublicationDate *Date     `json:"publication_date,omitempty"` // Optional publication date
	TotalCopies     int       `json:"total_copies"`               // Copies owned by the library
	AvailableCopies int       `json:"available_copies"`           // Copies currently on the shelf
	AuthorIDs       []int64   `json:"author_ids"`                 // Ids of the book's authors
	CategoryIDs     []int64   `json:"category_ids"`               // Ids of the book's categories
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
	Version         int       `json:"version"` // Optimistic-lock version, bumped on every update
}

// OnLoan reports how many copies are currently checked out.
func (b *Book) OnLoan() int {
	return b.TotalCopies - b.AvailableCopies
}

// AdjustAvailableCopies applies a change in total copies to an availability
// count, clamping at zero. Shrinking the total can drive availability to zero
// even while copies are checked out; that behavior is deliberate (see the
// copies handler).
func AdjustAvailableCopies(available, oldTotal, newTotal int) int {
	if adjusted := available + newTotal - oldTotal; adjusted > 0 {
		return adjusted
	}
	return 0
}

// ValidateBook checks the invariants every book must satisfy before it is
// written to the database.
func ValidateBook(v *validator.Validator, book *Book) {
	v.Check(validator.NotBlank(book.Title), "title", "must be provided")
	v.Check(len(book.Title) <= 500, "title", "must not be more than 500 characters long")
	if book.ISBN != "" {
		v.Check(len(book.ISBN) >= 10 && len(book.ISBN) <= 17, "isbn", "must be between 10 and 17 characters long")
	}
	v.Check(book.TotalCopies >= 0, "total_copies", "must not be negative")
	v.Check(book.AvailableCopies >= 0, "available_copies", "must not be negative")
	v.Check(book.AvailableCopies <= book.TotalCopies, "available_copies", "must not exceed total copies")
	v.Check(validator.UniqueIDs(book.AuthorIDs), "author_ids", "must not contain duplicate values")
	v.Check(validator.UniqueIDs(book.CategoryIDs), "category_ids", "must not contain duplicate values")
}

// BookStore is the persistence interface for books. BookModel is the
// SQL-backed implementation; tests substitute in-memory doubles.
type BookStore interface {
	Insert(book *Book) error
	Get(id int64) (*Book, error)
	GetByISBN(isbn string) (*Book, error)
	GetAll(title string, filters Filters) ([]*Book, Metadata, error)
	GetAllByAuthor(authorID int64, filters Filters) ([]*Book, Metadata, error)
	GetAllByCategory(categoryID int64, filters Filters) ([]*Book, Metadata, error)
	GetAvailable(filters Filters) ([]*Book, Metadata, error)
	Update(book *Book) error
	UpdateCopies(id int64, totalCopies int) (*Book, error)
	Delete(id int64) error
}

// BookModel wraps a *sql.DB connection and provides methods for
// creating, reading, updating, and deleting book records.
type BookModel struct {
	DB *sql.DB // Shared database connection pool
}

// bookColumns is the SELECT list shared by every book read. The two
// correlated subqueries gather the association id sets without a GROUP BY.
const bookColumns = `
	b.id, b.title, COALESCE(b.isbn, ''), b.publication_date,
	b.total_copies, b.available_copies, b.created_at, b.updated_at, b.version,
	(SELECT COALESCE(array_agg(ba.author_id ORDER BY ba.author_id), '{}') FROM book_authors ba WHERE ba.book_id = b.id),
	(SELECT COALESCE(array_agg(bc.category_id ORDER BY bc.category_id), '{}') FROM book_categories bc WHERE bc.book_id = b.id)`

// scanBook reads one row produced by a bookColumns query into a Book,
// prefixed by extra scan targets (such as a window count).
func scanBook(row interface{ Scan(...any) error }, extra ...any) (*Book, error) {
	var book Book
	var pubDate sql.NullTime
	var authorIDs, categoryIDs pq.Int64Array

	dest := append(extra,
		&book.ID,
		&book.Title,
		&book.ISBN,
		&pubDate,
		&book.TotalCopies,
		&book.AvailableCopies,
		&book.CreatedAt,
		&book.UpdatedAt,
		&book.Version,
		&authorIDs,
		&categoryIDs,
	)

	if err := row.Scan(dest...); err != nil {
		return nil, err
	}

	if pubDate.Valid {
		d := NewDate(pubDate.Time)
		book.PublicationDate = &d
	}
	book.AuthorIDs = authorIDs
	book.CategoryIDs = categoryIDs
	return &book, nil
}

// Insert adds a new book record plus its author/category join rows in a
// single transaction. The database-assigned id, timestamps, and version are
// written back into the book struct. A missing author or category id
// surfaces as ErrRecordNotFound; a duplicate ISBN as ErrDuplicateISBN.
func (m BookModel) Insert(book *Book) error {
	tx, err := m.DB.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	query := `
		INSERT INTO books (title, isbn, publication_date, total_copies, available_copies)
		VALUES ($1, NULLIF($2, ''), $3, $4, $5)
		RETURNING id, created_at, updated_at, version`

	var pubDate any
	if book.PublicationDate != nil {
		pubDate = *book.PublicationDate
	}

	err = tx.QueryRow(
		query,
		book.Title,
		book.ISBN,
		pubDate,
		book.TotalCopies,
		book.AvailableCopies,
	).Scan(&book.ID, &book.CreatedAt, &book.UpdatedAt, &book.Version)
	if err != nil {
		switch {
		case isUniqueViolation(err, "books_isbn_key"):
			return ErrDuplicateISBN
		default:
			return err
		}
	}

	err = insertBookAssociations(tx, book)
	if err != nil {
		return err
	}

	return tx.Commit()
}

// insertBookAssociations writes the join rows for book's author and category
// id sets. A foreign-key violation means the referenced author or category
// does not exist.
func insertBookAssociations(tx *sql.Tx, book *Book) error {
	for _, authorID := range book.AuthorIDs {
		_, err := tx.Exec(`INSERT INTO book_authors (book_id, author_id) VALUES ($1, $2)`, book.ID, authorID)
		if err != nil {
			if isForeignKeyViolation(err, "book_authors_author_id_fkey") {
				return fmt.Errorf("author %d: %w", authorID, ErrRecordNotFound)
			}
			return err
		}
	}
	for _, categoryID := range book.CategoryIDs {
		_, err := tx.Exec(`INSERT INTO book_categories (book_id, category_id) VALUES ($1, $2)`, book.ID, categoryID)
		if err != nil {
			if isForeignKeyViolation(err, "book_categories_category_id_fkey") {
				return fmt.Errorf("category %d: %w", categoryID, ErrRecordNotFound)
			}
			return err
		}
	}
	return nil
}

// Get retrieves a single book by its primary key.
// Returns ErrRecordNotFound if no book with the given id exists.
func (m BookModel) Get(id int64) (*Book, error) {
	if id < 1 {
		return nil, ErrRecordNotFound
	}

	query := `SELECT` + bookColumns + ` FROM books b WHERE b.id = $1`

	book, err := scanBook(m.DB.QueryRow(query, id))
	if err != nil {
		switch {
		case errors.Is(err, sql.ErrNoRows):
			return nil, ErrRecordNotFound
		default:
			return nil, err
		}
	}
	return book, nil
}

// GetByISBN retrieves a single book by its unique ISBN.
func (m BookModel) GetByISBN(isbn string) (*Book, error) {
	query := `SELECT` + bookColumns + ` FROM books b WHERE b.isbn = $1`

	book, err := scanBook(m.DB.QueryRow(query, isbn))
	if err != nil {
		switch {
		case errors.Is(err, sql.ErrNoRows):
			return nil, ErrRecordNotFound
		default:
			return nil, err
		}
	}
	return book, nil
}

// GetAll retrieves a paginated, sorted list of books, optionally filtered by
// a case-insensitive title substring. It uses a COUNT(*) OVER() window
// function so only one round-trip is needed.
func (m BookModel) GetAll(title string, filters Filters) ([]*Book, Metadata, error) {
	query := fmt.Sprintf(`
		SELECT count(*) OVER(),`+bookColumns+`
		FROM books b
		WHERE ($1 = '' OR b.title ILIKE '%%' || $1 || '%%' OR b.isbn = $1)
		ORDER BY b.%s %s, b.id ASC
		LIMIT $2 OFFSET $3`, filters.sortColumn(), filters.sortDirection())

	return m.queryBooks(query, filters, title, filters.limit(), filters.offset())
}

// GetAllByAuthor retrieves the paginated books linked to the given author.
func (m BookModel) GetAllByAuthor(authorID int64, filters Filters) ([]*Book, Metadata, error) {
	query := fmt.Sprintf(`
		SELECT count(*) OVER(),`+bookColumns+`
		FROM books b
		JOIN book_authors ba ON ba.book_id = b.id
		WHERE ba.author_id = $1
		ORDER BY b.%s %s, b.id ASC
		LIMIT $2 OFFSET $3`, filters.sortColumn(), filters.sortDirection())

	return m.queryBooks(query, filters, authorID, filters.limit(), filters.offset())
}

// GetAllByCategory retrieves the paginated books linked to the given category.
func (m BookModel) GetAllByCategory(categoryID int64, filters Filters) ([]*Book, Metadata, error) {
	query := fmt.Sprintf(`
		SELECT count(*) OVER(),`+bookColumns+`
		FROM books b
		JOIN book_categories bc ON bc.book_id = b.id
		WHERE bc.category_id = $1
		ORDER BY b.%s %s, b.id ASC
		LIMIT $2 OFFSET $3`, filters.sortColumn(), filters.sortDirection())

	return m.queryBooks(query, filters, categoryID, filters.limit(), filters.offset())
}

// GetAvailable retrieves the paginated books with at least one copy on the shelf.
func (m BookModel) GetAvailable(filters Filters) ([]*Book, Metadata, error) {
	query := fmt.Sprintf(`
		SELECT count(*) OVER(),`+bookColumns+`
		FROM books b
		WHERE b.available_copies > 0
		ORDER BY b.%s %s, b.id ASC
		LIMIT $1 OFFSET $2`, filters.sortColumn(), filters.sortDirection())

	return m.queryBooks(query, filters, filters.limit(), filters.offset())
}

// queryBooks runs a windowed book query and assembles the result slice plus
// pagination metadata.
func (m BookModel) queryBooks(query string, filters Filters, args ...any) ([]*Book, Metadata, error) {
	rows, err := m.DB.Query(query, args...)
	if err != nil {
		return nil, Metadata{}, err
	}
	defer rows.Close()

	totalRecords := 0
	books := []*Book{}

	for rows.Next() {
		book, err := scanBook(rows, &totalRecords)
		if err != nil {
			return nil, Metadata{}, err
		}
		books = append(books, book)
	}
	if err = rows.Err(); err != nil {
		return nil, Metadata{}, err
	}

	return books, calculateMetadata(totalRecords, filters.Page, filters.PageSize), nil
}

// Update saves the book's title, ISBN, publication date, and association sets.
// Copy counts are changed only through UpdateCopies and the lending
// operations. The version check turns a lost update into ErrEditConflict.
func (m BookModel) Update(book *Book) error {
	tx, err := m.DB.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	query := `
		UPDATE books
		SET title = $1, isbn = NULLIF($2, ''), publication_date = $3,
		    updated_at = now(), version = version + 1
		WHERE id = $4 AND version = $5
		RETURNING updated_at, version`

	var pubDate any
	if book.PublicationDate != nil {
		pubDate = *book.PublicationDate
	}

	err = tx.QueryRow(query, book.Title, book.ISBN, pubDate, book.ID, book.Version).
		Scan(&book.UpdatedAt, &book.Version)
	if err != nil {
		switch {
		case errors.Is(err, sql.ErrNoRows):
			return ErrEditConflict
		case isUniqueViolation(err, "books_isbn_key"):
			return ErrDuplicateISBN
		default:
			return err
		}
	}

	// Replace the association sets wholesale.
	_, err = tx.Exec(`DELETE FROM book_authors WHERE book_id = $1`, book.ID)
	if err != nil {
		return err
	}
	_, err = tx.Exec(`DELETE FROM book_categories WHERE book_id = $1`, book.ID)
	if err != nil {
		return err
	}
	err = insertBookAssociations(tx, book)
	if err != nil {
		return err
	}

	return tx.Commit()
}

// UpdateCopies sets the book's total copy count and shifts the available
// count by the same delta, clamped at zero, in a single atomic statement.
// The GREATEST expression mirrors AdjustAvailableCopies.
func (m BookModel) UpdateCopies(id int64, totalCopies int) (*Book, error) {
	if id < 1 {
		return nil, ErrRecordNotFound
	}

	query := `
		UPDATE books
		SET available_copies = GREATEST(0, available_copies + ($2 - total_copies)),
		    total_copies = $2,
		    updated_at = now(), version = version + 1
		WHERE id = $1`

	result, err := m.DB.Exec(query, id, totalCopies)
	if err != nil {
		return nil, err
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return nil, err
	}
	if rowsAffected == 0 {
		return nil, ErrRecordNotFound
	}

	return m.Get(id)
}

// Delete removes the book with the given id. Deletion is blocked with
// ErrCopiesOnLoan while any copy is checked out (total > available); the
// guard is expressed in the DELETE predicate so it cannot race a concurrent
// issue.
func (m BookModel) Delete(id int64) error {
	if id < 1 {
		return ErrRecordNotFound
	}

	query := `DELETE FROM books WHERE id = $1 AND total_copies = available_copies`

	result, err := m.DB.Exec(query, id)
	if err != nil {
		return err
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rowsAffected == 0 {
		// Distinguish a missing book from one with copies on loan.
		var exists bool
		err = m.DB.QueryRow(`SELECT EXISTS (SELECT 1 FROM books WHERE id = $1)`, id).Scan(&exists)
		if err != nil {
			return err
		}
		if exists {
			return ErrCopiesOnLoan
		}
		return ErrRecordNotFound
	}

	return nil
}

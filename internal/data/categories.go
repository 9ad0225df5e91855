// internal/data/categories.go
package data

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/clms/library-api/internal/validator"
)

// Category represents a book category. Names are unique case-insensitively.
type Category struct {
	ID          int64     `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// ValidateCategory checks the fields of a category record.
func ValidateCategory(v *validator.Validator, category *Category) {
	v.Check(validator.NotBlank(category.Name), "name", "must be provided")
	v.Check(len(category.Name) <= 255, "name", "must not be more than 255 characters long")
	v.Check(len(category.Description) <= 2000, "description", "must not be more than 2000 characters long")
}

// CategoryStore is the persistence interface for categories.
type CategoryStore interface {
	Insert(category *Category) error
	Get(id int64) (*Category, error)
	GetAll(name string, filters Filters) ([]*Category, Metadata, error)
	Update(category *Category) error
	Delete(id int64) error
}

// CategoryModel wraps a *sql.DB connection and provides methods for
// creating, reading, updating, and deleting category records.
type CategoryModel struct {
	DB *sql.DB
}

// Insert adds a new category. A name that collides case-insensitively with
// an existing category surfaces as ErrDuplicateName.
func (m CategoryModel) Insert(category *Category) error {
	query := `
		INSERT INTO categories (name, description)
		VALUES ($1, $2)
		RETURNING id, created_at, updated_at`

	err := m.DB.QueryRow(query, category.Name, category.Description).
		Scan(&category.ID, &category.CreatedAt, &category.UpdatedAt)
	if err != nil {
		switch {
		case isUniqueViolation(err, "categories_name_lower_idx"):
			return ErrDuplicateName
		default:
			return err
		}
	}
	return nil
}

// Get retrieves a single category by id.
func (m CategoryModel) Get(id int64) (*Category, error) {
	if id < 1 {
		return nil, ErrRecordNotFound
	}

	query := `
		SELECT id, name, COALESCE(description, ''), created_at, updated_at
		FROM categories
		WHERE id = $1`

	var category Category
	err := m.DB.QueryRow(query, id).Scan(
		&category.ID,
		&category.Name,
		&category.Description,
		&category.CreatedAt,
		&category.UpdatedAt,
	)
	if err != nil {
		switch {
		case errors.Is(err, sql.ErrNoRows):
			return nil, ErrRecordNotFound
		default:
			return nil, err
		}
	}
	return &category, nil
}

// GetAll retrieves a paginated, sorted list of categories, optionally
// filtered by a case-insensitive name substring.
func (m CategoryModel) GetAll(name string, filters Filters) ([]*Category, Metadata, error) {
	query := fmt.Sprintf(`
		SELECT count(*) OVER(), id, name, COALESCE(description, ''), created_at, updated_at
		FROM categories
		WHERE ($1 = '' OR name ILIKE '%%' || $1 || '%%')
		ORDER BY %s %s, id ASC
		LIMIT $2 OFFSET $3`, filters.sortColumn(), filters.sortDirection())

	rows, err := m.DB.Query(query, name, filters.limit(), filters.offset())
	if err != nil {
		return nil, Metadata{}, err
	}
	defer rows.Close()

	totalRecords := 0
	categories := []*Category{}

	for rows.Next() {
		var category Category
		err := rows.Scan(
			&totalRecords,
			&category.ID,
			&category.Name,
			&category.Description,
			&category.CreatedAt,
			&category.UpdatedAt,
		)
		if err != nil {
			return nil, Metadata{}, err
		}
		categories = append(categories, &category)
	}
	if err = rows.Err(); err != nil {
		return nil, Metadata{}, err
	}

	return categories, calculateMetadata(totalRecords, filters.Page, filters.PageSize), nil
}

// Update saves the category's name and description.
func (m CategoryModel) Update(category *Category) error {
	query := `
		UPDATE categories
		SET name = $1, description = $2, updated_at = now()
		WHERE id = $3
		RETURNING updated_at`

	err := m.DB.QueryRow(query, category.Name, category.Description, category.ID).
		Scan(&category.UpdatedAt)
	if err != nil {
		switch {
		case errors.Is(err, sql.ErrNoRows):
			return ErrRecordNotFound
		case isUniqueViolation(err, "categories_name_lower_idx"):
			return ErrDuplicateName
		default:
			return err
		}
	}
	return nil
}

// Delete removes the category with the given id, refusing while any book
// still references it. Same atomic shape as AuthorModel.Delete.
func (m CategoryModel) Delete(id int64) error {
	if id < 1 {
		return ErrRecordNotFound
	}

	query := `
		DELETE FROM categories
		WHERE id = $1
		AND NOT EXISTS (SELECT 1 FROM book_categories WHERE category_id = $1)`

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
		err = m.DB.QueryRow(`SELECT EXISTS (SELECT 1 FROM categories WHERE id = $1)`, id).Scan(&exists)
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

// internal/data/users.go
// Staff user accounts: login, display name, role set, active flag, and a
// bcrypt password hash. Roles gate which API operations a user may call;
// the policy itself lives in the HTTP layer.
package data

import (
	"database/sql"
	"errors"
	"time"

	"github.com/lib/pq"
	"golang.org/x/crypto/bcrypt"

	"github.com/clms/library-api/internal/validator"
)

// Role names a staff user can hold.
const (
	RoleUserAdmin = "USER_ADMIN"
	RoleBookAdmin = "BOOK_ADMIN"
	RoleLibrarian = "LIBRARIAN"
)

// Roles lists every valid role, in the order they render.
var Roles = []string{RoleUserAdmin, RoleBookAdmin, RoleLibrarian}

// User represents a staff account that operates the system.
type User struct {
	ID        int64     `json:"id"`
	Login     string    `json:"login"`
	Name      string    `json:"name"`
	Roles     []string  `json:"roles"`
	Active    bool      `json:"active"`
	Password  password  `json:"-"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// AnonymousUser stands in for an unauthenticated request.
var AnonymousUser = &User{}

// IsAnonymous reports whether the user is the anonymous placeholder.
func (u *User) IsAnonymous() bool {
	return u == AnonymousUser
}

// HasRole reports whether the user holds the named role.
func (u *User) HasRole(role string) bool {
	for _, r := range u.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// password holds the optional plaintext (only ever in memory, during create
// or password change) and the bcrypt hash that is actually stored.
type password struct {
	plaintext *string
	hash      []byte
}

// Set hashes the plaintext password with bcrypt and stores both forms.
func (p *password) Set(plaintextPassword string) error {
	hash, err := bcrypt.GenerateFromPassword([]byte(plaintextPassword), 12)
	if err != nil {
		return err
	}
	p.plaintext = &plaintextPassword
	p.hash = hash
	return nil
}

// Matches reports whether the plaintext password matches the stored hash.
func (p *password) Matches(plaintextPassword string) (bool, error) {
	err := bcrypt.CompareHashAndPassword(p.hash, []byte(plaintextPassword))
	if err != nil {
		switch {
		case errors.Is(err, bcrypt.ErrMismatchedHashAndPassword):
			return false, nil
		default:
			return false, err
		}
	}
	return true, nil
}

// ValidatePasswordPlaintext checks a caller-supplied password.
func ValidatePasswordPlaintext(v *validator.Validator, plaintext string) {
	v.Check(plaintext != "", "password", "must be provided")
	v.Check(len(plaintext) >= 8, "password", "must be at least 8 characters long")
	v.Check(len(plaintext) <= 72, "password", "must not be more than 72 characters long")
}

// ValidateUser checks the fields of a user record. The plaintext password is
// validated separately when one is being set.
func ValidateUser(v *validator.Validator, user *User) {
	v.Check(validator.NotBlank(user.Login), "login", "must be provided")
	v.Check(len(user.Login) <= 100, "login", "must not be more than 100 characters long")
	v.Check(validator.NotBlank(user.Name), "name", "must be provided")
	v.Check(len(user.Name) <= 255, "name", "must not be more than 255 characters long")
	v.Check(len(user.Roles) > 0, "roles", "must contain at least one role")
	v.Check(validator.Unique(user.Roles), "roles", "must not contain duplicate values")
	for _, role := range user.Roles {
		v.Check(validator.In(role, Roles...), "roles", "must only contain valid roles")
	}
}

// UserStore is the persistence interface for staff users.
type UserStore interface {
	Insert(user *User) error
	Get(id int64) (*User, error)
	GetByLogin(login string) (*User, error)
	GetAll() ([]*User, error)
	GetAllByRole(role string) ([]*User, error)
	Update(user *User) error
	SetActive(id int64, active bool) (*User, error)
	Delete(id int64) error
}

// UserModel wraps a *sql.DB connection and provides methods for
// creating, reading, updating, and deleting user records.
type UserModel struct {
	DB *sql.DB
}

const userColumns = `id, login, name, roles, active, password_hash, created_at, updated_at`

func scanUser(row interface{ Scan(...any) error }) (*User, error) {
	var user User
	var roles pq.StringArray

	err := row.Scan(
		&user.ID,
		&user.Login,
		&user.Name,
		&roles,
		&user.Active,
		&user.Password.hash,
		&user.CreatedAt,
		&user.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	user.Roles = roles
	return &user, nil
}

// Insert adds a new user record. New users always start active; a duplicate
// login surfaces as ErrDuplicateLogin.
func (m UserModel) Insert(user *User) error {
	query := `
		INSERT INTO users (login, name, roles, active, password_hash)
		VALUES ($1, $2, $3, true, $4)
		RETURNING id, active, created_at, updated_at`

	err := m.DB.QueryRow(
		query,
		user.Login,
		user.Name,
		pq.Array(user.Roles),
		user.Password.hash,
	).Scan(&user.ID, &user.Active, &user.CreatedAt, &user.UpdatedAt)
	if err != nil {
		switch {
		case isUniqueViolation(err, "users_login_key"):
			return ErrDuplicateLogin
		default:
			return err
		}
	}
	return nil
}

// Get retrieves a single user by id.
func (m UserModel) Get(id int64) (*User, error) {
	if id < 1 {
		return nil, ErrRecordNotFound
	}

	query := `SELECT ` + userColumns + ` FROM users WHERE id = $1`

	user, err := scanUser(m.DB.QueryRow(query, id))
	if err != nil {
		switch {
		case errors.Is(err, sql.ErrNoRows):
			return nil, ErrRecordNotFound
		default:
			return nil, err
		}
	}
	return user, nil
}

// GetByLogin retrieves a single user by their unique login.
func (m UserModel) GetByLogin(login string) (*User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE login = $1`

	user, err := scanUser(m.DB.QueryRow(query, login))
	if err != nil {
		switch {
		case errors.Is(err, sql.ErrNoRows):
			return nil, ErrRecordNotFound
		default:
			return nil, err
		}
	}
	return user, nil
}

// GetAll retrieves every user, ordered by login. The user table is small
// (staff accounts), so this list is not paginated.
func (m UserModel) GetAll() ([]*User, error) {
	query := `SELECT ` + userColumns + ` FROM users ORDER BY login ASC`
	return m.queryUsers(query)
}

// GetAllByRole retrieves every user holding the named role.
func (m UserModel) GetAllByRole(role string) ([]*User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE $1 = ANY(roles) ORDER BY login ASC`
	return m.queryUsers(query, role)
}

func (m UserModel) queryUsers(query string, args ...any) ([]*User, error) {
	rows, err := m.DB.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	users := []*User{}
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, user)
	}
	if err = rows.Err(); err != nil {
		return nil, err
	}
	return users, nil
}

// Update saves the user's name, role set, and active flag. The login is
// immutable once created.
func (m UserModel) Update(user *User) error {
	query := `
		UPDATE users
		SET name = $1, roles = $2, active = $3, updated_at = now()
		WHERE id = $4
		RETURNING updated_at`

	err := m.DB.QueryRow(query, user.Name, pq.Array(user.Roles), user.Active, user.ID).
		Scan(&user.UpdatedAt)
	if err != nil {
		switch {
		case errors.Is(err, sql.ErrNoRows):
			return ErrRecordNotFound
		default:
			return err
		}
	}
	return nil
}

// SetActive flips the user's active flag. Inactive users cannot log in.
func (m UserModel) SetActive(id int64, active bool) (*User, error) {
	if id < 1 {
		return nil, ErrRecordNotFound
	}

	query := `
		UPDATE users
		SET active = $2, updated_at = now()
		WHERE id = $1
		RETURNING ` + userColumns

	user, err := scanUser(m.DB.QueryRow(query, id, active))
	if err != nil {
		switch {
		case errors.Is(err, sql.ErrNoRows):
			return nil, ErrRecordNotFound
		default:
			return nil, err
		}
	}
	return user, nil
}

// Delete removes the user with the given id.
func (m UserModel) Delete(id int64) error {
	if id < 1 {
		return ErrRecordNotFound
	}

	result, err := m.DB.Exec(`DELETE FROM users WHERE id = $1`, id)
	if err != nil {
		return err
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rowsAffected == 0 {
		return ErrRecordNotFound
	}
	return nil
}

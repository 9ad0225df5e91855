// In-memory store doubles and request helpers shared by the handler tests.
// The doubles implement the same lifecycle semantics as the SQL models (copy
// counts, status transitions, referential guards) so handler tests exercise
// the real decision paths without a database.
package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http/httptest"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/clms/library-api/internal/data"
)

// stubState is the shared backing store for all the mock stores.
type stubState struct {
	books       map[int64]*data.Book
	authors     map[int64]*data.Author
	categories  map[int64]*data.Category
	subscribers map[int64]*data.Subscriber
	lendings    map[int64]*data.Lending
	users       map[int64]*data.User
	nextID      int64
}

func newStubState() *stubState {
	return &stubState{
		books:       make(map[int64]*data.Book),
		authors:     make(map[int64]*data.Author),
		categories:  make(map[int64]*data.Category),
		subscribers: make(map[int64]*data.Subscriber),
		lendings:    make(map[int64]*data.Lending),
		users:       make(map[int64]*data.User),
	}
}

func (st *stubState) id() int64 {
	st.nextID++
	return st.nextID
}

func (st *stubState) outstandingCount(subscriberID int64) int {
	n := 0
	for _, l := range st.lendings {
		if l.SubscriberID == subscriberID && l.Outstanding() {
			n++
		}
	}
	return n
}

func pageMeta(total int, f data.Filters) data.Metadata {
	if total == 0 {
		return data.Metadata{}
	}
	return data.Metadata{
		CurrentPage:  f.Page,
		PageSize:     f.PageSize,
		FirstPage:    1,
		LastPage:     (total + f.PageSize - 1) / f.PageSize,
		TotalRecords: total,
	}
}

func sortedIDs[T any](m map[int64]T) []int64 {
	ids := make([]int64, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// ---------------------------------------------------------------------------
// Books

type stubBookStore struct{ st *stubState }

func (s stubBookStore) Insert(book *data.Book) error {
	if book.ISBN != "" {
		for _, b := range s.st.books {
			if b.ISBN == book.ISBN {
				return data.ErrDuplicateISBN
			}
		}
	}
	for _, id := range book.AuthorIDs {
		if _, ok := s.st.authors[id]; !ok {
			return fmt.Errorf("author %d: %w", id, data.ErrRecordNotFound)
		}
	}
	for _, id := range book.CategoryIDs {
		if _, ok := s.st.categories[id]; !ok {
			return fmt.Errorf("category %d: %w", id, data.ErrRecordNotFound)
		}
	}
	book.ID = s.st.id()
	book.CreatedAt = time.Now()
	book.UpdatedAt = book.CreatedAt
	book.Version = 1
	stored := *book
	s.st.books[book.ID] = &stored
	return nil
}

func (s stubBookStore) Get(id int64) (*data.Book, error) {
	book, ok := s.st.books[id]
	if !ok {
		return nil, data.ErrRecordNotFound
	}
	copied := *book
	return &copied, nil
}

func (s stubBookStore) GetByISBN(isbn string) (*data.Book, error) {
	for _, b := range s.st.books {
		if b.ISBN != "" && b.ISBN == isbn {
			copied := *b
			return &copied, nil
		}
	}
	return nil, data.ErrRecordNotFound
}

func (s stubBookStore) collect(f data.Filters, keep func(*data.Book) bool) ([]*data.Book, data.Metadata, error) {
	books := []*data.Book{}
	for _, id := range sortedIDs(s.st.books) {
		if b := s.st.books[id]; keep(b) {
			copied := *b
			books = append(books, &copied)
		}
	}
	return books, pageMeta(len(books), f), nil
}

func (s stubBookStore) GetAll(title string, f data.Filters) ([]*data.Book, data.Metadata, error) {
	return s.collect(f, func(b *data.Book) bool {
		return title == "" ||
			strings.Contains(strings.ToLower(b.Title), strings.ToLower(title)) ||
			b.ISBN == title
	})
}

func (s stubBookStore) GetAllByAuthor(authorID int64, f data.Filters) ([]*data.Book, data.Metadata, error) {
	return s.collect(f, func(b *data.Book) bool {
		for _, id := range b.AuthorIDs {
			if id == authorID {
				return true
			}
		}
		return false
	})
}

func (s stubBookStore) GetAllByCategory(categoryID int64, f data.Filters) ([]*data.Book, data.Metadata, error) {
	return s.collect(f, func(b *data.Book) bool {
		for _, id := range b.CategoryIDs {
			if id == categoryID {
				return true
			}
		}
		return false
	})
}

func (s stubBookStore) GetAvailable(f data.Filters) ([]*data.Book, data.Metadata, error) {
	return s.collect(f, func(b *data.Book) bool { return b.AvailableCopies > 0 })
}

func (s stubBookStore) Update(book *data.Book) error {
	stored, ok := s.st.books[book.ID]
	if !ok {
		return data.ErrRecordNotFound
	}
	if stored.Version != book.Version {
		return data.ErrEditConflict
	}
	book.Version++
	book.UpdatedAt = time.Now()
	copied := *book
	s.st.books[book.ID] = &copied
	return nil
}

func (s stubBookStore) UpdateCopies(id int64, totalCopies int) (*data.Book, error) {
	book, ok := s.st.books[id]
	if !ok {
		return nil, data.ErrRecordNotFound
	}
	book.AvailableCopies = data.AdjustAvailableCopies(book.AvailableCopies, book.TotalCopies, totalCopies)
	book.TotalCopies = totalCopies
	book.Version++
	book.UpdatedAt = time.Now()
	copied := *book
	return &copied, nil
}

func (s stubBookStore) Delete(id int64) error {
	book, ok := s.st.books[id]
	if !ok {
		return data.ErrRecordNotFound
	}
	if book.TotalCopies != book.AvailableCopies {
		return data.ErrCopiesOnLoan
	}
	delete(s.st.books, id)
	return nil
}

// ---------------------------------------------------------------------------
// Authors

type stubAuthorStore struct{ st *stubState }

func (s stubAuthorStore) Insert(author *data.Author) error {
	for _, a := range s.st.authors {
		if strings.EqualFold(a.Name, author.Name) {
			return data.ErrDuplicateName
		}
	}
	author.ID = s.st.id()
	author.CreatedAt = time.Now()
	author.UpdatedAt = author.CreatedAt
	copied := *author
	s.st.authors[author.ID] = &copied
	return nil
}

func (s stubAuthorStore) Get(id int64) (*data.Author, error) {
	author, ok := s.st.authors[id]
	if !ok {
		return nil, data.ErrRecordNotFound
	}
	copied := *author
	return &copied, nil
}

func (s stubAuthorStore) GetAll(name string, f data.Filters) ([]*data.Author, data.Metadata, error) {
	authors := []*data.Author{}
	for _, id := range sortedIDs(s.st.authors) {
		a := s.st.authors[id]
		if name == "" || strings.Contains(strings.ToLower(a.Name), strings.ToLower(name)) {
			copied := *a
			authors = append(authors, &copied)
		}
	}
	return authors, pageMeta(len(authors), f), nil
}

func (s stubAuthorStore) Update(author *data.Author) error {
	if _, ok := s.st.authors[author.ID]; !ok {
		return data.ErrRecordNotFound
	}
	author.UpdatedAt = time.Now()
	copied := *author
	s.st.authors[author.ID] = &copied
	return nil
}

func (s stubAuthorStore) Delete(id int64) error {
	if _, ok := s.st.authors[id]; !ok {
		return data.ErrRecordNotFound
	}
	for _, b := range s.st.books {
		for _, aid := range b.AuthorIDs {
			if aid == id {
				return data.ErrInUse
			}
		}
	}
	delete(s.st.authors, id)
	return nil
}

// ---------------------------------------------------------------------------
// Categories

type stubCategoryStore struct{ st *stubState }

func (s stubCategoryStore) Insert(category *data.Category) error {
	for _, c := range s.st.categories {
		if strings.EqualFold(c.Name, category.Name) {
			return data.ErrDuplicateName
		}
	}
	category.ID = s.st.id()
	category.CreatedAt = time.Now()
	category.UpdatedAt = category.CreatedAt
	copied := *category
	s.st.categories[category.ID] = &copied
	return nil
}

func (s stubCategoryStore) Get(id int64) (*data.Category, error) {
	category, ok := s.st.categories[id]
	if !ok {
		return nil, data.ErrRecordNotFound
	}
	copied := *category
	return &copied, nil
}

func (s stubCategoryStore) GetAll(name string, f data.Filters) ([]*data.Category, data.Metadata, error) {
	categories := []*data.Category{}
	for _, id := range sortedIDs(s.st.categories) {
		c := s.st.categories[id]
		if name == "" || strings.Contains(strings.ToLower(c.Name), strings.ToLower(name)) {
			copied := *c
			categories = append(categories, &copied)
		}
	}
	return categories, pageMeta(len(categories), f), nil
}

func (s stubCategoryStore) Update(category *data.Category) error {
	if _, ok := s.st.categories[category.ID]; !ok {
		return data.ErrRecordNotFound
	}
	category.UpdatedAt = time.Now()
	copied := *category
	s.st.categories[category.ID] = &copied
	return nil
}

func (s stubCategoryStore) Delete(id int64) error {
	if _, ok := s.st.categories[id]; !ok {
		return data.ErrRecordNotFound
	}
	for _, b := range s.st.books {
		for _, cid := range b.CategoryIDs {
			if cid == id {
				return data.ErrInUse
			}
		}
	}
	delete(s.st.categories, id)
	return nil
}

// ---------------------------------------------------------------------------
// Subscribers

type stubSubscriberStore struct{ st *stubState }

func (s stubSubscriberStore) Insert(subscriber *data.Subscriber) error {
	for _, existing := range s.st.subscribers {
		if existing.Email == subscriber.Email {
			return data.ErrDuplicateEmail
		}
		if existing.LibraryCardNumber == subscriber.LibraryCardNumber {
			return data.ErrDuplicateCardNumber
		}
	}
	subscriber.ID = s.st.id()
	subscriber.Active = true
	subscriber.CreatedAt = time.Now()
	subscriber.UpdatedAt = subscriber.CreatedAt
	copied := *subscriber
	s.st.subscribers[subscriber.ID] = &copied
	return nil
}

func (s stubSubscriberStore) Get(id int64) (*data.Subscriber, error) {
	subscriber, ok := s.st.subscribers[id]
	if !ok {
		return nil, data.ErrRecordNotFound
	}
	copied := *subscriber
	return &copied, nil
}

func (s stubSubscriberStore) GetByCardNumber(cardNumber string) (*data.Subscriber, error) {
	for _, sub := range s.st.subscribers {
		if sub.LibraryCardNumber == cardNumber {
			copied := *sub
			return &copied, nil
		}
	}
	return nil, data.ErrRecordNotFound
}

func (s stubSubscriberStore) GetAll(name string, f data.Filters) ([]*data.Subscriber, data.Metadata, error) {
	subscribers := []*data.Subscriber{}
	for _, id := range sortedIDs(s.st.subscribers) {
		sub := s.st.subscribers[id]
		if name == "" || strings.Contains(strings.ToLower(sub.Name), strings.ToLower(name)) {
			copied := *sub
			subscribers = append(subscribers, &copied)
		}
	}
	return subscribers, pageMeta(len(subscribers), f), nil
}

func (s stubSubscriberStore) GetActive(f data.Filters) ([]*data.Subscriber, data.Metadata, error) {
	subscribers := []*data.Subscriber{}
	for _, id := range sortedIDs(s.st.subscribers) {
		if sub := s.st.subscribers[id]; sub.Active {
			copied := *sub
			subscribers = append(subscribers, &copied)
		}
	}
	return subscribers, pageMeta(len(subscribers), f), nil
}

func (s stubSubscriberStore) Update(subscriber *data.Subscriber) error {
	stored, ok := s.st.subscribers[subscriber.ID]
	if !ok {
		return data.ErrRecordNotFound
	}
	subscriber.Active = stored.Active
	subscriber.UpdatedAt = time.Now()
	copied := *subscriber
	s.st.subscribers[subscriber.ID] = &copied
	return nil
}

func (s stubSubscriberStore) SetActive(id int64, active bool) (*data.Subscriber, error) {
	subscriber, ok := s.st.subscribers[id]
	if !ok {
		return nil, data.ErrRecordNotFound
	}
	if !active && s.st.outstandingCount(id) > 0 {
		return nil, data.ErrOutstandingLoans
	}
	subscriber.Active = active
	subscriber.UpdatedAt = time.Now()
	copied := *subscriber
	return &copied, nil
}

func (s stubSubscriberStore) Delete(id int64) error {
	if _, ok := s.st.subscribers[id]; !ok {
		return data.ErrRecordNotFound
	}
	if s.st.outstandingCount(id) > 0 {
		return data.ErrOutstandingLoans
	}
	delete(s.st.subscribers, id)
	return nil
}

func (s stubSubscriberStore) CountOutstanding(id int64) (int, error) {
	return s.st.outstandingCount(id), nil
}

// ---------------------------------------------------------------------------
// Lendings

type stubLendingStore struct{ st *stubState }

func (s stubLendingStore) fill(l *data.Lending) {
	if b, ok := s.st.books[l.BookID]; ok {
		l.Book = data.BookSummary{ID: b.ID, Title: b.Title, ISBN: b.ISBN}
	}
	if sub, ok := s.st.subscribers[l.SubscriberID]; ok {
		l.Subscriber = data.SubscriberSummary{ID: sub.ID, Name: sub.Name, LibraryCardNumber: sub.LibraryCardNumber}
	}
}

func (s stubLendingStore) Issue(lending *data.Lending) error {
	subscriber, ok := s.st.subscribers[lending.SubscriberID]
	if !ok {
		return data.ErrSubscriberNotFound
	}
	if !subscriber.Active {
		return data.ErrSubscriberInactive
	}
	book, ok := s.st.books[lending.BookID]
	if !ok {
		return data.ErrBookNotFound
	}
	if book.AvailableCopies == 0 {
		return data.ErrNoCopiesAvailable
	}
	book.AvailableCopies--

	if lending.IssueDate.IsZero() {
		lending.IssueDate = data.Today()
	}
	lending.Status = data.StatusIssued
	lending.ID = s.st.id()
	lending.CreatedAt = time.Now()
	lending.UpdatedAt = lending.CreatedAt
	s.fill(lending)
	copied := *lending
	s.st.lendings[lending.ID] = &copied
	return nil
}

func (s stubLendingStore) Return(id int64) (*data.Lending, error) {
	lending, ok := s.st.lendings[id]
	if !ok {
		return nil, data.ErrRecordNotFound
	}
	if err := lending.MarkReturned(data.Today()); err != nil {
		return nil, err
	}
	if book, ok := s.st.books[lending.BookID]; ok {
		book.AvailableCopies++
	}
	lending.UpdatedAt = time.Now()
	copied := *lending
	return &copied, nil
}

func (s stubLendingStore) SweepOverdue(today data.Date) ([]*data.Lending, error) {
	swept := []*data.Lending{}
	for _, id := range sortedIDs(s.st.lendings) {
		l := s.st.lendings[id]
		if l.OverdueAsOf(today) {
			l.Status = data.StatusOverdue
			l.UpdatedAt = time.Now()
			copied := *l
			swept = append(swept, &copied)
		}
	}
	return swept, nil
}

func (s stubLendingStore) Delete(id int64) error {
	lending, ok := s.st.lendings[id]
	if !ok {
		return data.ErrRecordNotFound
	}
	if lending.Outstanding() {
		if book, ok := s.st.books[lending.BookID]; ok {
			book.AvailableCopies++
		}
	}
	delete(s.st.lendings, id)
	return nil
}

func (s stubLendingStore) Get(id int64) (*data.Lending, error) {
	lending, ok := s.st.lendings[id]
	if !ok {
		return nil, data.ErrRecordNotFound
	}
	copied := *lending
	return &copied, nil
}

func (s stubLendingStore) collect(f data.Filters, keep func(*data.Lending) bool) ([]*data.Lending, data.Metadata, error) {
	lendings := []*data.Lending{}
	for _, id := range sortedIDs(s.st.lendings) {
		if l := s.st.lendings[id]; keep(l) {
			copied := *l
			lendings = append(lendings, &copied)
		}
	}
	return lendings, pageMeta(len(lendings), f), nil
}

func (s stubLendingStore) GetAll(f data.Filters) ([]*data.Lending, data.Metadata, error) {
	return s.collect(f, func(*data.Lending) bool { return true })
}

func (s stubLendingStore) GetAllByStatus(status data.LendingStatus, f data.Filters) ([]*data.Lending, data.Metadata, error) {
	return s.collect(f, func(l *data.Lending) bool { return l.Status == status })
}

func (s stubLendingStore) GetAllBySubscriber(subscriberID int64, f data.Filters) ([]*data.Lending, data.Metadata, error) {
	return s.collect(f, func(l *data.Lending) bool { return l.SubscriberID == subscriberID })
}

func (s stubLendingStore) GetCurrentBySubscriber(subscriberID int64, f data.Filters) ([]*data.Lending, data.Metadata, error) {
	return s.collect(f, func(l *data.Lending) bool {
		return l.SubscriberID == subscriberID && l.Status == data.StatusIssued
	})
}

// ---------------------------------------------------------------------------
// Users

type stubUserStore struct{ st *stubState }

func (s stubUserStore) Insert(user *data.User) error {
	for _, u := range s.st.users {
		if u.Login == user.Login {
			return data.ErrDuplicateLogin
		}
	}
	user.ID = s.st.id()
	user.Active = true
	user.CreatedAt = time.Now()
	user.UpdatedAt = user.CreatedAt
	copied := *user
	s.st.users[user.ID] = &copied
	return nil
}

func (s stubUserStore) Get(id int64) (*data.User, error) {
	user, ok := s.st.users[id]
	if !ok {
		return nil, data.ErrRecordNotFound
	}
	copied := *user
	return &copied, nil
}

func (s stubUserStore) GetByLogin(login string) (*data.User, error) {
	for _, u := range s.st.users {
		if u.Login == login {
			copied := *u
			return &copied, nil
		}
	}
	return nil, data.ErrRecordNotFound
}

func (s stubUserStore) GetAll() ([]*data.User, error) {
	users := []*data.User{}
	for _, id := range sortedIDs(s.st.users) {
		copied := *s.st.users[id]
		users = append(users, &copied)
	}
	sort.Slice(users, func(i, j int) bool { return users[i].Login < users[j].Login })
	return users, nil
}

func (s stubUserStore) GetAllByRole(role string) ([]*data.User, error) {
	users := []*data.User{}
	for _, id := range sortedIDs(s.st.users) {
		if u := s.st.users[id]; u.HasRole(role) {
			copied := *u
			users = append(users, &copied)
		}
	}
	return users, nil
}

func (s stubUserStore) Update(user *data.User) error {
	stored, ok := s.st.users[user.ID]
	if !ok {
		return data.ErrRecordNotFound
	}
	user.Login = stored.Login
	user.UpdatedAt = time.Now()
	copied := *user
	s.st.users[user.ID] = &copied
	return nil
}

func (s stubUserStore) SetActive(id int64, active bool) (*data.User, error) {
	user, ok := s.st.users[id]
	if !ok {
		return nil, data.ErrRecordNotFound
	}
	user.Active = active
	user.UpdatedAt = time.Now()
	copied := *user
	return &copied, nil
}

func (s stubUserStore) Delete(id int64) error {
	if _, ok := s.st.users[id]; !ok {
		return data.ErrRecordNotFound
	}
	delete(s.st.users, id)
	return nil
}

// ---------------------------------------------------------------------------
// Test application and request helpers

const testPassword = "pa55word-example"

func newTestApplication(t *testing.T) (*applicationDependencies, *stubState) {
	t.Helper()

	st := newStubState()

	var settings serverConfig
	settings.environment = "testing"
	settings.jwt.secret = "test-signing-secret-not-for-production"
	settings.limiter.enabled = false

	app := &applicationDependencies{
		config: settings,
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
		models: data.Models{
			Books:       stubBookStore{st},
			Authors:     stubAuthorStore{st},
			Categories:  stubCategoryStore{st},
			Subscribers: stubSubscriberStore{st},
			Lendings:    stubLendingStore{st},
			Users:       stubUserStore{st},
		},
	}
	return app, st
}

// seedUser creates an active staff user with the given roles and returns a
// valid bearer token for them.
func seedUser(t *testing.T, app *applicationDependencies, login string, roles ...string) (*data.User, string) {
	t.Helper()

	user := &data.User{Login: login, Name: "Test " + login, Roles: roles}
	require.NoError(t, user.Password.Set(testPassword))
	require.NoError(t, app.models.Users.Insert(user))

	token, err := app.createToken(user)
	require.NoError(t, err)
	return user, token
}

// seedBook inserts a book with the given copy count directly through the store.
func seedBook(t *testing.T, app *applicationDependencies, title string, copies int) *data.Book {
	t.Helper()

	book := &data.Book{Title: title, TotalCopies: copies, AvailableCopies: copies}
	require.NoError(t, app.models.Books.Insert(book))
	return book
}

// seedSubscriber inserts an active subscriber directly through the store.
func seedSubscriber(t *testing.T, app *applicationDependencies, name string) *data.Subscriber {
	t.Helper()

	subscriber := &data.Subscriber{
		Name:              name,
		Email:             strings.ToLower(strings.ReplaceAll(name, " ", ".")) + "@example.com",
		LibraryCardNumber: "LIB-" + strings.ToUpper(strings.ReplaceAll(name, " ", "")),
	}
	require.NoError(t, app.models.Subscribers.Insert(subscriber))
	return subscriber
}

// doRequest sends a request through the full middleware chain and router.
func doRequest(t *testing.T, app *applicationDependencies, method, url, token string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(b)
	}

	req := httptest.NewRequest(method, url, reader)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	rr := httptest.NewRecorder()
	app.routes().ServeHTTP(rr, req)
	return rr
}

// decodeBody unmarshals a JSON response body into a map envelope.
func decodeBody(t *testing.T, rr *httptest.ResponseRecorder) map[string]json.RawMessage {
	t.Helper()

	var body map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	return body
}

// decodeInto unmarshals one key of a JSON response envelope into dst.
func decodeInto(t *testing.T, rr *httptest.ResponseRecorder, key string, dst any) {
	t.Helper()

	body := decodeBody(t, rr)
	raw, ok := body[key]
	require.True(t, ok, "response envelope is missing key %q, body: %s", key, rr.Body.String())
	require.NoError(t, json.Unmarshal(raw, dst))
}

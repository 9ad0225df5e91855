// cmd/api/books.go
// HTTP handlers for the books resource. Each handler is a method on
// *applicationDependencies so it has access to the logger and database models.
package main

import (
	"errors"
	"net/http"

	"github.com/clms/library-api/internal/data"
	"github.com/clms/library-api/internal/validator"
)

// bookSortSafeList enumerates the columns a client may sort book lists by.
var bookSortSafeList = []string{
	"id", "title", "total_copies", "available_copies", "created_at",
	"-id", "-title", "-total_copies", "-available_copies", "-created_at",
}

// createBookHandler handles POST /v1/books.
// It reads a JSON body containing the new book's details, inserts a record
// (and its author/category links) into the database, and responds with the
// created book and a 201 Created status. When available_copies is omitted it
// defaults to total_copies.
func (app *applicationDependencies) createBookHandler(w http.ResponseWriter, r *http.Request) {
	var input struct {
		Title           string     `json:"title"`
		ISBN            string     `json:"isbn"`
		PublicationDate *data.Date `json:"publication_date"`
		TotalCopies     int        `json:"total_copies"`
		AvailableCopies *int       `json:"available_copies"`
		AuthorIDs       []int64    `json:"author_ids"`
		CategoryIDs     []int64    `json:"category_ids"`
	}

	err := app.readJSON(w, r, &input)
	if err != nil {
		app.badRequestResponse(w, r, err)
		return
	}

	book := &data.Book{
		Title:           input.Title,
		ISBN:            input.ISBN,
		PublicationDate: input.PublicationDate,
		TotalCopies:     input.TotalCopies,
		AuthorIDs:       input.AuthorIDs,
		CategoryIDs:     input.CategoryIDs,
	}

	// availableCopies defaults to totalCopies when unset.
	if input.AvailableCopies != nil {
		book.AvailableCopies = *input.AvailableCopies
	} else {
		book.AvailableCopies = input.TotalCopies
	}

	v := validator.New()
	if data.ValidateBook(v, book); !v.Valid() {
		app.failedValidationResponse(w, r, v.Errors)
		return
	}

	err = app.models.Books.Insert(book)
	if err != nil {
		switch {
		case errors.Is(err, data.ErrDuplicateISBN):
			app.conflictResponse(w, r, err)
		case errors.Is(err, data.ErrRecordNotFound):
			// A referenced author or category id does not exist.
			app.errorResponse(w, r, http.StatusNotFound, err.Error())
		default:
			app.serverErrorResponse(w, r, err)
		}
		return
	}

	err = app.writeJSON(w, http.StatusCreated, envelope{"book": book}, nil)
	if err != nil {
		app.serverErrorResponse(w, r, err)
	}
}

// showBookHandler handles GET /v1/books/:id.
func (app *applicationDependencies) showBookHandler(w http.ResponseWriter, r *http.Request) {
	id, err := app.readIDParam(r)
	if err != nil {
		app.badRequestResponse(w, r, err)
		return
	}

	book, err := app.models.Books.Get(id)
	if err != nil {
		switch {
		case errors.Is(err, data.ErrRecordNotFound):
			app.notFoundResponse(w, r)
		default:
			app.serverErrorResponse(w, r, err)
		}
		return
	}

	err = app.writeJSON(w, http.StatusOK, envelope{"book": book}, nil)
	if err != nil {
		app.serverErrorResponse(w, r, err)
	}
}

// listBooksHandler handles GET /v1/books.
// Supported query parameters: title (substring or exact ISBN match),
// author_id, category_id, available=true, plus the standard page/page_size/
// sort trio. The filter parameters are mutually exclusive in effect:
// author_id wins over category_id, which wins over available.
func (app *applicationDependencies) listBooksHandler(w http.ResponseWriter, r *http.Request) {
	qs := r.URL.Query()
	v := validator.New()

	title := app.readString(qs, "title", "")
	authorID := app.readInt(qs, "author_id", 0, v)
	categoryID := app.readInt(qs, "category_id", 0, v)
	availableOnly := app.readString(qs, "available", "") == "true"
	filters := app.readFilters(qs, v, "id", bookSortSafeList...)

	if !v.Valid() {
		app.failedValidationResponse(w, r, v.Errors)
		return
	}

	var (
		books    []*data.Book
		metadata data.Metadata
		err      error
	)
	switch {
	case authorID > 0:
		books, metadata, err = app.models.Books.GetAllByAuthor(int64(authorID), filters)
	case categoryID > 0:
		books, metadata, err = app.models.Books.GetAllByCategory(int64(categoryID), filters)
	case availableOnly:
		books, metadata, err = app.models.Books.GetAvailable(filters)
	default:
		books, metadata, err = app.models.Books.GetAll(title, filters)
	}
	if err != nil {
		app.serverErrorResponse(w, r, err)
		return
	}

	err = app.writeJSON(w, http.StatusOK, envelope{"books": books, "metadata": metadata}, nil)
	if err != nil {
		app.serverErrorResponse(w, r, err)
	}
}

// updateBookHandler handles PATCH /v1/books/:id.
// It applies only the non-nil fields from the partial JSON body. Copy counts
// are not updatable here; use the /copies endpoint instead so the
// availability arithmetic is never bypassed.
func (app *applicationDependencies) updateBookHandler(w http.ResponseWriter, r *http.Request) {
	id, err := app.readIDParam(r)
	if err != nil {
		app.badRequestResponse(w, r, err)
		return
	}

	book, err := app.models.Books.Get(id)
	if err != nil {
		switch {
		case errors.Is(err, data.ErrRecordNotFound):
			app.notFoundResponse(w, r)
		default:
			app.serverErrorResponse(w, r, err)
		}
		return
	}

	var input struct {
		Title           *string    `json:"title"`
		ISBN            *string    `json:"isbn"`
		PublicationDate *data.Date `json:"publication_date"`
		AuthorIDs       []int64    `json:"author_ids"`
		CategoryIDs     []int64    `json:"category_ids"`
	}

	err = app.readJSON(w, r, &input)
	if err != nil {
		app.badRequestResponse(w, r, err)
		return
	}

	if input.Title != nil {
		book.Title = *input.Title
	}
	if input.ISBN != nil {
		book.ISBN = *input.ISBN
	}
	if input.PublicationDate != nil {
		book.PublicationDate = input.PublicationDate
	}
	if input.AuthorIDs != nil {
		book.AuthorIDs = input.AuthorIDs
	}
	if input.CategoryIDs != nil {
		book.CategoryIDs = input.CategoryIDs
	}

	v := validator.New()
	if data.ValidateBook(v, book); !v.Valid() {
		app.failedValidationResponse(w, r, v.Errors)
		return
	}

	err = app.models.Books.Update(book)
	if err != nil {
		switch {
		case errors.Is(err, data.ErrEditConflict):
			app.editConflictResponse(w, r)
		case errors.Is(err, data.ErrDuplicateISBN):
			app.conflictResponse(w, r, err)
		case errors.Is(err, data.ErrRecordNotFound):
			app.errorResponse(w, r, http.StatusNotFound, err.Error())
		default:
			app.serverErrorResponse(w, r, err)
		}
		return
	}

	err = app.writeJSON(w, http.StatusOK, envelope{"book": book}, nil)
	if err != nil {
		app.serverErrorResponse(w, r, err)
	}
}

// updateBookCopiesHandler handles PUT /v1/books/:id/copies.
// It sets the book's total copy count and shifts available copies by the
// same delta, clamped at zero. Note the clamp can drive available copies to
// zero while loans are still out; the count is not validated against
// outstanding lendings.
func (app *applicationDependencies) updateBookCopiesHandler(w http.ResponseWriter, r *http.Request) {
	id, err := app.readIDParam(r)
	if err != nil {
		app.badRequestResponse(w, r, err)
		return
	}

	var input struct {
		TotalCopies int `json:"total_copies"`
	}

	err = app.readJSON(w, r, &input)
	if err != nil {
		app.badRequestResponse(w, r, err)
		return
	}

	v := validator.New()
	v.Check(input.TotalCopies >= 0, "total_copies", "must not be negative")
	if !v.Valid() {
		app.failedValidationResponse(w, r, v.Errors)
		return
	}

	book, err := app.models.Books.UpdateCopies(id, input.TotalCopies)
	if err != nil {
		switch {
		case errors.Is(err, data.ErrRecordNotFound):
			app.notFoundResponse(w, r)
		default:
			app.serverErrorResponse(w, r, err)
		}
		return
	}

	err = app.writeJSON(w, http.StatusOK, envelope{"book": book}, nil)
	if err != nil {
		app.serverErrorResponse(w, r, err)
	}
}

// deleteBookHandler handles DELETE /v1/books/:id.
// Deletion is refused with a 409 while any copy is on loan.
func (app *applicationDependencies) deleteBookHandler(w http.ResponseWriter, r *http.Request) {
	id, err := app.readIDParam(r)
	if err != nil {
		app.badRequestResponse(w, r, err)
		return
	}

	err = app.models.Books.Delete(id)
	if err != nil {
		switch {
		case errors.Is(err, data.ErrRecordNotFound):
			app.notFoundResponse(w, r)
		case errors.Is(err, data.ErrCopiesOnLoan):
			app.conflictResponse(w, r, err)
		default:
			app.serverErrorResponse(w, r, err)
		}
		return
	}

	err = app.writeJSON(w, http.StatusOK, envelope{"message": "book successfully deleted"}, nil)
	if err != nil {
		app.serverErrorResponse(w, r, err)
	}
}

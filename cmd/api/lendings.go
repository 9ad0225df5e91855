// cmd/api/lendings.go
// HTTP handlers for the lending ledger: issuing, returning, sweeping, and
// deleting checkout records.
package main

import (
	"errors"
	"net/http"

	"github.com/clms/library-api/internal/data"
	"github.com/clms/library-api/internal/validator"
)

var lendingSortSafeList = []string{
	"id", "issue_date", "due_date", "status", "created_at",
	"-id", "-issue_date", "-due_date", "-status", "-created_at",
}

// issueLendingHandler handles POST /v1/lendings.
// It checks out one copy of a book to a subscriber. The issue date defaults
// to today when omitted; the due date is required. Fails 404 when the book
// or subscriber does not exist, 409 when no copies are available or the
// subscriber is inactive.
func (app *applicationDependencies) issueLendingHandler(w http.ResponseWriter, r *http.Request) {
	var input struct {
		BookID       int64      `json:"book_id"`
		SubscriberID int64      `json:"subscriber_id"`
		DueDate      data.Date  `json:"due_date"`
		IssueDate    *data.Date `json:"issue_date"`
	}

	err := app.readJSON(w, r, &input)
	if err != nil {
		app.badRequestResponse(w, r, err)
		return
	}

	lending := &data.Lending{
		BookID:       input.BookID,
		SubscriberID: input.SubscriberID,
		DueDate:      input.DueDate,
	}
	if input.IssueDate != nil {
		lending.IssueDate = *input.IssueDate
	}

	v := validator.New()
	if data.ValidateLending(v, lending); !v.Valid() {
		app.failedValidationResponse(w, r, v.Errors)
		return
	}

	err = app.models.Lendings.Issue(lending)
	if err != nil {
		switch {
		case errors.Is(err, data.ErrRecordNotFound):
			// ErrBookNotFound and ErrSubscriberNotFound both unwrap here;
			// the message says which reference was missing.
			app.errorResponse(w, r, http.StatusNotFound, err.Error())
		case errors.Is(err, data.ErrNoCopiesAvailable), errors.Is(err, data.ErrSubscriberInactive):
			app.conflictResponse(w, r, err)
		default:
			app.serverErrorResponse(w, r, err)
		}
		return
	}

	err = app.writeJSON(w, http.StatusCreated, envelope{"lending": lending}, nil)
	if err != nil {
		app.serverErrorResponse(w, r, err)
	}
}

// showLendingHandler handles GET /v1/lendings/:id.
func (app *applicationDependencies) showLendingHandler(w http.ResponseWriter, r *http.Request) {
	id, err := app.readIDParam(r)
	if err != nil {
		app.badRequestResponse(w, r, err)
		return
	}

	lending, err := app.models.Lendings.Get(id)
	if err != nil {
		switch {
		case errors.Is(err, data.ErrRecordNotFound):
			app.notFoundResponse(w, r)
		default:
			app.serverErrorResponse(w, r, err)
		}
		return
	}

	err = app.writeJSON(w, http.StatusOK, envelope{"lending": lending}, nil)
	if err != nil {
		app.serverErrorResponse(w, r, err)
	}
}

// listLendingsHandler handles GET /v1/lendings, optionally filtered by
// ?status=ISSUED|RETURNED|OVERDUE.
func (app *applicationDependencies) listLendingsHandler(w http.ResponseWriter, r *http.Request) {
	qs := r.URL.Query()
	v := validator.New()

	status := app.readString(qs, "status", "")
	if status != "" {
		v.Check(validator.In(status,
			string(data.StatusIssued), string(data.StatusReturned), string(data.StatusOverdue)),
			"status", "must be one of ISSUED, RETURNED, OVERDUE")
	}
	filters := app.readFilters(qs, v, "-id", lendingSortSafeList...)

	if !v.Valid() {
		app.failedValidationResponse(w, r, v.Errors)
		return
	}

	var (
		lendings []*data.Lending
		metadata data.Metadata
		err      error
	)
	if status != "" {
		lendings, metadata, err = app.models.Lendings.GetAllByStatus(data.LendingStatus(status), filters)
	} else {
		lendings, metadata, err = app.models.Lendings.GetAll(filters)
	}
	if err != nil {
		app.serverErrorResponse(w, r, err)
		return
	}

	err = app.writeJSON(w, http.StatusOK, envelope{"lendings": lendings, "metadata": metadata}, nil)
	if err != nil {
		app.serverErrorResponse(w, r, err)
	}
}

// returnLendingHandler handles PUT /v1/lendings/:id/return.
// Valid from ISSUED and OVERDUE; returning an already-returned lending is a
// 409 and changes nothing.
func (app *applicationDependencies) returnLendingHandler(w http.ResponseWriter, r *http.Request) {
	id, err := app.readIDParam(r)
	if err != nil {
		app.badRequestResponse(w, r, err)
		return
	}

	lending, err := app.models.Lendings.Return(id)
	if err != nil {
		switch {
		case errors.Is(err, data.ErrRecordNotFound):
			app.notFoundResponse(w, r)
		case errors.Is(err, data.ErrAlreadyReturned):
			app.conflictResponse(w, r, err)
		default:
			app.serverErrorResponse(w, r, err)
		}
		return
	}

	err = app.writeJSON(w, http.StatusOK, envelope{"lending": lending}, nil)
	if err != nil {
		app.serverErrorResponse(w, r, err)
	}
}

// sweepOverdueLendingsHandler handles POST /v1/lendings/overdue/sweep.
// It transitions every ISSUED lending past its due date to OVERDUE and
// responds with exactly the transitioned set. Running the sweep twice in a
// row yields an empty second result.
func (app *applicationDependencies) sweepOverdueLendingsHandler(w http.ResponseWriter, r *http.Request) {
	swept, err := app.models.Lendings.SweepOverdue(data.Today())
	if err != nil {
		app.serverErrorResponse(w, r, err)
		return
	}

	err = app.writeJSON(w, http.StatusOK, envelope{"lendings": swept}, nil)
	if err != nil {
		app.serverErrorResponse(w, r, err)
	}
}

// deleteLendingHandler handles DELETE /v1/lendings/:id.
// Deleting an outstanding lending restores the held copy to the book before
// the ledger row is removed.
func (app *applicationDependencies) deleteLendingHandler(w http.ResponseWriter, r *http.Request) {
	id, err := app.readIDParam(r)
	if err != nil {
		app.badRequestResponse(w, r, err)
		return
	}

	err = app.models.Lendings.Delete(id)
	if err != nil {
		switch {
		case errors.Is(err, data.ErrRecordNotFound):
			app.notFoundResponse(w, r)
		default:
			app.serverErrorResponse(w, r, err)
		}
		return
	}

	err = app.writeJSON(w, http.StatusOK, envelope{"message": "lending successfully deleted"}, nil)
	if err != nil {
		app.serverErrorResponse(w, r, err)
	}
}

// cmd/api/subscribers.go
// HTTP handlers for the subscribers resource.
package main

import (
	"errors"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/clms/library-api/internal/data"
	"github.com/clms/library-api/internal/validator"
)

var subscriberSortSafeList = []string{"id", "name", "created_at", "-id", "-name", "-created_at"}

// createSubscriberHandler handles POST /v1/subscribers.
// When no library card number is supplied, one is generated. New subscribers
// always start active.
func (app *applicationDependencies) createSubscriberHandler(w http.ResponseWriter, r *http.Request) {
	var input struct {
		Name              string `json:"name"`
		Email             string `json:"email"`
		PhoneNumber       string `json:"phone_number"`
		LibraryCardNumber string `json:"library_card_number"`
	}

	err := app.readJSON(w, r, &input)
	if err != nil {
		app.badRequestResponse(w, r, err)
		return
	}

	if input.LibraryCardNumber == "" {
		input.LibraryCardNumber = generateCardNumber()
	}

	subscriber := &data.Subscriber{
		Name:              input.Name,
		Email:             input.Email,
		PhoneNumber:       input.PhoneNumber,
		LibraryCardNumber: input.LibraryCardNumber,
	}

	v := validator.New()
	if data.ValidateSubscriber(v, subscriber); !v.Valid() {
		app.failedValidationResponse(w, r, v.Errors)
		return
	}

	err = app.models.Subscribers.Insert(subscriber)
	if err != nil {
		switch {
		case errors.Is(err, data.ErrDuplicateEmail), errors.Is(err, data.ErrDuplicateCardNumber):
			app.conflictResponse(w, r, err)
		default:
			app.serverErrorResponse(w, r, err)
		}
		return
	}

	err = app.writeJSON(w, http.StatusCreated, envelope{"subscriber": subscriber}, nil)
	if err != nil {
		app.serverErrorResponse(w, r, err)
	}
}

// generateCardNumber produces a fresh library card number. The uppercased
// first UUID block keeps card numbers short enough to print.
func generateCardNumber() string {
	id := uuid.New().String()
	return "LIB-" + strings.ToUpper(id[:8])
}

// showSubscriberHandler handles GET /v1/subscribers/:id.
func (app *applicationDependencies) showSubscriberHandler(w http.ResponseWriter, r *http.Request) {
	id, err := app.readIDParam(r)
	if err != nil {
		app.badRequestResponse(w, r, err)
		return
	}

	subscriber, err := app.models.Subscribers.Get(id)
	if err != nil {
		switch {
		case errors.Is(err, data.ErrRecordNotFound):
			app.notFoundResponse(w, r)
		default:
			app.serverErrorResponse(w, r, err)
		}
		return
	}

	err = app.writeJSON(w, http.StatusOK, envelope{"subscriber": subscriber}, nil)
	if err != nil {
		app.serverErrorResponse(w, r, err)
	}
}

// listSubscribersHandler handles GET /v1/subscribers.
// Supported query parameters: name (substring search), card_number (exact
// lookup), active=true, plus pagination. A card_number lookup returns a
// single-element or empty list.
func (app *applicationDependencies) listSubscribersHandler(w http.ResponseWriter, r *http.Request) {
	qs := r.URL.Query()
	v := validator.New()

	name := app.readString(qs, "name", "")
	cardNumber := app.readString(qs, "card_number", "")
	activeOnly := app.readString(qs, "active", "") == "true"
	filters := app.readFilters(qs, v, "name", subscriberSortSafeList...)

	if !v.Valid() {
		app.failedValidationResponse(w, r, v.Errors)
		return
	}

	if cardNumber != "" {
		subscriber, err := app.models.Subscribers.GetByCardNumber(cardNumber)
		if err != nil {
			switch {
			case errors.Is(err, data.ErrRecordNotFound):
				app.notFoundResponse(w, r)
			default:
				app.serverErrorResponse(w, r, err)
			}
			return
		}
		err = app.writeJSON(w, http.StatusOK, envelope{"subscriber": subscriber}, nil)
		if err != nil {
			app.serverErrorResponse(w, r, err)
		}
		return
	}

	var (
		subscribers []*data.Subscriber
		metadata    data.Metadata
		err         error
	)
	if activeOnly {
		subscribers, metadata, err = app.models.Subscribers.GetActive(filters)
	} else {
		subscribers, metadata, err = app.models.Subscribers.GetAll(name, filters)
	}
	if err != nil {
		app.serverErrorResponse(w, r, err)
		return
	}

	err = app.writeJSON(w, http.StatusOK, envelope{"subscribers": subscribers, "metadata": metadata}, nil)
	if err != nil {
		app.serverErrorResponse(w, r, err)
	}
}

// listSubscriberLendingsHandler handles GET /v1/subscribers/:id/lendings.
// With ?current=true only the lendings still in ISSUED are returned;
// otherwise the full history.
func (app *applicationDependencies) listSubscriberLendingsHandler(w http.ResponseWriter, r *http.Request) {
	id, err := app.readIDParam(r)
	if err != nil {
		app.badRequestResponse(w, r, err)
		return
	}

	// A bad subscriber id is a 404, not an empty history.
	_, err = app.models.Subscribers.Get(id)
	if err != nil {
		switch {
		case errors.Is(err, data.ErrRecordNotFound):
			app.notFoundResponse(w, r)
		default:
			app.serverErrorResponse(w, r, err)
		}
		return
	}

	qs := r.URL.Query()
	v := validator.New()
	currentOnly := app.readString(qs, "current", "") == "true"
	filters := app.readFilters(qs, v, "-id", lendingSortSafeList...)
	if !v.Valid() {
		app.failedValidationResponse(w, r, v.Errors)
		return
	}

	var (
		lendings []*data.Lending
		metadata data.Metadata
	)
	if currentOnly {
		lendings, metadata, err = app.models.Lendings.GetCurrentBySubscriber(id, filters)
	} else {
		lendings, metadata, err = app.models.Lendings.GetAllBySubscriber(id, filters)
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

// updateSubscriberHandler handles PATCH /v1/subscribers/:id.
// The active flag is not updatable here; use the /status endpoint, which
// enforces the outstanding-loan guard.
func (app *applicationDependencies) updateSubscriberHandler(w http.ResponseWriter, r *http.Request) {
	id, err := app.readIDParam(r)
	if err != nil {
		app.badRequestResponse(w, r, err)
		return
	}

	subscriber, err := app.models.Subscribers.Get(id)
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
		Name              *string `json:"name"`
		Email             *string `json:"email"`
		PhoneNumber       *string `json:"phone_number"`
		LibraryCardNumber *string `json:"library_card_number"`
	}

	err = app.readJSON(w, r, &input)
	if err != nil {
		app.badRequestResponse(w, r, err)
		return
	}

	if input.Name != nil {
		subscriber.Name = *input.Name
	}
	if input.Email != nil {
		subscriber.Email = *input.Email
	}
	if input.PhoneNumber != nil {
		subscriber.PhoneNumber = *input.PhoneNumber
	}
	if input.LibraryCardNumber != nil {
		subscriber.LibraryCardNumber = *input.LibraryCardNumber
	}

	v := validator.New()
	if data.ValidateSubscriber(v, subscriber); !v.Valid() {
		app.failedValidationResponse(w, r, v.Errors)
		return
	}

	err = app.models.Subscribers.Update(subscriber)
	if err != nil {
		switch {
		case errors.Is(err, data.ErrRecordNotFound):
			app.notFoundResponse(w, r)
		case errors.Is(err, data.ErrDuplicateEmail), errors.Is(err, data.ErrDuplicateCardNumber):
			app.conflictResponse(w, r, err)
		default:
			app.serverErrorResponse(w, r, err)
		}
		return
	}

	err = app.writeJSON(w, http.StatusOK, envelope{"subscriber": subscriber}, nil)
	if err != nil {
		app.serverErrorResponse(w, r, err)
	}
}

// updateSubscriberStatusHandler handles PUT /v1/subscribers/:id/status.
// Deactivation is refused with a 409 while the subscriber holds any ISSUED
// or OVERDUE lending.
func (app *applicationDependencies) updateSubscriberStatusHandler(w http.ResponseWriter, r *http.Request) {
	id, err := app.readIDParam(r)
	if err != nil {
		app.badRequestResponse(w, r, err)
		return
	}

	var input struct {
		Active *bool `json:"active"`
	}

	err = app.readJSON(w, r, &input)
	if err != nil {
		app.badRequestResponse(w, r, err)
		return
	}

	v := validator.New()
	v.Check(input.Active != nil, "active", "must be provided")
	if !v.Valid() {
		app.failedValidationResponse(w, r, v.Errors)
		return
	}

	subscriber, err := app.models.Subscribers.SetActive(id, *input.Active)
	if err != nil {
		switch {
		case errors.Is(err, data.ErrRecordNotFound):
			app.notFoundResponse(w, r)
		case errors.Is(err, data.ErrOutstandingLoans):
			app.conflictResponse(w, r, errors.New("cannot deactivate subscriber with outstanding book loans"))
		default:
			app.serverErrorResponse(w, r, err)
		}
		return
	}

	err = app.writeJSON(w, http.StatusOK, envelope{"subscriber": subscriber}, nil)
	if err != nil {
		app.serverErrorResponse(w, r, err)
	}
}

// deleteSubscriberHandler handles DELETE /v1/subscribers/:id.
// Deletion is refused with a 409 while any outstanding loan exists.
func (app *applicationDependencies) deleteSubscriberHandler(w http.ResponseWriter, r *http.Request) {
	id, err := app.readIDParam(r)
	if err != nil {
		app.badRequestResponse(w, r, err)
		return
	}

	err = app.models.Subscribers.Delete(id)
	if err != nil {
		switch {
		case errors.Is(err, data.ErrRecordNotFound):
			app.notFoundResponse(w, r)
		case errors.Is(err, data.ErrOutstandingLoans):
			app.conflictResponse(w, r, errors.New("cannot delete subscriber with outstanding book loans"))
		default:
			app.serverErrorResponse(w, r, err)
		}
		return
	}

	err = app.writeJSON(w, http.StatusOK, envelope{"message": "subscriber successfully deleted"}, nil)
	if err != nil {
		app.serverErrorResponse(w, r, err)
	}
}

package main

import (
	"fmt"
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clms/library-api/internal/data"
)

func TestCreateSubscriber(t *testing.T) {
	app, _ := newTestApplication(t)
	_, token := seedUser(t, app, "librarian", data.RoleLibrarian)

	t.Run("card number is generated when omitted", func(t *testing.T) {
		rr := doRequest(t, app, http.MethodPost, "/v1/subscribers", token, map[string]any{
			"name":  "Olena Kovalenko",
			"email": "olena@example.com",
		})
		require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())

		var subscriber data.Subscriber
		decodeInto(t, rr, "subscriber", &subscriber)
		assert.True(t, strings.HasPrefix(subscriber.LibraryCardNumber, "LIB-"))
		assert.True(t, subscriber.Active, "new subscribers start active")
	})

	t.Run("supplied card number is kept", func(t *testing.T) {
		rr := doRequest(t, app, http.MethodPost, "/v1/subscribers", token, map[string]any{
			"name":                "Ivan Petrenko",
			"email":               "ivan@example.com",
			"library_card_number": "LIB-CUSTOM01",
		})
		require.Equal(t, http.StatusCreated, rr.Code)

		var subscriber data.Subscriber
		decodeInto(t, rr, "subscriber", &subscriber)
		assert.Equal(t, "LIB-CUSTOM01", subscriber.LibraryCardNumber)
	})

	t.Run("duplicate email is a 409", func(t *testing.T) {
		rr := doRequest(t, app, http.MethodPost, "/v1/subscribers", token, map[string]any{
			"name":  "Another Olena",
			"email": "olena@example.com",
		})
		assert.Equal(t, http.StatusConflict, rr.Code)
	})

	t.Run("malformed email fails validation", func(t *testing.T) {
		rr := doRequest(t, app, http.MethodPost, "/v1/subscribers", token, map[string]any{
			"name":  "No Email",
			"email": "not-an-email",
		})
		assert.Equal(t, http.StatusUnprocessableEntity, rr.Code)
	})
}

func TestSubscriberStatusGuard(t *testing.T) {
	app, _ := newTestApplication(t)
	_, token := seedUser(t, app, "librarian", data.RoleLibrarian)

	book := seedBook(t, app, "Held Book", 1)
	subscriber := seedSubscriber(t, app, "Busy Reader")

	rr := doRequest(t, app, http.MethodPost, "/v1/lendings", token, map[string]any{
		"book_id":       book.ID,
		"subscriber_id": subscriber.ID,
		"due_date":      futureDate(7),
	})
	require.Equal(t, http.StatusCreated, rr.Code)
	var lending data.Lending
	decodeInto(t, rr, "lending", &lending)

	statusURL := fmt.Sprintf("/v1/subscribers/%d/status", subscriber.ID)

	// Deactivation is refused while a loan is outstanding.
	rr = doRequest(t, app, http.MethodPut, statusURL, token, map[string]any{"active": false})
	assert.Equal(t, http.StatusConflict, rr.Code)

	// So is deletion.
	rr = doRequest(t, app, http.MethodDelete, fmt.Sprintf("/v1/subscribers/%d", subscriber.ID), token, nil)
	assert.Equal(t, http.StatusConflict, rr.Code)

	// A missing active field is a validation error.
	rr = doRequest(t, app, http.MethodPut, statusURL, token, map[string]any{})
	assert.Equal(t, http.StatusUnprocessableEntity, rr.Code)

	// After the return, deactivation succeeds.
	rr = doRequest(t, app, http.MethodPut, fmt.Sprintf("/v1/lendings/%d/return", lending.ID), token, nil)
	require.Equal(t, http.StatusOK, rr.Code)

	rr = doRequest(t, app, http.MethodPut, statusURL, token, map[string]any{"active": false})
	require.Equal(t, http.StatusOK, rr.Code)

	var updated data.Subscriber
	decodeInto(t, rr, "subscriber", &updated)
	assert.False(t, updated.Active)

	// Reactivation works unconditionally.
	rr = doRequest(t, app, http.MethodPut, statusURL, token, map[string]any{"active": true})
	require.Equal(t, http.StatusOK, rr.Code)
	decodeInto(t, rr, "subscriber", &updated)
	assert.True(t, updated.Active)
}

func TestListSubscribers(t *testing.T) {
	app, st := newTestApplication(t)
	_, token := seedUser(t, app, "librarian", data.RoleLibrarian)

	active := seedSubscriber(t, app, "Active Member")
	inactive := seedSubscriber(t, app, "Dormant Member")
	st.subscribers[inactive.ID].Active = false

	var subscribers []data.Subscriber

	rr := doRequest(t, app, http.MethodGet, "/v1/subscribers", token, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	decodeInto(t, rr, "subscribers", &subscribers)
	assert.Len(t, subscribers, 2)

	rr = doRequest(t, app, http.MethodGet, "/v1/subscribers?active=true", token, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	decodeInto(t, rr, "subscribers", &subscribers)
	require.Len(t, subscribers, 1)
	assert.Equal(t, active.ID, subscribers[0].ID)

	rr = doRequest(t, app, http.MethodGet, "/v1/subscribers?name=dormant", token, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	decodeInto(t, rr, "subscribers", &subscribers)
	require.Len(t, subscribers, 1)
	assert.Equal(t, inactive.ID, subscribers[0].ID)

	// Card-number lookup returns a single subscriber envelope.
	rr = doRequest(t, app, http.MethodGet, "/v1/subscribers?card_number="+active.LibraryCardNumber, token, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var found data.Subscriber
	decodeInto(t, rr, "subscriber", &found)
	assert.Equal(t, active.ID, found.ID)

	rr = doRequest(t, app, http.MethodGet, "/v1/subscribers?card_number=LIB-NOPE", token, nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestUpdateSubscriber(t *testing.T) {
	app, _ := newTestApplication(t)
	_, token := seedUser(t, app, "librarian", data.RoleLibrarian)

	subscriber := seedSubscriber(t, app, "Olga Before")
	subURL := fmt.Sprintf("/v1/subscribers/%d", subscriber.ID)

	rr := doRequest(t, app, http.MethodPatch, subURL, token, map[string]any{
		"name":         "Olga After",
		"phone_number": "+380501234567",
	})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	var updated data.Subscriber
	decodeInto(t, rr, "subscriber", &updated)
	assert.Equal(t, "Olga After", updated.Name)
	assert.Equal(t, "+380501234567", updated.PhoneNumber)
	assert.Equal(t, subscriber.Email, updated.Email)
}

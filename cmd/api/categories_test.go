package main

import (
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clms/library-api/internal/data"
)

func TestCategoryLifecycle(t *testing.T) {
	app, _ := newTestApplication(t)
	_, token := seedUser(t, app, "bookadmin", data.RoleBookAdmin)

	rr := doRequest(t, app, http.MethodPost, "/v1/categories", token, map[string]any{
		"name":        "Poetry",
		"description": "Verse in all forms.",
	})
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())

	var category data.Category
	decodeInto(t, rr, "category", &category)
	assert.Equal(t, "Poetry", category.Name)

	// Duplicate names are refused case-insensitively.
	rr = doRequest(t, app, http.MethodPost, "/v1/categories", token, map[string]any{"name": "POETRY"})
	assert.Equal(t, http.StatusConflict, rr.Code)

	// Link a book, then confirm the in-use guard.
	rr = doRequest(t, app, http.MethodPost, "/v1/books", token, map[string]any{
		"title":        "Collected Poems",
		"total_copies": 1,
		"category_ids": []int64{category.ID},
	})
	require.Equal(t, http.StatusCreated, rr.Code)
	var book data.Book
	decodeInto(t, rr, "book", &book)

	categoryURL := fmt.Sprintf("/v1/categories/%d", category.ID)
	rr = doRequest(t, app, http.MethodDelete, categoryURL, token, nil)
	assert.Equal(t, http.StatusConflict, rr.Code)

	// The category's book listing works.
	rr = doRequest(t, app, http.MethodGet, categoryURL+"/books", token, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var books []data.Book
	decodeInto(t, rr, "books", &books)
	assert.Len(t, books, 1)

	// Remove the book, then the category.
	rr = doRequest(t, app, http.MethodDelete, fmt.Sprintf("/v1/books/%d", book.ID), token, nil)
	require.Equal(t, http.StatusOK, rr.Code)

	rr = doRequest(t, app, http.MethodDelete, categoryURL, token, nil)
	assert.Equal(t, http.StatusOK, rr.Code)

	rr = doRequest(t, app, http.MethodGet, categoryURL, token, nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestListCategories(t *testing.T) {
	app, _ := newTestApplication(t)
	_, token := seedUser(t, app, "bookadmin", data.RoleBookAdmin)

	for _, name := range []string{"Fiction", "Non-fiction", "Science Fiction"} {
		rr := doRequest(t, app, http.MethodPost, "/v1/categories", token, map[string]any{"name": name})
		require.Equal(t, http.StatusCreated, rr.Code)
	}

	var categories []data.Category

	rr := doRequest(t, app, http.MethodGet, "/v1/categories", token, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	decodeInto(t, rr, "categories", &categories)
	assert.Len(t, categories, 3)

	rr = doRequest(t, app, http.MethodGet, "/v1/categories?name=fiction", token, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	decodeInto(t, rr, "categories", &categories)
	assert.Len(t, categories, 3)

	rr = doRequest(t, app, http.MethodGet, "/v1/categories?name=science", token, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	decodeInto(t, rr, "categories", &categories)
	require.Len(t, categories, 1)
	assert.Equal(t, "Science Fiction", categories[0].Name)
}

// cmd/api/routes.go
package main

import (
	"net/http"

	"github.com/julienschmidt/httprouter"

	"github.com/clms/library-api/internal/data"
)

// routes registers all HTTP endpoints and returns the configured router
// wrapped in the standard middleware chain (outermost → innermost):
//
//	recoverPanic → enableCORS → rateLimit → authenticate → router
//
// Authorization policy per resource, matching requireRole on each route:
//
//	catalog reads (books/authors/categories)  BOOK_ADMIN or LIBRARIAN
//	catalog writes                            BOOK_ADMIN
//	subscribers and lendings                  LIBRARIAN
//	user administration                       USER_ADMIN
//	healthcheck and login                     public
func (app *applicationDependencies) routes() http.Handler {
	router := httprouter.New()

	// Override the default httprouter error handlers to return JSON responses.
	router.NotFound = http.HandlerFunc(app.notFoundResponse)
	router.MethodNotAllowed = http.HandlerFunc(app.methodNotAllowedResponse)

	router.HandlerFunc(http.MethodGet, "/v1/healthcheck", app.healthcheckHandler)
	router.HandlerFunc(http.MethodPost, "/v1/tokens/authentication", app.createAuthenticationTokenHandler)

	catalogRead := []string{data.RoleBookAdmin, data.RoleLibrarian}

	// Book routes
	router.HandlerFunc(http.MethodPost, "/v1/books", app.requireRole(app.createBookHandler, data.RoleBookAdmin))
	router.HandlerFunc(http.MethodGet, "/v1/books/:id", app.requireRole(app.showBookHandler, catalogRead...))
	router.HandlerFunc(http.MethodGet, "/v1/books", app.requireRole(app.listBooksHandler, catalogRead...))
	router.HandlerFunc(http.MethodPatch, "/v1/books/:id", app.requireRole(app.updateBookHandler, data.RoleBookAdmin))
	router.HandlerFunc(http.MethodPut, "/v1/books/:id/copies", app.requireRole(app.updateBookCopiesHandler, data.RoleBookAdmin))
	router.HandlerFunc(http.MethodDelete, "/v1/books/:id", app.requireRole(app.deleteBookHandler, data.RoleBookAdmin))

	// Author routes
	router.HandlerFunc(http.MethodPost, "/v1/authors", app.requireRole(app.createAuthorHandler, data.RoleBookAdmin))
	router.HandlerFunc(http.MethodGet, "/v1/authors/:id", app.requireRole(app.showAuthorHandler, catalogRead...))
	router.HandlerFunc(http.MethodGet, "/v1/authors", app.requireRole(app.listAuthorsHandler, catalogRead...))
	router.HandlerFunc(http.MethodGet, "/v1/authors/:id/books", app.requireRole(app.listAuthorBooksHandler, catalogRead...))
	router.HandlerFunc(http.MethodPatch, "/v1/authors/:id", app.requireRole(app.updateAuthorHandler, data.RoleBookAdmin))
	router.HandlerFunc(http.MethodDelete, "/v1/authors/:id", app.requireRole(app.deleteAuthorHandler, data.RoleBookAdmin))

	// Category routes
	router.HandlerFunc(http.MethodPost, "/v1/categories", app.requireRole(app.createCategoryHandler, data.RoleBookAdmin))
	router.HandlerFunc(http.MethodGet, "/v1/categories/:id", app.requireRole(app.showCategoryHandler, catalogRead...))
	router.HandlerFunc(http.MethodGet, "/v1/categories", app.requireRole(app.listCategoriesHandler, catalogRead...))
	router.HandlerFunc(http.MethodGet, "/v1/categories/:id/books", app.requireRole(app.listCategoryBooksHandler, catalogRead...))
	router.HandlerFunc(http.MethodPatch, "/v1/categories/:id", app.requireRole(app.updateCategoryHandler, data.RoleBookAdmin))
	router.HandlerFunc(http.MethodDelete, "/v1/categories/:id", app.requireRole(app.deleteCategoryHandler, data.RoleBookAdmin))

	// Subscriber routes
	router.HandlerFunc(http.MethodPost, "/v1/subscribers", app.requireRole(app.createSubscriberHandler, data.RoleLibrarian))
	router.HandlerFunc(http.MethodGet, "/v1/subscribers/:id", app.requireRole(app.showSubscriberHandler, data.RoleLibrarian))
	router.HandlerFunc(http.MethodGet, "/v1/subscribers", app.requireRole(app.listSubscribersHandler, data.RoleLibrarian))
	router.HandlerFunc(http.MethodGet, "/v1/subscribers/:id/lendings", app.requireRole(app.listSubscriberLendingsHandler, data.RoleLibrarian))
	router.HandlerFunc(http.MethodPatch, "/v1/subscribers/:id", app.requireRole(app.updateSubscriberHandler, data.RoleLibrarian))
	router.HandlerFunc(http.MethodPut, "/v1/subscribers/:id/status", app.requireRole(app.updateSubscriberStatusHandler, data.RoleLibrarian))
	router.HandlerFunc(http.MethodDelete, "/v1/subscribers/:id", app.requireRole(app.deleteSubscriberHandler, data.RoleLibrarian))

	// Lending routes
	router.HandlerFunc(http.MethodPost, "/v1/lendings", app.requireRole(app.issueLendingHandler, data.RoleLibrarian))
	router.HandlerFunc(http.MethodGet, "/v1/lendings/:id", app.requireRole(app.showLendingHandler, data.RoleLibrarian))
	router.HandlerFunc(http.MethodGet, "/v1/lendings", app.requireRole(app.listLendingsHandler, data.RoleLibrarian))
	router.HandlerFunc(http.MethodPut, "/v1/lendings/:id/return", app.requireRole(app.returnLendingHandler, data.RoleLibrarian))
	router.HandlerFunc(http.MethodPost, "/v1/lendings/overdue/sweep", app.requireRole(app.sweepOverdueLendingsHandler, data.RoleLibrarian))
	router.HandlerFunc(http.MethodDelete, "/v1/lendings/:id", app.requireRole(app.deleteLendingHandler, data.RoleLibrarian))

	// User administration routes
	router.HandlerFunc(http.MethodPost, "/v1/users", app.requireRole(app.createUserHandler, data.RoleUserAdmin))
	router.HandlerFunc(http.MethodGet, "/v1/users/:id", app.requireRole(app.showUserHandler, data.RoleUserAdmin))
	router.HandlerFunc(http.MethodGet, "/v1/users", app.requireRole(app.listUsersHandler, data.RoleUserAdmin))
	router.HandlerFunc(http.MethodPatch, "/v1/users/:id", app.requireRole(app.updateUserHandler, data.RoleUserAdmin))
	router.HandlerFunc(http.MethodPut, "/v1/users/:id/status", app.requireRole(app.updateUserStatusHandler, data.RoleUserAdmin))
	router.HandlerFunc(http.MethodDelete, "/v1/users/:id", app.requireRole(app.deleteUserHandler, data.RoleUserAdmin))

	// Wrap with middleware: recoverPanic is outermost so it catches panics
	// from every layer below it.
	return app.recoverPanic(app.enableCORS(app.rateLimit(app.authenticate(router))))
}

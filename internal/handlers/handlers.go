package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"library/internal/middleware"
	"library/internal/services"
)

type Handler struct {
	catalog services.CatalogService
	lending services.LendingService
	auth    services.AuthService
}

// RegisterRoutes mounts every API route on the router. Admin-only routes
// are guarded here, at the edge; the service layer receives the resolved
// Actor explicitly.
func RegisterRoutes(r *gin.Engine, catalog services.CatalogService, lending services.LendingService, auth services.AuthService, jwtSecret []byte) {
	h := &Handler{catalog: catalog, lending: lending, auth: auth}
	authed := middleware.Auth(jwtSecret)
	admin := middleware.RequireAdmin()

	// Accounts
	r.POST("/auth/register", h.register)
	r.POST("/auth/login", h.login)
	r.GET("/auth/me", authed, h.currentUser)

	// Catalog — browsing is public, mutation is admin-only
	r.GET("/books", h.listBooks)
	r.GET("/books/:id", h.getBook)
	r.GET("/books/:id/availability", h.bookAvailability)
	r.POST("/books", authed, admin, h.createBook)
	r.PATCH("/books/:id", authed, admin, h.updateBook)
	r.PUT("/books/:id", authed, admin, h.updateBook)
	r.DELETE("/books/:id", authed, admin, h.deleteBook)

	// Lending
	r.POST("/loans", authed, h.borrow)
	r.GET("/loans", authed, h.listLoans)
	r.GET("/loans/my", authed, h.myLoans)
	r.GET("/loans/overdue", authed, admin, h.overdueLoans)
	r.GET("/loans/:id", authed, h.getLoan)
	r.POST("/loans/:id/return", authed, h.returnLoan)
	r.POST("/loans/:id/renew", authed, h.renewLoan)
	r.POST("/loans/:id/lost", authed, admin, h.markLoanLost)
}

// respondError translates service-layer error kinds into HTTP statuses.
// Every kind stays distinguishable; concurrency conflicts are flagged as
// retryable so clients can decide their own retry policy.
func respondError(c *gin.Context, err error) {
	var ve *services.ValidationError
	var cre *services.CannotRenewError

	switch {
	case errors.As(err, &ve):
		c.JSON(http.StatusBadRequest, gin.H{"errors": ve.Errors})
	case errors.As(err, &cre):
		c.JSON(http.StatusConflict, gin.H{"error": cre.Error(), "reason": string(cre.Reason)})
	case errors.Is(err, services.ErrBookNotFound),
		errors.Is(err, services.ErrLoanNotFound),
		errors.Is(err, services.ErrUserNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, services.ErrNotOwner):
		c.JSON(http.StatusForbidden, gin.H{"error": err.Error()})
	case errors.Is(err, services.ErrInvalidCredentials):
		c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
	case errors.Is(err, services.ErrNotAvailable),
		errors.Is(err, services.ErrDuplicateLoan),
		errors.Is(err, services.ErrLoanLimit),
		errors.Is(err, services.ErrAlreadyReturned),
		errors.Is(err, services.ErrLoanLost),
		errors.Is(err, services.ErrBookHasLoans):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, services.ErrConflict):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error(), "retryable": true})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
	}
}

package handlers

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"library/internal/models"
	"library/internal/repositories"
	"library/internal/services"
)

var testJWTSecret = []byte("test-secret")

type testServer struct {
	router *gin.Engine
	db     *gorm.DB

	adminToken string
	userToken  string
	userID     string
}

// newTestServer stands up the full route table on an in-memory SQLite
// database and pre-provisions one admin and one regular user, logging
// both in through the real /auth/login route.
func newTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, db.AutoMigrate(&models.User{}, &models.Book{}, &models.Loan{}))

	userRepo := repositories.NewUserRepository(db)
	bookRepo := repositories.NewBookRepository(db)
	loanRepo := repositories.NewLoanRepository(db)
	catalog := services.NewCatalogService(db, bookRepo, loanRepo)
	lending := services.NewLendingService(db, catalog, bookRepo, loanRepo, userRepo)
	auth := services.NewAuthService(db, userRepo, testJWTSecret)

	router := gin.New()
	RegisterRoutes(router, catalog, lending, auth, testJWTSecret)

	ts := &testServer{router: router, db: db}

	hashed, err := bcrypt.GenerateFromPassword([]byte("password123"), bcrypt.MinCost)
	require.NoError(t, err)
	admin := &models.User{
		Username:     "librarian",
		Email:        "librarian@example.com",
		PasswordHash: string(hashed),
		Role:         models.UserRoleAdmin,
	}
	require.NoError(t, userRepo.Create(nil, admin))
	ts.adminToken = ts.login(t, "librarian", "password123")

	w := ts.do(t, http.MethodPost, "/auth/register", "", gin.H{
		"username": "member",
		"email":    "member@example.com",
		"password": "password123",
	})
	require.Equal(t, http.StatusCreated, w.Code)
	var member models.User
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &member))
	ts.userID = member.ID.String()
	ts.userToken = ts.login(t, "member", "password123")

	return ts
}

func (ts *testServer) do(t *testing.T, method, path, token string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	ts.router.ServeHTTP(w, req)
	return w
}

func (ts *testServer) login(t *testing.T, username, password string) string {
	t.Helper()
	w := ts.do(t, http.MethodPost, "/auth/login", "", gin.H{
		"username": username, "password": password,
	})
	require.Equal(t, http.StatusOK, w.Code, "login failed: %s", w.Body.String())
	var resp struct {
		Token string `json:"token"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp.Token
}

var handlerISBNSeq int

func handlerISBN() string {
	handlerISBNSeq++
	return fmt.Sprintf("979%010d", handlerISBNSeq)
}

// createBook inserts a catalog entry through the admin route and returns
// the decoded response.
func (ts *testServer) createBook(t *testing.T, title string, copies int) models.Book {
	t.Helper()
	w := ts.do(t, http.MethodPost, "/books", ts.adminToken, gin.H{
		"title":        title,
		"author":       "Test Author",
		"isbn":         handlerISBN(),
		"total_copies": copies,
	})
	require.Equal(t, http.StatusCreated, w.Code, "create book failed: %s", w.Body.String())
	var book models.Book
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &book))
	return book
}

func (ts *testServer) borrow(t *testing.T, token, bookID string) models.Loan {
	t.Helper()
	w := ts.do(t, http.MethodPost, "/loans", token, gin.H{"book_id": bookID})
	require.Equal(t, http.StatusCreated, w.Code, "borrow failed: %s", w.Body.String())
	var loan models.Loan
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &loan))
	return loan
}

// ─── Auth routes ──────────────────────────────────────────────────────────────

func TestRegisterValidationErrors(t *testing.T) {
	ts := newTestServer(t)

	w := ts.do(t, http.MethodPost, "/auth/register", "", gin.H{
		"username": "ab", "email": "bad", "password": "short",
	})
	require.Equal(t, http.StatusBadRequest, w.Code)
	var resp struct {
		Errors map[string]string `json:"errors"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Contains(t, resp.Errors, "username")
	assert.Contains(t, resp.Errors, "email")
	assert.Contains(t, resp.Errors, "password")
}

func TestLoginBadCredentials(t *testing.T) {
	ts := newTestServer(t)
	w := ts.do(t, http.MethodPost, "/auth/login", "", gin.H{
		"username": "member", "password": "wrong-password",
	})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestCurrentUser(t *testing.T) {
	ts := newTestServer(t)

	w := ts.do(t, http.MethodGet, "/auth/me", ts.userToken, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var user models.User
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &user))
	assert.Equal(t, "member", user.Username)

	w = ts.do(t, http.MethodGet, "/auth/me", "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestRejectsGarbageToken(t *testing.T) {
	ts := newTestServer(t)
	w := ts.do(t, http.MethodGet, "/auth/me", "not.a.jwt", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

// ─── Book routes ──────────────────────────────────────────────────────────────

func TestBooksArePubliclyListable(t *testing.T) {
	ts := newTestServer(t)
	ts.createBook(t, "Public Knowledge", 2)

	w := ts.do(t, http.MethodGet, "/books", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var books []models.Book
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &books))
	assert.Len(t, books, 1)
}

func TestCreateBookRequiresAdmin(t *testing.T) {
	ts := newTestServer(t)
	payload := gin.H{
		"title": "Forbidden", "author": "A", "isbn": handlerISBN(), "total_copies": 1,
	}

	w := ts.do(t, http.MethodPost, "/books", "", payload)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = ts.do(t, http.MethodPost, "/books", ts.userToken, payload)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = ts.do(t, http.MethodPost, "/books", ts.adminToken, payload)
	assert.Equal(t, http.StatusCreated, w.Code)
}

func TestCreateBookInvalidPayload(t *testing.T) {
	ts := newTestServer(t)

	w := ts.do(t, http.MethodPost, "/books", ts.adminToken, gin.H{
		"title": "", "author": "", "isbn": "nope", "total_copies": 0,
	})
	require.Equal(t, http.StatusBadRequest, w.Code)
	var resp struct {
		Errors map[string]string `json:"errors"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Contains(t, resp.Errors, "isbn")
}

func TestGetBookNotFoundAndBadID(t *testing.T) {
	ts := newTestServer(t)

	w := ts.do(t, http.MethodGet, "/books/6b1f0c52-0000-0000-0000-000000000000", "", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = ts.do(t, http.MethodGet, "/books/not-a-uuid", "", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestDeleteBookWithLoansConflicts(t *testing.T) {
	ts := newTestServer(t)
	book := ts.createBook(t, "Loaned Out", 1)
	ts.borrow(t, ts.userToken, book.ID.String())

	w := ts.do(t, http.MethodDelete, "/books/"+book.ID.String(), ts.adminToken, nil)
	assert.Equal(t, http.StatusConflict, w.Code)

	clean := ts.createBook(t, "Untouched", 1)
	w = ts.do(t, http.MethodDelete, "/books/"+clean.ID.String(), ts.adminToken, nil)
	assert.Equal(t, http.StatusNoContent, w.Code)
}

func TestBookAvailabilityEndpoint(t *testing.T) {
	ts := newTestServer(t)
	book := ts.createBook(t, "Single Copy", 1)

	w := ts.do(t, http.MethodGet, "/books/"+book.ID.String()+"/availability", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var resp struct {
		IsAvailable bool `json:"is_available"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.True(t, resp.IsAvailable)

	ts.borrow(t, ts.userToken, book.ID.String())

	w = ts.do(t, http.MethodGet, "/books/"+book.ID.String()+"/availability", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.False(t, resp.IsAvailable)
}

// ─── Loan routes ──────────────────────────────────────────────────────────────

func TestBorrowAndReturnFlow(t *testing.T) {
	ts := newTestServer(t)
	book := ts.createBook(t, "Round Trip", 1)

	loan := ts.borrow(t, ts.userToken, book.ID.String())
	assert.Equal(t, models.LoanStatusActive, loan.Status)

	// Same borrower, same book: refused while the first loan is open.
	w := ts.do(t, http.MethodPost, "/loans", ts.userToken, gin.H{"book_id": book.ID.String()})
	assert.Equal(t, http.StatusConflict, w.Code)

	w = ts.do(t, http.MethodPost, "/loans/"+loan.ID.String()+"/return", ts.userToken, nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = ts.do(t, http.MethodPost, "/loans/"+loan.ID.String()+"/return", ts.userToken, nil)
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestBorrowUnavailableBook(t *testing.T) {
	ts := newTestServer(t)
	book := ts.createBook(t, "Contested", 1)
	ts.borrow(t, ts.adminToken, book.ID.String())

	w := ts.do(t, http.MethodPost, "/loans", ts.userToken, gin.H{"book_id": book.ID.String()})
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestBorrowRejectsMalformedBookID(t *testing.T) {
	ts := newTestServer(t)
	w := ts.do(t, http.MethodPost, "/loans", ts.userToken, gin.H{"book_id": "not-a-uuid"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestLoanVisibilityIsOwnerOrAdmin(t *testing.T) {
	ts := newTestServer(t)
	book := ts.createBook(t, "Private Reading", 2)
	loan := ts.borrow(t, ts.adminToken, book.ID.String())

	// Another user's loan is forbidden, not merely hidden.
	w := ts.do(t, http.MethodGet, "/loans/"+loan.ID.String(), ts.userToken, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = ts.do(t, http.MethodGet, "/loans/"+loan.ID.String(), ts.adminToken, nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestListLoansScopedByRole(t *testing.T) {
	ts := newTestServer(t)
	book := ts.createBook(t, "Shared Shelf", 2)
	ts.borrow(t, ts.adminToken, book.ID.String())
	ts.borrow(t, ts.userToken, book.ID.String())

	w := ts.do(t, http.MethodGet, "/loans", ts.userToken, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var loans []models.Loan
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &loans))
	require.Len(t, loans, 1)
	assert.Equal(t, ts.userID, loans[0].UserID.String())

	w = ts.do(t, http.MethodGet, "/loans", ts.adminToken, nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &loans))
	assert.Len(t, loans, 2)
}

func TestRenewRejectsOutOfRangeDays(t *testing.T) {
	ts := newTestServer(t)
	book := ts.createBook(t, "Extended Reading", 1)
	loan := ts.borrow(t, ts.userToken, book.ID.String())

	w := ts.do(t, http.MethodPost, "/loans/"+loan.ID.String()+"/renew", ts.userToken, gin.H{"days": 90})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = ts.do(t, http.MethodPost, "/loans/"+loan.ID.String()+"/renew", ts.userToken, gin.H{"days": 7})
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestOverdueListAndMarkLostAreAdminOnly(t *testing.T) {
	ts := newTestServer(t)
	book := ts.createBook(t, "Gone Missing", 1)
	loan := ts.borrow(t, ts.userToken, book.ID.String())

	w := ts.do(t, http.MethodGet, "/loans/overdue", ts.userToken, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = ts.do(t, http.MethodPost, "/loans/"+loan.ID.String()+"/lost", ts.userToken, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = ts.do(t, http.MethodPost, "/loans/"+loan.ID.String()+"/lost", ts.adminToken, nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

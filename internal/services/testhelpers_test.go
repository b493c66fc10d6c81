package services

import (
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"library/internal/models"
	"library/internal/repositories"
)

// testClock is the fixed instant all service tests start from.
var testClock = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

type testEnv struct {
	db       *gorm.DB
	userRepo repositories.UserRepository
	bookRepo repositories.BookRepository
	loanRepo repositories.LoanRepository

	catalog CatalogService
	lending *lendingService
	auth    AuthService

	admin models.Actor
}

// newTestEnv builds the full service stack on an in-memory SQLite
// database. The pool is capped at one connection so concurrent
// transactions serialize instead of hitting SQLite write locks, and the
// lending clock starts fixed at testClock.
func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

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

	catalog := NewCatalogService(db, bookRepo, loanRepo)
	lending := NewLendingService(db, catalog, bookRepo, loanRepo, userRepo).(*lendingService)
	lending.now = func() time.Time { return testClock }
	auth := NewAuthService(db, userRepo, []byte("test-secret"))

	env := &testEnv{
		db:       db,
		userRepo: userRepo,
		bookRepo: bookRepo,
		loanRepo: loanRepo,
		catalog:  catalog,
		lending:  lending,
		auth:     auth,
	}

	adminUser := env.createUser(t, "head-librarian", models.UserRoleAdmin)
	env.admin = models.Actor{ID: adminUser.ID, Role: models.UserRoleAdmin}
	return env
}

// setClock pins the lending clock to the given instant.
func (e *testEnv) setClock(at time.Time) {
	e.lending.now = func() time.Time { return at }
}

// createUser inserts an account directly. Every test account shares the
// password "password123" so login tests can authenticate against it.
func (e *testEnv) createUser(t *testing.T, username string, role models.UserRole) *models.User {
	t.Helper()
	hashed, err := bcrypt.GenerateFromPassword([]byte("password123"), bcrypt.MinCost)
	require.NoError(t, err)
	user := &models.User{
		Username:     username,
		Email:        username + "@example.com",
		PasswordHash: string(hashed),
		Role:         role,
	}
	require.NoError(t, e.userRepo.Create(nil, user))
	return user
}

func (e *testEnv) actorFor(u *models.User) models.Actor {
	return models.Actor{ID: u.ID, Role: u.Role}
}

var isbnSeq int

// nextISBN produces a fresh syntactically valid ISBN-13 per call.
func nextISBN() string {
	isbnSeq++
	return fmt.Sprintf("978%010d", isbnSeq)
}

func (e *testEnv) createBook(t *testing.T, title string, copies int) *models.Book {
	t.Helper()
	book, err := e.catalog.CreateBook(e.admin, CreateBookInput{
		Title:       title,
		Author:      "Test Author",
		ISBN:        nextISBN(),
		TotalCopies: copies,
	})
	require.NoError(t, err)
	return book
}

func (e *testEnv) reloadBook(t *testing.T, id uuid.UUID) *models.Book {
	t.Helper()
	var book models.Book
	require.NoError(t, e.db.First(&book, "id = ?", id).Error)
	return &book
}

// assertCopyInvariant checks both safety invariants for a book:
// 0 <= available_copies <= total_copies, and the count of ACTIVE/OVERDUE
// loans equals total_copies - available_copies.
func (e *testEnv) assertCopyInvariant(t *testing.T, bookID uuid.UUID) {
	t.Helper()
	var book models.Book
	require.NoError(t, e.db.First(&book, "id = ?", bookID).Error)
	require.GreaterOrEqual(t, book.AvailableCopies, 0)
	require.LessOrEqual(t, book.AvailableCopies, book.TotalCopies)

	var active int64
	require.NoError(t, e.db.Model(&models.Loan{}).
		Where("book_id = ? AND status IN ?", book.ID,
			[]models.LoanStatus{models.LoanStatusActive, models.LoanStatusOverdue}).
		Count(&active).Error)
	require.Equal(t, int64(book.TotalCopies-book.AvailableCopies), active,
		"active loan count must equal total_copies - available_copies")
}

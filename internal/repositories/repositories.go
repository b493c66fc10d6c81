package repositories

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"library/internal/models"
)

type UserRepository interface {
	Create(db *gorm.DB, user *models.User) error
	GetByID(db *gorm.DB, id uuid.UUID) (*models.User, error)
	GetByUsername(db *gorm.DB, username string) (*models.User, error)
	GetByEmail(db *gorm.DB, email string) (*models.User, error)
}

type BookRepository interface {
	Create(db *gorm.DB, book *models.Book) error
	GetByID(db *gorm.DB, id uuid.UUID) (*models.Book, error)
	GetByIDForUpdate(db *gorm.DB, id uuid.UUID) (*models.Book, error)
	GetByISBN(db *gorm.DB, isbn string) (*models.Book, error)
	List(db *gorm.DB, search string, status *models.BookStatus, limit, offset int) ([]models.Book, error)
	Save(db *gorm.DB, book *models.Book) error
	Delete(db *gorm.DB, id uuid.UUID) error

	// DecrementAvailable atomically takes one copy off the shelf. The guard
	// is a conditional UPDATE: it succeeds only while available_copies > 0
	// and the book is in AVAILABLE status, so the counter can never go
	// negative and MAINTENANCE/LOST books are never handed out. Returns the
	// number of rows changed (0 or 1).
	DecrementAvailable(db *gorm.DB, id uuid.UUID) (int64, error)

	// IncrementAvailable atomically puts one copy back, capped at
	// total_copies, resetting BORROWED back to AVAILABLE.
	IncrementAvailable(db *gorm.DB, id uuid.UUID) (int64, error)

	// DecrementTotal writes one copy off permanently (lost while on loan).
	// The guard keeps available_copies <= total_copies; a book whose last
	// copy is written off is marked LOST.
	DecrementTotal(db *gorm.DB, id uuid.UUID) (int64, error)
}

type LoanRepository interface {
	Create(db *gorm.DB, loan *models.Loan) error
	GetByID(db *gorm.DB, id uuid.UUID) (*models.Loan, error)
	GetByIDForUpdate(db *gorm.DB, id uuid.UUID) (*models.Loan, error)
	HasActiveLoan(db *gorm.DB, userID, bookID uuid.UUID) (bool, error)
	CountActiveByUser(db *gorm.DB, userID uuid.UUID) (int64, error)
	CountByBook(db *gorm.DB, bookID uuid.UUID) (int64, error)
	UpdateStatus(db *gorm.DB, id uuid.UUID, status models.LoanStatus) error
	MarkReturned(db *gorm.DB, id uuid.UUID, returnedAt time.Time, notes *string) error
	MarkRenewed(db *gorm.DB, id uuid.UUID, dueAt time.Time, renewedCount int) error

	// PromoteOverdue flips every ACTIVE loan whose due date has passed to
	// OVERDUE. When userID is non-nil only that borrower's loans are
	// touched. This is the bulk form of the lazy overdue transition.
	PromoteOverdue(db *gorm.DB, userID *uuid.UUID, now time.Time) (int64, error)

	ListByUser(db *gorm.DB, userID uuid.UUID, status *models.LoanStatus) ([]models.Loan, error)
	List(db *gorm.DB, status *models.LoanStatus) ([]models.Loan, error)
	ListOverdue(db *gorm.DB) ([]models.Loan, error)
}

// concrete implementations

type userRepository struct {
	db *gorm.DB
}

func NewUserRepository(db *gorm.DB) UserRepository {
	return &userRepository{db: db}
}

func (r *userRepository) Create(db *gorm.DB, user *models.User) error {
	if db == nil {
		db = r.db
	}
	return db.Create(user).Error
}

func (r *userRepository) GetByID(db *gorm.DB, id uuid.UUID) (*models.User, error) {
	if db == nil {
		db = r.db
	}
	var user models.User
	if err := db.First(&user, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &user, nil
}

func (r *userRepository) GetByUsername(db *gorm.DB, username string) (*models.User, error) {
	if db == nil {
		db = r.db
	}
	var user models.User
	if err := db.First(&user, "username = ?", username).Error; err != nil {
		return nil, err
	}
	return &user, nil
}

func (r *userRepository) GetByEmail(db *gorm.DB, email string) (*models.User, error) {
	if db == nil {
		db = r.db
	}
	var user models.User
	if err := db.First(&user, "email = ?", email).Error; err != nil {
		return nil, err
	}
	return &user, nil
}

type bookRepository struct {
	db *gorm.DB
}

func NewBookRepository(db *gorm.DB) BookRepository {
	return &bookRepository{db: db}
}

func (r *bookRepository) Create(db *gorm.DB, book *models.Book) error {
	if db == nil {
		db = r.db
	}
	return db.Create(book).Error
}

func (r *bookRepository) GetByID(db *gorm.DB, id uuid.UUID) (*models.Book, error) {
	if db == nil {
		db = r.db
	}
	var book models.Book
	if err := db.First(&book, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &book, nil
}

func (r *bookRepository) GetByIDForUpdate(db *gorm.DB, id uuid.UUID) (*models.Book, error) {
	if db == nil {
		db = r.db
	}
	var book models.Book
	err := db.
		Clauses(clause.Locking{Strength: "UPDATE"}).
		First(&book, "id = ?", id).Error
	if err != nil {
		return nil, err
	}
	return &book, nil
}

func (r *bookRepository) GetByISBN(db *gorm.DB, isbn string) (*models.Book, error) {
	if db == nil {
		db = r.db
	}
	var book models.Book
	if err := db.First(&book, "isbn = ?", isbn).Error; err != nil {
		return nil, err
	}
	return &book, nil
}

func (r *bookRepository) List(db *gorm.DB, search string, status *models.BookStatus, limit, offset int) ([]models.Book, error) {
	if db == nil {
		db = r.db
	}
	q := db.Model(&models.Book{})
	if search != "" {
		like := "%" + search + "%"
		q = q.Where("title LIKE ? OR author LIKE ? OR isbn LIKE ?", like, like, like)
	}
	if status != nil {
		q = q.Where("status = ?", *status)
	}
	if limit > 0 {
		q = q.Limit(limit)
	}
	if offset > 0 {
		q = q.Offset(offset)
	}
	var books []models.Book
	if err := q.Order("created_at DESC").Find(&books).Error; err != nil {
		return nil, err
	}
	return books, nil
}

func (r *bookRepository) Save(db *gorm.DB, book *models.Book) error {
	if db == nil {
		db = r.db
	}
	return db.Save(book).Error
}

func (r *bookRepository) Delete(db *gorm.DB, id uuid.UUID) error {
	if db == nil {
		db = r.db
	}
	return db.Delete(&models.Book{}, "id = ?", id).Error
}

func (r *bookRepository) DecrementAvailable(db *gorm.DB, id uuid.UUID) (int64, error) {
	if db == nil {
		db = r.db
	}
	res := db.Model(&models.Book{}).
		Where("id = ? AND available_copies > 0 AND status = ?", id, models.BookStatusAvailable).
		Updates(map[string]interface{}{
			"available_copies": gorm.Expr("available_copies - 1"),
			"status":           gorm.Expr("CASE WHEN available_copies - 1 = 0 THEN ? ELSE status END", models.BookStatusBorrowed),
		})
	return res.RowsAffected, res.Error
}

func (r *bookRepository) IncrementAvailable(db *gorm.DB, id uuid.UUID) (int64, error) {
	if db == nil {
		db = r.db
	}
	res := db.Model(&models.Book{}).
		Where("id = ? AND available_copies < total_copies", id).
		Updates(map[string]interface{}{
			"available_copies": gorm.Expr("available_copies + 1"),
			"status":           gorm.Expr("CASE WHEN status = ? THEN ? ELSE status END", models.BookStatusBorrowed, models.BookStatusAvailable),
		})
	return res.RowsAffected, res.Error
}

func (r *bookRepository) DecrementTotal(db *gorm.DB, id uuid.UUID) (int64, error) {
	if db == nil {
		db = r.db
	}
	res := db.Model(&models.Book{}).
		Where("id = ? AND total_copies > available_copies", id).
		Updates(map[string]interface{}{
			"total_copies": gorm.Expr("total_copies - 1"),
			"status":       gorm.Expr("CASE WHEN total_copies - 1 = 0 THEN ? ELSE status END", models.BookStatusLost),
		})
	return res.RowsAffected, res.Error
}

type loanRepository struct {
	db *gorm.DB
}

func NewLoanRepository(db *gorm.DB) LoanRepository {
	return &loanRepository{db: db}
}

func (r *loanRepository) Create(db *gorm.DB, loan *models.Loan) error {
	if db == nil {
		db = r.db
	}
	return db.Create(loan).Error
}

func (r *loanRepository) GetByID(db *gorm.DB, id uuid.UUID) (*models.Loan, error) {
	if db == nil {
		db = r.db
	}
	var loan models.Loan
	err := db.Preload("Book").First(&loan, "id = ?", id).Error
	if err != nil {
		return nil, err
	}
	return &loan, nil
}

func (r *loanRepository) GetByIDForUpdate(db *gorm.DB, id uuid.UUID) (*models.Loan, error) {
	if db == nil {
		db = r.db
	}
	var loan models.Loan
	err := db.
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Preload("Book").
		First(&loan, "id = ?", id).Error
	if err != nil {
		return nil, err
	}
	return &loan, nil
}

func (r *loanRepository) HasActiveLoan(db *gorm.DB, userID, bookID uuid.UUID) (bool, error) {
	if db == nil {
		db = r.db
	}
	var count int64
	err := db.Model(&models.Loan{}).
		Where("user_id = ? AND book_id = ? AND status IN ?", userID, bookID,
			[]models.LoanStatus{models.LoanStatusActive, models.LoanStatusOverdue}).
		Count(&count).Error
	return count > 0, err
}

func (r *loanRepository) CountActiveByUser(db *gorm.DB, userID uuid.UUID) (int64, error) {
	if db == nil {
		db = r.db
	}
	var count int64
	err := db.Model(&models.Loan{}).
		Where("user_id = ? AND status IN ?", userID,
			[]models.LoanStatus{models.LoanStatusActive, models.LoanStatusOverdue}).
		Count(&count).Error
	return count, err
}

func (r *loanRepository) CountByBook(db *gorm.DB, bookID uuid.UUID) (int64, error) {
	if db == nil {
		db = r.db
	}
	var count int64
	err := db.Model(&models.Loan{}).
		Where("book_id = ?", bookID).
		Count(&count).Error
	return count, err
}

func (r *loanRepository) UpdateStatus(db *gorm.DB, id uuid.UUID, status models.LoanStatus) error {
	if db == nil {
		db = r.db
	}
	return db.Model(&models.Loan{}).
		Where("id = ?", id).
		Update("status", status).
		Error
}

func (r *loanRepository) MarkReturned(db *gorm.DB, id uuid.UUID, returnedAt time.Time, notes *string) error {
	if db == nil {
		db = r.db
	}
	updates := map[string]interface{}{
		"status":      models.LoanStatusReturned,
		"returned_at": returnedAt,
	}
	if notes != nil {
		updates["notes"] = *notes
	}
	return db.Model(&models.Loan{}).
		Where("id = ? AND status <> ?", id, models.LoanStatusReturned).
		Updates(updates).Error
}

func (r *loanRepository) MarkRenewed(db *gorm.DB, id uuid.UUID, dueAt time.Time, renewedCount int) error {
	if db == nil {
		db = r.db
	}
	return db.Model(&models.Loan{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"due_at":        dueAt,
			"renewed_count": renewedCount,
		}).Error
}

func (r *loanRepository) PromoteOverdue(db *gorm.DB, userID *uuid.UUID, now time.Time) (int64, error) {
	if db == nil {
		db = r.db
	}
	q := db.Model(&models.Loan{}).
		Where("status = ? AND due_at < ?", models.LoanStatusActive, now)
	if userID != nil {
		q = q.Where("user_id = ?", *userID)
	}
	res := q.Update("status", models.LoanStatusOverdue)
	return res.RowsAffected, res.Error
}

func (r *loanRepository) ListByUser(db *gorm.DB, userID uuid.UUID, status *models.LoanStatus) ([]models.Loan, error) {
	if db == nil {
		db = r.db
	}
	q := db.Preload("Book").Where("user_id = ?", userID)
	if status != nil {
		q = q.Where("status = ?", *status)
	}
	var loans []models.Loan
	if err := q.Order("borrowed_at DESC").Find(&loans).Error; err != nil {
		return nil, err
	}
	return loans, nil
}

func (r *loanRepository) List(db *gorm.DB, status *models.LoanStatus) ([]models.Loan, error) {
	if db == nil {
		db = r.db
	}
	q := db.Preload("Book")
	if status != nil {
		q = q.Where("status = ?", *status)
	}
	var loans []models.Loan
	if err := q.Order("borrowed_at DESC").Find(&loans).Error; err != nil {
		return nil, err
	}
	return loans, nil
}

func (r *loanRepository) ListOverdue(db *gorm.DB) ([]models.Loan, error) {
	if db == nil {
		db = r.db
	}
	var loans []models.Loan
	err := db.Preload("Book").
		Where("status = ?", models.LoanStatusOverdue).
		Order("due_at ASC").
		Find(&loans).Error
	if err != nil {
		return nil, err
	}
	return loans, nil
}

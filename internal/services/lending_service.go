package services

import (
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"library/internal/models"
	"library/internal/repositories"
)

// ─── Lending Policy Constants ─────────────────────────────────────────────────

const (
	// LoanPeriodDays is the default loan term.
	LoanPeriodDays = 14

	// MaxActiveLoans is the number of ACTIVE/OVERDUE loans a borrower may
	// hold at once.
	MaxActiveLoans = 5

	// DefaultMaxRenewals is the renewal cap applied to new loans.
	DefaultMaxRenewals = 2

	// MinRenewalDays and MaxRenewalDays bound the renewal term a caller
	// may request.
	MinRenewalDays = 1
	MaxRenewalDays = 30
)

// ─── Service Interface ────────────────────────────────────────────────────────

// LendingService owns Loan records and the borrow/return/renew state
// machine. Every operation that mutates a Loan and a Book together runs
// in a single transaction; a loan row is never created or returned
// without its paired copy-count adjustment.
type LendingService interface {
	Borrow(borrowerID, bookID uuid.UUID, notes string) (*models.Loan, error)
	Renew(actor models.Actor, loanID uuid.UUID, days int) (*models.Loan, error)
	Return(actor models.Actor, loanID uuid.UUID, notes *string) (*models.Loan, error)
	MarkLost(actor models.Actor, loanID uuid.UUID) (*models.Loan, error)

	GetLoan(actor models.Actor, loanID uuid.UUID) (*models.Loan, error)
	ListForBorrower(borrowerID uuid.UUID, status *models.LoanStatus) ([]models.Loan, error)
	ListAll(status *models.LoanStatus) ([]models.Loan, error)
	ListOverdue() ([]models.Loan, error)
}

// ─── Implementation ───────────────────────────────────────────────────────────

type lendingService struct {
	db       *gorm.DB
	catalog  CatalogService
	bookRepo repositories.BookRepository
	loanRepo repositories.LoanRepository
	userRepo repositories.UserRepository

	// now is the injectable clock; tests replace it to drive due-date and
	// overdue logic without real time passing.
	now func() time.Time
}

// NewLendingService wires up the lending dependencies.
func NewLendingService(db *gorm.DB, catalog CatalogService, bookRepo repositories.BookRepository, loanRepo repositories.LoanRepository, userRepo repositories.UserRepository) LendingService {
	return &lendingService{
		db:       db,
		catalog:  catalog,
		bookRepo: bookRepo,
		loanRepo: loanRepo,
		userRepo: userRepo,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// ─── Borrow ───────────────────────────────────────────────────────────────────

// Borrow implements the transactional borrow flow.
//
// All checks and both row mutations happen inside one transaction, with
// the book row locked first (SELECT ... FOR UPDATE) so concurrent borrows
// of the same book serialize:
//  1. Borrower must exist.
//  2. Book must exist and be available.
//  3. No existing ACTIVE/OVERDUE loan for (borrower, book).
//  4. Borrower must hold fewer than MaxActiveLoans active loans.
//  5. Conditional copy decrement — re-checks availability at write time,
//     closing the race between step 2 and here.
//  6. Loan row created ACTIVE with due date now + LoanPeriodDays.
func (s *lendingService) Borrow(borrowerID, bookID uuid.UUID, notes string) (*models.Loan, error) {
	var loan *models.Loan

	err := s.db.Transaction(func(tx *gorm.DB) error {
		if _, err := s.userRepo.GetByID(tx, borrowerID); err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrUserNotFound
			}
			return err
		}

		// Lock the book row first so concurrent borrows of the same book
		// serialize on it.
		book, err := s.bookRepo.GetByIDForUpdate(tx, bookID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrBookNotFound
			}
			return err
		}

		if !book.IsAvailable() {
			return ErrNotAvailable
		}

		dup, err := s.loanRepo.HasActiveLoan(tx, borrowerID, bookID)
		if err != nil {
			return err
		}
		if dup {
			return ErrDuplicateLoan
		}

		active, err := s.loanRepo.CountActiveByUser(tx, borrowerID)
		if err != nil {
			return err
		}
		if active >= MaxActiveLoans {
			return ErrLoanLimit
		}

		ok, err := s.catalog.BorrowOneCopy(tx, bookID)
		if err != nil {
			return err
		}
		if !ok {
			// Availability changed between the read and the decrement.
			return ErrNotAvailable
		}

		now := s.now()
		loan = &models.Loan{
			UserID:      borrowerID,
			BookID:      bookID,
			Status:      models.LoanStatusActive,
			BorrowedAt:  now,
			DueAt:       now.AddDate(0, 0, LoanPeriodDays),
			Notes:       notes,
			MaxRenewals: DefaultMaxRenewals,
		}
		if err := s.loanRepo.Create(tx, loan); err != nil {
			log.Printf("[ERROR] Borrow: failed to create loan record for user %s / book %s: %v", borrowerID, bookID, err)
			return err
		}
		return nil
	})
	if err != nil {
		return nil, translateConflict(err)
	}
	log.Printf("[INFO] Borrow: loan %s created for user %s / book %s, due %s",
		loan.ID, borrowerID, bookID, loan.DueAt.Format("2006-01-02"))
	return loan, nil
}

// ─── Renew ────────────────────────────────────────────────────────────────────

// Renew extends the due date of an active loan by the requested number of
// days. The renewal preconditions are re-checked inside the transaction
// with the loan row locked, so a concurrent return or a just-passed due
// date cannot slip through.
func (s *lendingService) Renew(actor models.Actor, loanID uuid.UUID, days int) (*models.Loan, error) {
	if days < MinRenewalDays || days > MaxRenewalDays {
		return nil, newFieldError("days", fmt.Sprintf("must be between %d and %d", MinRenewalDays, MaxRenewalDays))
	}

	var loan *models.Loan
	err := s.db.Transaction(func(tx *gorm.DB) error {
		l, err := s.lockLoan(tx, loanID)
		if err != nil {
			return err
		}
		if err := s.authorize(actor, l); err != nil {
			return err
		}
		if err := s.promoteIfOverdue(tx, l); err != nil {
			return err
		}

		switch {
		case l.Status == models.LoanStatusOverdue:
			return &CannotRenewError{Reason: RenewReasonOverdue}
		case l.Status != models.LoanStatusActive:
			return &CannotRenewError{Reason: RenewReasonNotActive}
		case l.RenewedCount >= l.MaxRenewals:
			return &CannotRenewError{Reason: RenewReasonMaxRenewals}
		}

		due := s.now().AddDate(0, 0, days)
		if err := s.loanRepo.MarkRenewed(tx, l.ID, due, l.RenewedCount+1); err != nil {
			log.Printf("[ERROR] Renew: failed to renew loan %s: %v", loanID, err)
			return err
		}
		l.DueAt = due
		l.RenewedCount++
		loan = l
		return nil
	})
	if err != nil {
		return nil, translateConflict(err)
	}
	log.Printf("[INFO] Renew: loan %s renewed (%d/%d), new due date %s",
		loan.ID, loan.RenewedCount, loan.MaxRenewals, loan.DueAt.Format("2006-01-02"))
	return loan, nil
}

// ─── Return ───────────────────────────────────────────────────────────────────

// Return marks a loan as RETURNED and puts its copy back in one
// transaction. A RETURNED loan with no matching copy increment is a
// correctness violation, so a failed increment aborts the whole
// operation and the loan stays out.
func (s *lendingService) Return(actor models.Actor, loanID uuid.UUID, notes *string) (*models.Loan, error) {
	var loan *models.Loan

	err := s.db.Transaction(func(tx *gorm.DB) error {
		l, err := s.lockLoan(tx, loanID)
		if err != nil {
			return err
		}
		if err := s.authorize(actor, l); err != nil {
			return err
		}
		if err := s.promoteIfOverdue(tx, l); err != nil {
			return err
		}

		switch l.Status {
		case models.LoanStatusReturned:
			log.Printf("[WARN] Return: loan %s already returned at %v", loanID, l.ReturnedAt)
			return ErrAlreadyReturned
		case models.LoanStatusLost:
			return ErrLoanLost
		}

		now := s.now()
		if err := s.loanRepo.MarkReturned(tx, l.ID, now, notes); err != nil {
			log.Printf("[ERROR] Return: failed to mark loan %s returned: %v", loanID, err)
			return err
		}

		ok, err := s.catalog.ReturnOneCopy(tx, l.BookID)
		if err != nil {
			return err
		}
		if !ok {
			// available_copies was already at total_copies; the books and
			// loans tables disagree. Abort so nothing partial commits.
			return fmt.Errorf("copy accounting violated: book %s has no copy slot for returned loan %s", l.BookID, l.ID)
		}

		l.Status = models.LoanStatusReturned
		l.ReturnedAt = &now
		if notes != nil {
			l.Notes = *notes
		}
		loan = l
		return nil
	})
	if err != nil {
		return nil, translateConflict(err)
	}
	log.Printf("[INFO] Return: loan %s returned (book %s)", loan.ID, loan.BookID)
	return loan, nil
}

// ─── Lost ─────────────────────────────────────────────────────────────────────

// MarkLost writes a loan off as LOST (administrative, terminal). The
// borrowed copy is gone for good, so total_copies is decremented rather
// than the copy being released: the count of active loans stays equal to
// total_copies - available_copies.
func (s *lendingService) MarkLost(actor models.Actor, loanID uuid.UUID) (*models.Loan, error) {
	if !actor.IsAdmin() {
		return nil, ErrNotOwner
	}

	var loan *models.Loan
	err := s.db.Transaction(func(tx *gorm.DB) error {
		l, err := s.lockLoan(tx, loanID)
		if err != nil {
			return err
		}
		if err := s.promoteIfOverdue(tx, l); err != nil {
			return err
		}

		switch l.Status {
		case models.LoanStatusReturned:
			return ErrAlreadyReturned
		case models.LoanStatusLost:
			return ErrLoanLost
		}

		if err := s.loanRepo.UpdateStatus(tx, l.ID, models.LoanStatusLost); err != nil {
			return err
		}
		rows, err := s.bookRepo.DecrementTotal(tx, l.BookID)
		if err != nil {
			return err
		}
		if rows == 0 {
			return fmt.Errorf("copy accounting violated: book %s has no outstanding copy for lost loan %s", l.BookID, l.ID)
		}

		l.Status = models.LoanStatusLost
		loan = l
		return nil
	})
	if err != nil {
		return nil, translateConflict(err)
	}
	log.Printf("[INFO] MarkLost: loan %s written off (book %s)", loan.ID, loan.BookID)
	return loan, nil
}

// ─── Queries ──────────────────────────────────────────────────────────────────

// GetLoan loads a single loan, applying the lazy overdue promotion before
// it is returned.
func (s *lendingService) GetLoan(actor models.Actor, loanID uuid.UUID) (*models.Loan, error) {
	var loan *models.Loan
	err := s.db.Transaction(func(tx *gorm.DB) error {
		l, err := s.lockLoan(tx, loanID)
		if err != nil {
			return err
		}
		if err := s.authorize(actor, l); err != nil {
			return err
		}
		if err := s.promoteIfOverdue(tx, l); err != nil {
			return err
		}
		loan = l
		return nil
	})
	if err != nil {
		return nil, translateConflict(err)
	}
	return loan, nil
}

// ListForBorrower returns a borrower's loans, freshening any that went
// overdue since they were last touched.
func (s *lendingService) ListForBorrower(borrowerID uuid.UUID, status *models.LoanStatus) ([]models.Loan, error) {
	if _, err := s.loanRepo.PromoteOverdue(nil, &borrowerID, s.now()); err != nil {
		return nil, err
	}
	return s.loanRepo.ListByUser(nil, borrowerID, status)
}

// ListAll returns every loan in the system, optionally filtered by
// status. Admin surface.
func (s *lendingService) ListAll(status *models.LoanStatus) ([]models.Loan, error) {
	if _, err := s.loanRepo.PromoteOverdue(nil, nil, s.now()); err != nil {
		return nil, err
	}
	return s.loanRepo.List(nil, status)
}

// ListOverdue promotes every ACTIVE loan past its due date and returns
// the full overdue set, oldest due date first.
func (s *lendingService) ListOverdue() ([]models.Loan, error) {
	promoted, err := s.loanRepo.PromoteOverdue(nil, nil, s.now())
	if err != nil {
		return nil, err
	}
	if promoted > 0 {
		log.Printf("[INFO] ListOverdue: promoted %d loan(s) to OVERDUE", promoted)
	}
	return s.loanRepo.ListOverdue(nil)
}

// ─── Internal Helpers ─────────────────────────────────────────────────────────

// lockLoan loads a loan row under FOR UPDATE, mapping a missing row to
// ErrLoanNotFound.
func (s *lendingService) lockLoan(tx *gorm.DB, loanID uuid.UUID) (*models.Loan, error) {
	loan, err := s.loanRepo.GetByIDForUpdate(tx, loanID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrLoanNotFound
		}
		return nil, err
	}
	return loan, nil
}

// authorize enforces owner-or-admin on loan operations. The actor is
// always explicit; there is no ambient current user to fall back on.
func (s *lendingService) authorize(actor models.Actor, loan *models.Loan) error {
	if actor.IsAdmin() || actor.ID == loan.UserID {
		return nil
	}
	return ErrNotOwner
}

// promoteIfOverdue applies the lazy ACTIVE -> OVERDUE transition to a
// loaded loan before any other logic runs.
func (s *lendingService) promoteIfOverdue(tx *gorm.DB, loan *models.Loan) error {
	if loan.Status == models.LoanStatusActive && s.now().After(loan.DueAt) {
		if err := s.loanRepo.UpdateStatus(tx, loan.ID, models.LoanStatusOverdue); err != nil {
			return err
		}
		loan.Status = models.LoanStatusOverdue
	}
	return nil
}

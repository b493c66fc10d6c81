package services

import (
	"errors"
	"log"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"library/internal/models"
	"library/internal/repositories"
	"library/internal/validator"
)

// ─── Inputs ───────────────────────────────────────────────────────────────────

// CreateBookInput holds the fields an administrator supplies when adding
// a book to the catalog.
type CreateBookInput struct {
	Title           string `json:"title"`
	Author          string `json:"author"`
	ISBN            string `json:"isbn"`
	Publisher       string `json:"publisher"`
	Genre           string `json:"genre"`
	Description     string `json:"description"`
	TotalCopies     int    `json:"total_copies"`
	AvailableCopies *int   `json:"available_copies"` // defaults to TotalCopies
}

// UpdateBookInput holds the fields an administrator may change. Pointer
// fields distinguish "not provided" from "set to zero value".
type UpdateBookInput struct {
	Title       *string            `json:"title"`
	Author      *string            `json:"author"`
	ISBN        *string            `json:"isbn"`
	Publisher   *string            `json:"publisher"`
	Genre       *string            `json:"genre"`
	Description *string            `json:"description"`
	TotalCopies *int               `json:"total_copies"`
	Status      *models.BookStatus `json:"status"`
}

// BookQuery carries the optional listing filters.
type BookQuery struct {
	Search string
	Status *models.BookStatus
	Limit  int
	Offset int
}

// ─── Service Interface ────────────────────────────────────────────────────────

// CatalogService owns Book records and the copy-count invariant:
// 0 <= available_copies <= total_copies at all times.
type CatalogService interface {
	CreateBook(actor models.Actor, input CreateBookInput) (*models.Book, error)
	GetBook(id uuid.UUID) (*models.Book, error)
	ListBooks(q BookQuery) ([]models.Book, error)
	UpdateBook(actor models.Actor, id uuid.UUID, input UpdateBookInput) (*models.Book, error)
	DeleteBook(actor models.Actor, id uuid.UUID) error
	IsAvailable(id uuid.UUID) (bool, error)

	// BorrowOneCopy and ReturnOneCopy are the copy-accounting primitives
	// used by the lending flow. They must be called on the same
	// transaction as the paired loan mutation.
	BorrowOneCopy(tx *gorm.DB, id uuid.UUID) (bool, error)
	ReturnOneCopy(tx *gorm.DB, id uuid.UUID) (bool, error)
}

// ─── Implementation ───────────────────────────────────────────────────────────

type catalogService struct {
	db       *gorm.DB
	bookRepo repositories.BookRepository
	loanRepo repositories.LoanRepository
}

// NewCatalogService wires up the catalog dependencies.
func NewCatalogService(db *gorm.DB, bookRepo repositories.BookRepository, loanRepo repositories.LoanRepository) CatalogService {
	return &catalogService{
		db:       db,
		bookRepo: bookRepo,
		loanRepo: loanRepo,
	}
}

// CreateBook validates the input and inserts a new Book. available_copies
// starts at total_copies unless explicitly supplied.
func (s *catalogService) CreateBook(actor models.Actor, input CreateBookInput) (*models.Book, error) {
	v := validator.New()
	v.Check(input.Title != "", "title", "must be provided")
	v.Check(input.Author != "", "author", "must be provided")
	v.Check(validator.Matches(input.ISBN, validator.ISBNRX), "isbn", "must be exactly 13 digits")
	v.Check(input.TotalCopies >= 1, "total_copies", "must be at least 1")

	available := input.TotalCopies
	if input.AvailableCopies != nil {
		available = *input.AvailableCopies
		v.Check(available >= 0, "available_copies", "must not be negative")
		v.Check(available <= input.TotalCopies, "available_copies", "cannot exceed total copies")
	}
	if !v.Valid() {
		return nil, &ValidationError{Errors: v.Errors}
	}

	if _, err := s.bookRepo.GetByISBN(nil, input.ISBN); err == nil {
		return nil, newFieldError("isbn", "a book with this ISBN already exists")
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	book := &models.Book{
		Title:           input.Title,
		Author:          input.Author,
		ISBN:            input.ISBN,
		Publisher:       input.Publisher,
		Genre:           input.Genre,
		Description:     input.Description,
		Status:          models.BookStatusAvailable,
		TotalCopies:     input.TotalCopies,
		AvailableCopies: available,
	}
	if actor.ID != uuid.Nil {
		addedBy := actor.ID
		book.AddedByID = &addedBy
	}

	if err := s.bookRepo.Create(nil, book); err != nil {
		// The precheck above can race with a concurrent insert; the unique
		// index is the arbiter.
		if isUniqueViolation(err) {
			return nil, newFieldError("isbn", "a book with this ISBN already exists")
		}
		log.Printf("[ERROR] CreateBook: failed to create book record: %v", err)
		return nil, err
	}
	log.Printf("[INFO] CreateBook: created book %q (id=%s) with %d copies", book.Title, book.ID, book.TotalCopies)
	return book, nil
}

// GetBook returns a single book by id.
func (s *catalogService) GetBook(id uuid.UUID) (*models.Book, error) {
	book, err := s.bookRepo.GetByID(nil, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrBookNotFound
		}
		return nil, err
	}
	return book, nil
}

// ListBooks returns catalog entries matching the query filters.
func (s *catalogService) ListBooks(q BookQuery) ([]models.Book, error) {
	return s.bookRepo.List(nil, q.Search, q.Status, q.Limit, q.Offset)
}

// UpdateBook applies a partial administrative edit inside a transaction.
// Changing total_copies shifts available_copies by the same delta; the
// edit is refused if that would push the available count below zero,
// i.e. below the number of copies currently out on loan.
func (s *catalogService) UpdateBook(actor models.Actor, id uuid.UUID, input UpdateBookInput) (*models.Book, error) {
	var updated *models.Book

	err := s.db.Transaction(func(tx *gorm.DB) error {
		book, err := s.bookRepo.GetByIDForUpdate(tx, id)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrBookNotFound
			}
			return err
		}

		v := validator.New()
		if input.Title != nil {
			v.Check(*input.Title != "", "title", "must not be empty")
			book.Title = *input.Title
		}
		if input.Author != nil {
			v.Check(*input.Author != "", "author", "must not be empty")
			book.Author = *input.Author
		}
		if input.ISBN != nil && *input.ISBN != book.ISBN {
			v.Check(validator.Matches(*input.ISBN, validator.ISBNRX), "isbn", "must be exactly 13 digits")
			book.ISBN = *input.ISBN
		}
		if input.Publisher != nil {
			book.Publisher = *input.Publisher
		}
		if input.Genre != nil {
			book.Genre = *input.Genre
		}
		if input.Description != nil {
			book.Description = *input.Description
		}
		if input.TotalCopies != nil {
			delta := *input.TotalCopies - book.TotalCopies
			v.Check(*input.TotalCopies >= 1, "total_copies", "must be at least 1")
			v.Check(book.AvailableCopies+delta >= 0, "total_copies",
				"cannot be reduced below the number of copies currently on loan")
			if v.Valid() {
				book.TotalCopies = *input.TotalCopies
				book.AvailableCopies += delta
			}
		}
		if input.Status != nil {
			switch *input.Status {
			case models.BookStatusAvailable, models.BookStatusBorrowed,
				models.BookStatusMaintenance, models.BookStatusLost:
				book.Status = *input.Status
			default:
				v.AddError("status", "must be one of AVAILABLE, BORROWED, MAINTENANCE, LOST")
			}
		}
		if !v.Valid() {
			return &ValidationError{Errors: v.Errors}
		}

		// Keep the AVAILABLE/BORROWED pair coherent with the counters after
		// a copy-count change. MAINTENANCE and LOST are admin-set states and
		// are left alone.
		if input.TotalCopies != nil && input.Status == nil {
			switch {
			case book.Status == models.BookStatusBorrowed && book.AvailableCopies > 0:
				book.Status = models.BookStatusAvailable
			case book.Status == models.BookStatusAvailable && book.AvailableCopies == 0:
				book.Status = models.BookStatusBorrowed
			}
		}

		if err := s.bookRepo.Save(tx, book); err != nil {
			if isUniqueViolation(err) {
				return newFieldError("isbn", "a book with this ISBN already exists")
			}
			log.Printf("[ERROR] UpdateBook: failed to save book %s: %v", id, err)
			return err
		}
		updated = book
		return nil
	})
	if err != nil {
		return nil, translateConflict(err)
	}
	log.Printf("[INFO] UpdateBook: updated book %s", id)
	return updated, nil
}

// DeleteBook removes a book from the catalog. Deletion is refused while
// ANY loan row, including returned ones, still references the book: loan
// history is an audit record and is never cascaded away.
func (s *catalogService) DeleteBook(actor models.Actor, id uuid.UUID) error {
	err := s.db.Transaction(func(tx *gorm.DB) error {
		if _, err := s.bookRepo.GetByIDForUpdate(tx, id); err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrBookNotFound
			}
			return err
		}
		count, err := s.loanRepo.CountByBook(tx, id)
		if err != nil {
			return err
		}
		if count > 0 {
			log.Printf("[WARN] DeleteBook: refusing to delete book %s with %d loan record(s)", id, count)
			return ErrBookHasLoans
		}
		return s.bookRepo.Delete(tx, id)
	})
	if err != nil {
		return translateConflict(err)
	}
	log.Printf("[INFO] DeleteBook: deleted book %s", id)
	return nil
}

// IsAvailable reports whether the book can be borrowed: AVAILABLE status
// and at least one free copy. Both conditions are required.
func (s *catalogService) IsAvailable(id uuid.UUID) (bool, error) {
	book, err := s.bookRepo.GetByID(nil, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return false, ErrBookNotFound
		}
		return false, err
	}
	return book.IsAvailable(), nil
}

// BorrowOneCopy decrements available_copies by one. The repository guard
// makes the decrement conditional, so this reports false without mutating
// anything when no copy can be handed out.
func (s *catalogService) BorrowOneCopy(tx *gorm.DB, id uuid.UUID) (bool, error) {
	rows, err := s.bookRepo.DecrementAvailable(tx, id)
	if err != nil {
		return false, err
	}
	return rows > 0, nil
}

// ReturnOneCopy increments available_copies by one, capped at
// total_copies. Guarding against double-return is the caller's job; a
// false result here means the counter was already at its cap, which is a
// copy-accounting inconsistency the caller must treat as fatal.
func (s *catalogService) ReturnOneCopy(tx *gorm.DB, id uuid.UUID) (bool, error) {
	rows, err := s.bookRepo.IncrementAvailable(tx, id)
	if err != nil {
		return false, err
	}
	return rows > 0, nil
}

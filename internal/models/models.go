package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type UserRole string

const (
	UserRoleAdmin UserRole = "ADMIN"
	UserRoleUser  UserRole = "USER"
)

type BookStatus string

const (
	BookStatusAvailable   BookStatus = "AVAILABLE"
	BookStatusBorrowed    BookStatus = "BORROWED"
	BookStatusMaintenance BookStatus = "MAINTENANCE"
	BookStatusLost        BookStatus = "LOST"
)

type LoanStatus string

const (
	LoanStatusActive   LoanStatus = "ACTIVE"
	LoanStatusReturned LoanStatus = "RETURNED"
	LoanStatusOverdue  LoanStatus = "OVERDUE"
	LoanStatusLost     LoanStatus = "LOST"
)

// Actor identifies who is performing an operation. It is resolved once by
// the authentication middleware and passed explicitly into the service
// layer; business logic never reaches for an ambient "current user".
type Actor struct {
	ID   uuid.UUID
	Role UserRole
}

func (a Actor) IsAdmin() bool {
	return a.Role == UserRoleAdmin
}

type User struct {
	ID           uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	Username     string    `gorm:"size:150;uniqueIndex;not null" json:"username"`
	Email        string    `gorm:"size:255;uniqueIndex;not null" json:"email"`
	PasswordHash string    `gorm:"size:255;not null" json:"-"`
	Role         UserRole  `gorm:"size:10;not null" json:"role"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

func (u *User) BeforeCreate(tx *gorm.DB) error {
	if u.ID == uuid.Nil {
		u.ID = uuid.New()
	}
	return nil
}

type Book struct {
	ID              uuid.UUID  `gorm:"type:uuid;primaryKey" json:"id"`
	Title           string     `gorm:"size:255;not null" json:"title"`
	Author          string     `gorm:"size:255;not null" json:"author"`
	ISBN            string     `gorm:"column:isbn;size:13;uniqueIndex;not null" json:"isbn"`
	Publisher       string     `gorm:"size:255" json:"publisher,omitempty"`
	Genre           string     `gorm:"size:100" json:"genre,omitempty"`
	Description     string     `json:"description,omitempty"`
	Status          BookStatus `gorm:"size:20;not null;index" json:"status"`
	TotalCopies     int        `gorm:"not null" json:"total_copies"`
	AvailableCopies int        `gorm:"not null" json:"available_copies"`
	AddedByID       *uuid.UUID `gorm:"type:uuid" json:"added_by,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

func (b *Book) BeforeCreate(tx *gorm.DB) error {
	if b.ID == uuid.Nil {
		b.ID = uuid.New()
	}
	return nil
}

// IsAvailable reports whether the book can be borrowed right now. Both
// conditions are required: a MAINTENANCE or LOST book must not be
// borrowable even if its copy counter is stale and nonzero.
func (b *Book) IsAvailable() bool {
	return b.Status == BookStatusAvailable && b.AvailableCopies > 0
}

// BorrowedCopies is the number of copies currently out on loan.
func (b *Book) BorrowedCopies() int {
	return b.TotalCopies - b.AvailableCopies
}

type Loan struct {
	ID           uuid.UUID  `gorm:"type:uuid;primaryKey" json:"id"`
	UserID       uuid.UUID  `gorm:"type:uuid;not null;index:idx_loans_user_status" json:"user_id"`
	User         User       `gorm:"constraint:OnUpdate:CASCADE,OnDelete:RESTRICT;" json:"-"`
	BookID       uuid.UUID  `gorm:"type:uuid;not null;index:idx_loans_book_status" json:"book_id"`
	Book         Book       `gorm:"constraint:OnUpdate:CASCADE,OnDelete:RESTRICT;" json:"-"`
	Status       LoanStatus `gorm:"size:20;not null;index:idx_loans_user_status;index:idx_loans_book_status" json:"status"`
	BorrowedAt   time.Time  `gorm:"not null" json:"borrowed_at"`
	DueAt        time.Time  `gorm:"not null;index" json:"due_at"`
	ReturnedAt   *time.Time `json:"returned_at"`
	Notes        string     `json:"notes,omitempty"`
	RenewedCount int        `gorm:"not null;default:0" json:"renewed_count"`
	MaxRenewals  int        `gorm:"not null;default:2" json:"max_renewals"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

func (l *Loan) BeforeCreate(tx *gorm.DB) error {
	if l.ID == uuid.Nil {
		l.ID = uuid.New()
	}
	return nil
}

// IsActive reports whether the loan still holds a copy (not yet returned
// and not written off as lost).
func (l *Loan) IsActive() bool {
	return l.Status == LoanStatusActive || l.Status == LoanStatusOverdue
}

// IsOverdue is the lazy projection of overdue-ness: a function of
// (status, due_at, now), never a cached flag alone.
func (l *Loan) IsOverdue(now time.Time) bool {
	return l.IsActive() && now.After(l.DueAt)
}

// CanRenew reports whether a renewal would be accepted at the given
// instant. All three conditions are required.
func (l *Loan) CanRenew(now time.Time) bool {
	return l.Status == LoanStatusActive &&
		l.RenewedCount < l.MaxRenewals &&
		!now.After(l.DueAt)
}

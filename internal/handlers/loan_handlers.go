package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"library/internal/middleware"
	"library/internal/models"
)

type borrowRequest struct {
	BookID string `json:"book_id" binding:"required,uuid"`
	Notes  string `json:"notes"`
}

func (h *Handler) borrow(c *gin.Context) {
	var req borrowRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	bookID, err := uuid.Parse(req.BookID)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid book id"})
		return
	}
	actor, _ := middleware.ActorFrom(c)

	loan, err := h.lending.Borrow(actor.ID, bookID, req.Notes)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, loan)
}

type returnRequest struct {
	Notes *string `json:"notes"`
}

func (h *Handler) returnLoan(c *gin.Context) {
	loanID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid loan id"})
		return
	}
	var req returnRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}
	actor, _ := middleware.ActorFrom(c)

	loan, err := h.lending.Return(actor, loanID, req.Notes)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "book returned successfully", "loan": loan})
}

type renewRequest struct {
	Days int `json:"days"`
}

func (h *Handler) renewLoan(c *gin.Context) {
	loanID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid loan id"})
		return
	}
	req := renewRequest{Days: 14}
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}
	actor, _ := middleware.ActorFrom(c)

	loan, err := h.lending.Renew(actor, loanID, req.Days)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "loan renewed successfully", "loan": loan})
}

func (h *Handler) markLoanLost(c *gin.Context) {
	loanID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid loan id"})
		return
	}
	actor, _ := middleware.ActorFrom(c)

	loan, err := h.lending.MarkLost(actor, loanID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "loan written off as lost", "loan": loan})
}

func (h *Handler) getLoan(c *gin.Context) {
	loanID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid loan id"})
		return
	}
	actor, _ := middleware.ActorFrom(c)

	loan, err := h.lending.GetLoan(actor, loanID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, loan)
}

// listLoans returns every loan for admins and the caller's own loans for
// everyone else, mirroring the visibility rule of the loan detail route.
func (h *Handler) listLoans(c *gin.Context) {
	actor, _ := middleware.ActorFrom(c)
	status := loanStatusFilter(c)

	var (
		loans []models.Loan
		err   error
	)
	if actor.IsAdmin() {
		loans, err = h.lending.ListAll(status)
	} else {
		loans, err = h.lending.ListForBorrower(actor.ID, status)
	}
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, loans)
}

func (h *Handler) myLoans(c *gin.Context) {
	actor, _ := middleware.ActorFrom(c)

	loans, err := h.lending.ListForBorrower(actor.ID, loanStatusFilter(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, loans)
}

func (h *Handler) overdueLoans(c *gin.Context) {
	loans, err := h.lending.ListOverdue()
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, loans)
}

func loanStatusFilter(c *gin.Context) *models.LoanStatus {
	if s := c.Query("status"); s != "" {
		status := models.LoanStatus(s)
		return &status
	}
	return nil
}

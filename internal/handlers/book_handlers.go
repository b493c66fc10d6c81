package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"library/internal/middleware"
	"library/internal/models"
	"library/internal/services"
)

func (h *Handler) createBook(c *gin.Context) {
	var input services.CreateBookInput
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	actor, _ := middleware.ActorFrom(c)

	book, err := h.catalog.CreateBook(actor, input)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, book)
}

func (h *Handler) getBook(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid book id"})
		return
	}
	book, err := h.catalog.GetBook(id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, book)
}

func (h *Handler) listBooks(c *gin.Context) {
	q := services.BookQuery{Search: c.Query("search")}
	if s := c.Query("status"); s != "" {
		status := models.BookStatus(s)
		q.Status = &status
	}
	if l := c.Query("limit"); l != "" {
		if n, err := strconv.Atoi(l); err == nil {
			q.Limit = n
		}
	}
	if o := c.Query("offset"); o != "" {
		if n, err := strconv.Atoi(o); err == nil {
			q.Offset = n
		}
	}

	books, err := h.catalog.ListBooks(q)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, books)
}

func (h *Handler) updateBook(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid book id"})
		return
	}
	var input services.UpdateBookInput
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	actor, _ := middleware.ActorFrom(c)

	book, err := h.catalog.UpdateBook(actor, id, input)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, book)
}

func (h *Handler) deleteBook(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid book id"})
		return
	}
	actor, _ := middleware.ActorFrom(c)

	if err := h.catalog.DeleteBook(actor, id); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) bookAvailability(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid book id"})
		return
	}
	available, err := h.catalog.IsAvailable(id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"book_id": id, "is_available": available})
}

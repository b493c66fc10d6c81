package main

import (
	"log"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"golang.org/x/time/rate"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"library/internal/handlers"
	"library/internal/middleware"
	"library/internal/models"
	"library/internal/repositories"
	"library/internal/services"
)

func main() {
	// Load a local .env when present; real deployments set the
	// environment directly.
	_ = godotenv.Load()

	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		log.Fatal("DATABASE_URL environment variable is required")
	}
	jwtSecret := os.Getenv("JWT_SECRET")
	if jwtSecret == "" {
		log.Fatal("JWT_SECRET environment variable is required")
	}

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		log.Fatalf("failed to connect database: %v", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		log.Fatalf("failed to get generic DB: %v", err)
	}
	sqlDB.SetMaxOpenConns(20)
	sqlDB.SetMaxIdleConns(10)
	sqlDB.SetConnMaxLifetime(time.Hour)

	if err := db.AutoMigrate(&models.User{}, &models.Book{}, &models.Loan{}); err != nil {
		log.Fatalf("failed to migrate schema: %v", err)
	}

	userRepo := repositories.NewUserRepository(db)
	bookRepo := repositories.NewBookRepository(db)
	loanRepo := repositories.NewLoanRepository(db)

	catalogService := services.NewCatalogService(db, bookRepo, loanRepo)
	lendingService := services.NewLendingService(db, catalogService, bookRepo, loanRepo, userRepo)
	authService := services.NewAuthService(db, userRepo, []byte(jwtSecret))

	router := gin.Default()

	var origins []string
	if v := os.Getenv("CORS_ORIGINS"); v != "" {
		origins = strings.Split(v, ",")
	}
	router.Use(middleware.SetupCORS(origins))
	router.Use(middleware.RateLimit(rate.Limit(10), 20))

	handlers.RegisterRoutes(router, catalogService, lendingService, authService, []byte(jwtSecret))

	serverAddr := os.Getenv("SERVER_ADDR")
	if serverAddr == "" {
		serverAddr = ":8080"
	}

	srv := &http.Server{
		Addr:         serverAddr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}

	log.Printf("Starting server on %s", serverAddr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("server error: %v", err)
	}
}

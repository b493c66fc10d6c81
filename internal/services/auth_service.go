package services

import (
	"errors"
	"log"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"

	"library/internal/models"
	"library/internal/repositories"
	"library/internal/validator"
)

// TokenTTL is how long an issued access token stays valid.
const TokenTTL = 24 * time.Hour

// RegisterInput holds the fields a new user supplies at sign-up.
type RegisterInput struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

// AuthService owns user accounts and credential checks. New accounts are
// always plain users; administrator accounts are provisioned out of band.
type AuthService interface {
	Register(input RegisterInput) (*models.User, error)
	Login(username, password string) (string, *models.User, error)
	GetUser(id uuid.UUID) (*models.User, error)
}

type authService struct {
	db        *gorm.DB
	userRepo  repositories.UserRepository
	jwtSecret []byte
	now       func() time.Time
}

// NewAuthService wires up the account dependencies.
func NewAuthService(db *gorm.DB, userRepo repositories.UserRepository, jwtSecret []byte) AuthService {
	return &authService{
		db:        db,
		userRepo:  userRepo,
		jwtSecret: jwtSecret,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Register validates the input, hashes the password with bcrypt and
// creates the account with the USER role.
func (s *authService) Register(input RegisterInput) (*models.User, error) {
	v := newRegisterValidator(input)
	if !v.Valid() {
		return nil, &ValidationError{Errors: v.Errors}
	}

	if _, err := s.userRepo.GetByUsername(nil, input.Username); err == nil {
		return nil, newFieldError("username", "is already taken")
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}
	if _, err := s.userRepo.GetByEmail(nil, input.Email); err == nil {
		return nil, newFieldError("email", "is already registered")
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	hashed, err := bcrypt.GenerateFromPassword([]byte(input.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, err
	}

	user := &models.User{
		Username:     input.Username,
		Email:        input.Email,
		PasswordHash: string(hashed),
		Role:         models.UserRoleUser,
	}
	if err := s.userRepo.Create(nil, user); err != nil {
		// The prechecks above can race with a concurrent registration.
		if isUniqueViolation(err) {
			return nil, newFieldError("username", "is already taken")
		}
		log.Printf("[ERROR] Register: failed to create user %q: %v", input.Username, err)
		return nil, err
	}
	log.Printf("[INFO] Register: created user %q (id=%s)", user.Username, user.ID)
	return user, nil
}

// Login checks the credentials and returns a signed token carrying the
// user's id and role. The role claim is what the middleware later turns
// into an Actor, so authorization is resolved once per request.
func (s *authService) Login(username, password string) (string, *models.User, error) {
	user, err := s.userRepo.GetByUsername(nil, username)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", nil, ErrInvalidCredentials
		}
		return "", nil, err
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return "", nil, ErrInvalidCredentials
	}

	now := s.now()
	claims := jwt.MapClaims{
		"sub":  user.ID.String(),
		"role": string(user.Role),
		"iat":  now.Unix(),
		"exp":  now.Add(TokenTTL).Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.jwtSecret)
	if err != nil {
		return "", nil, err
	}
	log.Printf("[INFO] Login: issued token for user %q (role=%s)", user.Username, user.Role)
	return signed, user, nil
}

func newRegisterValidator(input RegisterInput) *validator.Validator {
	v := validator.New()
	v.Check(len(input.Username) >= 3, "username", "must be at least 3 characters")
	v.Check(len(input.Username) <= 150, "username", "must be at most 150 characters")
	v.Check(validator.Matches(input.Email, validator.EmailRX), "email", "must be a valid email address")
	v.Check(len(input.Password) >= 8, "password", "must be at least 8 characters")
	return v
}

// GetUser returns a single account by id.
func (s *authService) GetUser(id uuid.UUID) (*models.User, error) {
	user, err := s.userRepo.GetByID(nil, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	return user, nil
}

package controller

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"

	"nourish_backend/internal/model"
	"nourish_backend/internal/repository"
	"nourish_backend/pkg/apperr"
	"nourish_backend/pkg/utils/jwt"
)

type RegisterInput struct {
	Email       string `json:"email"`
	Password    string `json:"password"`
	DisplayName string `json:"display_name"`
}

type LoginInput struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

var errInvalidCredentials = fmt.Errorf("invalid credentials: %w", apperr.ErrNotAuthenticated)

// WelcomeMailer is optional; registration never fails because of it.
type WelcomeMailer interface {
	SendWelcomeEmail(ctx context.Context, to, name string) error
}

// AuthController is the identity stand-in: it owns the users table that
// lets billing events create subscription records for known users.
type AuthController struct {
	users  *repository.UserRepository
	subs   *repository.SubscriptionRepository
	tokens *jwt.Manager
	mailer WelcomeMailer
	log    zerolog.Logger
}

func NewAuthController(users *repository.UserRepository, subs *repository.SubscriptionRepository, tokens *jwt.Manager, mailer WelcomeMailer, log zerolog.Logger) *AuthController {
	return &AuthController{users: users, subs: subs, tokens: tokens, mailer: mailer, log: log}
}

// Register creates the identity and its default FREE subscription record.
func (a *AuthController) Register(c *fiber.Ctx) error {
	input := new(RegisterInput)
	if err := c.BodyParser(input); err != nil {
		return invalidInput("invalid request body")
	}
	input.Email = strings.ToLower(strings.TrimSpace(input.Email))
	if _, err := mail.ParseAddress(input.Email); err != nil {
		return invalidInput("a valid email is required")
	}
	if len(input.Password) < 8 {
		return invalidInput("password must be at least 8 characters")
	}

	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(input.Password), bcrypt.DefaultCost)
	if err != nil {
		return err
	}

	user := &model.User{
		ID:           uuid.NewString(),
		Email:        input.Email,
		PasswordHash: string(hashedPassword),
		DisplayName:  strings.TrimSpace(input.DisplayName),
	}
	ctx := c.UserContext()
	if err := a.users.Create(ctx, user); err != nil {
		if errors.Is(err, repository.ErrEmailTaken) {
			return invalidInput("email already registered")
		}
		return err
	}
	if err := a.subs.EnsureExists(ctx, user.ID, time.Now()); err != nil {
		return err
	}

	token, err := a.tokens.GenerateToken(user.ID, user.Email)
	if err != nil {
		return err
	}

	if a.mailer != nil {
		if err := a.mailer.SendWelcomeEmail(ctx, user.Email, user.DisplayName); err != nil {
			a.log.Warn().Err(err).Str("user_id", user.ID).Msg("could not send welcome email")
		}
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"message": "Registration successful",
		"token":   token,
		"user":    user.PublicProfile(),
	})
}

func (a *AuthController) Login(c *fiber.Ctx) error {
	input := new(LoginInput)
	if err := c.BodyParser(input); err != nil {
		return invalidInput("invalid request body")
	}

	user, err := a.users.FindByEmail(c.UserContext(), strings.ToLower(strings.TrimSpace(input.Email)))
	if errors.Is(err, apperr.ErrRecordNotFound) {
		return errInvalidCredentials
	}
	if err != nil {
		return err
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(input.Password)); err != nil {
		return errInvalidCredentials
	}

	token, err := a.tokens.GenerateToken(user.ID, user.Email)
	if err != nil {
		return err
	}

	return c.JSON(fiber.Map{
		"token": token,
		"user":  user.PublicProfile(),
	})
}

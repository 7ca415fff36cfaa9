package repository

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"nourish_backend/internal/model"
	"nourish_backend/pkg/apperr"
)

var ErrEmailTaken = errors.New("email already registered")

type UserRepository struct {
	db *gorm.DB
}

func NewUserRepository(db *gorm.DB) *UserRepository {
	return &UserRepository{db: db}
}

func (r *UserRepository) Create(ctx context.Context, u *model.User) error {
	var count int64
	if err := r.db.WithContext(ctx).Model(&model.User{}).Where("email = ?", u.Email).Count(&count).Error; err != nil {
		return fmt.Errorf("check email: %w", err)
	}
	if count > 0 {
		return ErrEmailTaken
	}
	if err := r.db.WithContext(ctx).Create(u).Error; err != nil {
		return fmt.Errorf("create user: %w", err)
	}
	return nil
}

func (r *UserRepository) FindByEmail(ctx context.Context, email string) (*model.User, error) {
	return r.findBy(ctx, "email = ?", email)
}

func (r *UserRepository) FindByID(ctx context.Context, id string) (*model.User, error) {
	return r.findBy(ctx, "id = ?", id)
}

func (r *UserRepository) findBy(ctx context.Context, query, arg string) (*model.User, error) {
	var u model.User
	err := r.db.WithContext(ctx).Where(query, arg).Take(&u).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("user %s: %w", arg, apperr.ErrRecordNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("load user %s: %w", arg, err)
	}
	return &u, nil
}

// Exists reports whether the identity provider has seen id.
func (r *UserRepository) Exists(ctx context.Context, id string) (bool, error) {
	var count int64
	if err := r.db.WithContext(ctx).Model(&model.User{}).Where("id = ?", id).Count(&count).Error; err != nil {
		return false, fmt.Errorf("check user %s: %w", id, err)
	}
	return count > 0, nil
}

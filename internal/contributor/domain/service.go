package domain

import (
	"context"
	"errors"
)

type RegisterContributorRequest struct {
	Name  string
	Email string
}

type Service interface {
	Register(ctx context.Context, req RegisterContributorRequest) (Contributor, error)
	GetByID(ctx context.Context, id string) (Contributor, error)
	GetByEmail(ctx context.Context, email string) (Contributor, error)
}

var (
	ErrInvalidID    = errors.New("invalid_id")
	ErrInvalidName  = errors.New("invalid_name")
	ErrInvalidEmail = errors.New("invalid_email")
	ErrEmailTaken   = errors.New("email_taken")
	ErrNotFound     = errors.New("not_found")
)

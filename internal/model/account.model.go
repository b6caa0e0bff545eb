package model

import (
	"errors"
	"strings"
	"time"
)

type Account struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	Role      Role      `json:"role"`
	Balance   int64     `json:"balance"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}

// AccountCreateRequest is the input for registering an account.
type AccountCreateRequest struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Role  Role   `json:"role"`
}

func (p *AccountCreateRequest) Normalize() {
	p.ID = strings.TrimSpace(p.ID)
	p.Email = strings.ToLower(strings.TrimSpace(p.Email))
	if p.Role == "" {
		p.Role = RoleCustomer
	}
}

func (p AccountCreateRequest) Validate() error {
	if p.ID == "" {
		return errors.New("id is required")
	}
	if len(p.ID) > 64 {
		return errors.New("id must be at most 64 characters")
	}
	if p.Email != "" && !strings.Contains(p.Email, "@") {
		return errors.New("email is invalid")
	}
	if !p.Role.Valid() {
		return errors.New("role is invalid")
	}
	return nil
}

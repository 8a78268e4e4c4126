package identity

import (
	"context"
	"fmt"
	"strings"
)

// Service handles registry business logic.
type Service struct {
	repo   Repository
	tokens *TokenIssuer
}

// RegisterResult bundles the stored participant and the bearer token the
// presentation layer uses on subsequent calls.
type RegisterResult struct {
	Participant Participant
	Token       string
}

// NewService creates a new registry service.
func NewService(repo Repository, tokens *TokenIssuer) *Service {
	return &Service{
		repo:   repo,
		tokens: tokens,
	}
}

// Register assigns a role to an address. The role is immutable afterwards;
// a second call for the same address fails with ErrAlreadyRegistered.
func (s *Service) Register(ctx context.Context, req RegisterRequest) (RegisterResult, error) {
	address := strings.TrimSpace(req.Address)
	if address == "" {
		return RegisterResult{}, fmt.Errorf("identity: address is required")
	}

	role := Role(strings.TrimSpace(string(req.Role)))
	switch role {
	case RoleClient, RoleProvider:
	default:
		return RegisterResult{}, fmt.Errorf("identity: invalid role %q", req.Role)
	}

	p, err := s.repo.Create(ctx, address, role)
	if err != nil {
		return RegisterResult{}, err
	}

	token, err := s.tokens.Issue(p.Address, p.Role)
	if err != nil {
		return RegisterResult{}, fmt.Errorf("identity: issue token: %w", err)
	}

	return RegisterResult{Participant: p, Token: token}, nil
}

// RoleOf looks up the role of an address, returning RoleNone for unknown
// addresses.
func (s *Service) RoleOf(ctx context.Context, address string) (Role, error) {
	return s.repo.RoleOf(ctx, address)
}

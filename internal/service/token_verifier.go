package service

import (
	"context"
	"fmt"

	"sportbook-be/internal/entity"
	"sportbook-be/internal/pkg/serverutils"
	"sportbook-be/internal/repository/specification"
	"sportbook-be/internal/repository/unitofwork"

	"github.com/google/uuid"
)

type Identity struct {
	ParticipantID uuid.UUID
	DisplayName   string
}

type TokenVerifier interface {
	Verify(ctx context.Context, credential string) (Identity, error)
}

// JWTTokenVerifier checks the same HMAC tokens the REST API accepts and
// resolves the display name from the users table.
type JWTTokenVerifier struct {
	secret     string
	uowFactory unitofwork.RepositoryFactory
}

func NewJWTTokenVerifier(secret string, uowFactory unitofwork.RepositoryFactory) *JWTTokenVerifier {
	return &JWTTokenVerifier{secret: secret, uowFactory: uowFactory}
}

func (v *JWTTokenVerifier) Verify(ctx context.Context, credential string) (Identity, error) {
	userIDStr, err := serverutils.ParseToken(v.secret, credential)
	if err != nil {
		return Identity{}, fmt.Errorf("%w: %v", ErrUnauthenticated, err)
	}
	userID, err := uuid.Parse(userIDStr)
	if err != nil {
		return Identity{}, fmt.Errorf("%w: malformed user id", ErrUnauthenticated)
	}

	user, err := v.uowFactory.NewUnitOfWork(ctx).UserRepository().FindOne(ctx, specification.ByID{ID: userID})
	if err != nil {
		return Identity{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if user == nil || user.Status == entity.UserStatusBlocked {
		return Identity{}, fmt.Errorf("%w: unknown or blocked user", ErrUnauthenticated)
	}
	return Identity{ParticipantID: user.Id, DisplayName: user.FullName}, nil
}

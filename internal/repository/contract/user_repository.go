package contract

import (
	"context"

	"sportbook-be/internal/entity"
	"sportbook-be/internal/repository/specification"
)

type UserRepository interface {
	FindOne(ctx context.Context, specs ...specification.Specification) (*entity.User, error)
}

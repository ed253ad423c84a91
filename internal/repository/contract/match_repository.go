package contract

import (
	"context"

	"sportbook-be/internal/entity"
	"sportbook-be/internal/repository/specification"
)

// MatchRepository is read-mostly here; match CRUD lives in the booking service.
type MatchRepository interface {
	FindOne(ctx context.Context, specs ...specification.Specification) (*entity.Match, error)
	FindJoinRequest(ctx context.Context, specs ...specification.Specification) (*entity.MatchJoinRequest, error)
	CountJoinRequests(ctx context.Context, specs ...specification.Specification) (int64, error)
}

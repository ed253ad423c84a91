package service

import (
	"context"
	"fmt"

	"sportbook-be/internal/entity"
	"sportbook-be/internal/pkg/logger"
	"sportbook-be/internal/repository/specification"
	"sportbook-be/internal/repository/unitofwork"

	"github.com/google/uuid"
)

// AuthorizationOracle answers room membership and readiness questions.
// Answers are never cached; membership can change between two joins.
type AuthorizationOracle interface {
	IsMember(ctx context.Context, roomID, participantID uuid.UUID) (bool, error)
	IsReadyForChat(ctx context.Context, roomID uuid.UUID) (bool, error)
}

// MatchAccessService treats a match as the room: its creator and every user
// with an accepted join request are members.
type MatchAccessService struct {
	uowFactory      unitofwork.RepositoryFactory
	minParticipants int
	logger          logger.ILogger
}

// NewMatchAccessService takes the fleet-wide default threshold used when a
// match does not set its own minimum.
func NewMatchAccessService(uowFactory unitofwork.RepositoryFactory, minParticipants int, log logger.ILogger) *MatchAccessService {
	if minParticipants < 1 {
		minParticipants = 1
	}
	return &MatchAccessService{uowFactory: uowFactory, minParticipants: minParticipants, logger: log}
}

func (s *MatchAccessService) IsMember(ctx context.Context, roomID, participantID uuid.UUID) (bool, error) {
	uow := s.uowFactory.NewUnitOfWork(ctx)

	match, err := uow.MatchRepository().FindOne(ctx, specification.ByID{ID: roomID})
	if err != nil {
		return false, fmt.Errorf("find match: %w", err)
	}
	if match == nil {
		return false, nil
	}
	if match.CreatorId == participantID {
		return true, nil
	}

	req, err := uow.MatchRepository().FindJoinRequest(ctx,
		specification.ByMatchID{MatchID: roomID},
		specification.ByUserID{UserID: participantID},
		specification.ByStatus{Status: string(entity.JoinRequestAccepted)},
	)
	if err != nil {
		return false, fmt.Errorf("find join request: %w", err)
	}
	return req != nil, nil
}

func (s *MatchAccessService) IsReadyForChat(ctx context.Context, roomID uuid.UUID) (bool, error) {
	uow := s.uowFactory.NewUnitOfWork(ctx)

	match, err := uow.MatchRepository().FindOne(ctx, specification.ByID{ID: roomID})
	if err != nil {
		return false, fmt.Errorf("find match: %w", err)
	}
	if match == nil || match.Status == entity.MatchStatusCancelled {
		return false, nil
	}

	accepted, err := uow.MatchRepository().CountJoinRequests(ctx,
		specification.ByMatchID{MatchID: roomID},
		specification.ByStatus{Status: string(entity.JoinRequestAccepted)},
	)
	if err != nil {
		return false, fmt.Errorf("count participants: %w", err)
	}

	threshold := match.MinParticipants
	if threshold < 1 {
		threshold = s.minParticipants
	}
	participants := 1 + int(accepted) // the creator always takes part
	if participants < threshold {
		s.logger.Debug("MatchAccess", "Room below participant threshold", map[string]interface{}{
			"room_id":      roomID,
			"participants": participants,
			"threshold":    threshold,
		})
		return false, nil
	}
	return true, nil
}

package service

import (
	"context"
	"testing"

	"sportbook-be/internal/entity"
	"sportbook-be/internal/pkg/logger"
	"sportbook-be/internal/repository/contract"
	"sportbook-be/internal/repository/specification"
	"sportbook-be/internal/repository/unitofwork"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubMatchRepo struct {
	contract.MatchRepository
	matches  map[uuid.UUID]*entity.Match
	requests []*entity.MatchJoinRequest
}

func (r *stubMatchRepo) FindOne(_ context.Context, specs ...specification.Specification) (*entity.Match, error) {
	for _, s := range specs {
		if byID, ok := s.(specification.ByID); ok {
			return r.matches[byID.ID], nil
		}
	}
	return nil, nil
}

func (r *stubMatchRepo) filter(specs []specification.Specification) []*entity.MatchJoinRequest {
	var out []*entity.MatchJoinRequest
	for _, req := range r.requests {
		keep := true
		for _, s := range specs {
			switch v := s.(type) {
			case specification.ByMatchID:
				keep = keep && req.MatchId == v.MatchID
			case specification.ByUserID:
				keep = keep && req.UserId == v.UserID
			case specification.ByStatus:
				keep = keep && string(req.Status) == v.Status
			}
		}
		if keep {
			out = append(out, req)
		}
	}
	return out
}

func (r *stubMatchRepo) FindJoinRequest(_ context.Context, specs ...specification.Specification) (*entity.MatchJoinRequest, error) {
	if found := r.filter(specs); len(found) > 0 {
		return found[0], nil
	}
	return nil, nil
}

func (r *stubMatchRepo) CountJoinRequests(_ context.Context, specs ...specification.Specification) (int64, error) {
	return int64(len(r.filter(specs))), nil
}

type stubUnitOfWork struct {
	unitofwork.UnitOfWork
	matches *stubMatchRepo
}

func (u *stubUnitOfWork) MatchRepository() contract.MatchRepository { return u.matches }

type stubFactory struct{ uow *stubUnitOfWork }

func (f *stubFactory) NewUnitOfWork(context.Context) unitofwork.UnitOfWork { return f.uow }

func newAccessFixture(minParticipants int) (*MatchAccessService, *stubMatchRepo) {
	repo := &stubMatchRepo{matches: map[uuid.UUID]*entity.Match{}}
	factory := &stubFactory{uow: &stubUnitOfWork{matches: repo}}
	return NewMatchAccessService(factory, minParticipants, logger.NewNop()), repo
}

func TestMatchAccess_IsMember(t *testing.T) {
	svc, repo := newAccessFixture(1)
	ctx := context.Background()
	matchID, creator, accepted, pending := uuid.New(), uuid.New(), uuid.New(), uuid.New()

	repo.matches[matchID] = &entity.Match{Id: matchID, CreatorId: creator, Status: entity.MatchStatusOpen}
	repo.requests = []*entity.MatchJoinRequest{
		{MatchId: matchID, UserId: accepted, Status: entity.JoinRequestAccepted},
		{MatchId: matchID, UserId: pending, Status: entity.JoinRequestPending},
	}

	tests := []struct {
		name    string
		matchID uuid.UUID
		user    uuid.UUID
		want    bool
	}{
		{"creator", matchID, creator, true},
		{"accepted request", matchID, accepted, true},
		{"pending request", matchID, pending, false},
		{"stranger", matchID, uuid.New(), false},
		{"unknown match", uuid.New(), creator, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := svc.IsMember(ctx, tt.matchID, tt.user)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestMatchAccess_IsReadyForChat(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name       string
		defaultMin int
		matchMin   int
		accepted   int
		status     entity.MatchStatus
		want       bool
	}{
		{"creator alone meets default of one", 1, 0, 0, entity.MatchStatusOpen, true},
		{"match threshold not met", 1, 4, 2, entity.MatchStatusOpen, false},
		{"match threshold met", 1, 4, 3, entity.MatchStatusOpen, true},
		{"configured default applies", 3, 0, 1, entity.MatchStatusOpen, false},
		{"cancelled match never ready", 1, 0, 5, entity.MatchStatusCancelled, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, repo := newAccessFixture(tt.defaultMin)
			matchID := uuid.New()
			repo.matches[matchID] = &entity.Match{Id: matchID, CreatorId: uuid.New(), MinParticipants: tt.matchMin, Status: tt.status}
			for i := 0; i < tt.accepted; i++ {
				repo.requests = append(repo.requests, &entity.MatchJoinRequest{
					MatchId: matchID, UserId: uuid.New(), Status: entity.JoinRequestAccepted,
				})
			}

			got, err := svc.IsReadyForChat(ctx, matchID)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	svc, _ := newAccessFixture(1)
	ready, err := svc.IsReadyForChat(ctx, uuid.New())
	require.NoError(t, err)
	assert.False(t, ready)
}

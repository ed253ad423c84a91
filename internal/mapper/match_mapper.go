package mapper

import (
	"sportbook-be/internal/entity"
	"sportbook-be/internal/model"
)

type MatchMapper struct{}

func NewMatchMapper() *MatchMapper {
	return &MatchMapper{}
}

func (m *MatchMapper) MatchToEntity(mm *model.Match) *entity.Match {
	if mm == nil {
		return nil
	}
	return &entity.Match{
		Id:              mm.Id,
		CreatorId:       mm.CreatorId,
		Title:           mm.Title,
		SportType:       mm.SportType,
		VenueName:       mm.VenueName,
		ScheduledAt:     mm.ScheduledAt,
		MinParticipants: mm.MinParticipants,
		MaxParticipants: mm.MaxParticipants,
		Status:          entity.MatchStatus(mm.Status),
		CreatedAt:       mm.CreatedAt,
		UpdatedAt:       mm.UpdatedAt,
	}
}

func (m *MatchMapper) JoinRequestToEntity(r *model.MatchJoinRequest) *entity.MatchJoinRequest {
	if r == nil {
		return nil
	}
	return &entity.MatchJoinRequest{
		Id:        r.Id,
		MatchId:   r.MatchId,
		UserId:    r.UserId,
		Status:    entity.JoinRequestStatus(r.Status),
		CreatedAt: r.CreatedAt,
		UpdatedAt: r.UpdatedAt,
	}
}

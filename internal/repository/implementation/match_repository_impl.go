package implementation

import (
	"context"
	"errors"

	"sportbook-be/internal/entity"
	"sportbook-be/internal/mapper"
	"sportbook-be/internal/model"
	"sportbook-be/internal/repository/contract"
	"sportbook-be/internal/repository/specification"

	"gorm.io/gorm"
)

type MatchRepositoryImpl struct {
	db     *gorm.DB
	mapper *mapper.MatchMapper
}

func NewMatchRepository(db *gorm.DB) contract.MatchRepository {
	return &MatchRepositoryImpl{
		db:     db,
		mapper: mapper.NewMatchMapper(),
	}
}

func (r *MatchRepositoryImpl) FindOne(ctx context.Context, specs ...specification.Specification) (*entity.Match, error) {
	var m model.Match
	query := applySpecifications(r.db.WithContext(ctx), specs...)
	if err := query.First(&m).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return r.mapper.MatchToEntity(&m), nil
}

func (r *MatchRepositoryImpl) FindJoinRequest(ctx context.Context, specs ...specification.Specification) (*entity.MatchJoinRequest, error) {
	var m model.MatchJoinRequest
	query := applySpecifications(r.db.WithContext(ctx), specs...)
	if err := query.First(&m).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return r.mapper.JoinRequestToEntity(&m), nil
}

func (r *MatchRepositoryImpl) CountJoinRequests(ctx context.Context, specs ...specification.Specification) (int64, error) {
	var count int64
	query := applySpecifications(r.db.WithContext(ctx).Model(&model.MatchJoinRequest{}), specs...)
	if err := query.Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}

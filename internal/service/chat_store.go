package service

import (
	"context"
	"fmt"

	"sportbook-be/internal/entity"
	"sportbook-be/internal/repository/specification"
	"sportbook-be/internal/repository/unitofwork"

	"github.com/google/uuid"
)

// MessageStore is the durable log of chat messages and their receipts.
type MessageStore interface {
	Append(ctx context.Context, msg *entity.ChatMessage) (*entity.ChatMessage, error)
	// Recent returns up to limit messages of a room, oldest first.
	Recent(ctx context.Context, roomID uuid.UUID, limit int) ([]*entity.ChatMessage, error)
	// RecordDelivery stores one receipt; recorded is false when the same
	// receipt already existed.
	RecordDelivery(ctx context.Context, messageID string, participantID uuid.UUID, status entity.DeliveryStatus) (recorded bool, err error)
	Find(ctx context.Context, roomID uuid.UUID, messageID string) (*entity.ChatMessage, error)
}

type GormChatStore struct {
	uowFactory unitofwork.RepositoryFactory
}

func NewGormChatStore(uowFactory unitofwork.RepositoryFactory) *GormChatStore {
	return &GormChatStore{uowFactory: uowFactory}
}

func (s *GormChatStore) Append(ctx context.Context, msg *entity.ChatMessage) (*entity.ChatMessage, error) {
	uow := s.uowFactory.NewUnitOfWork(ctx)
	if err := uow.Begin(ctx); err != nil {
		return nil, err
	}
	defer uow.Rollback()

	stored := *msg
	if err := uow.ChatMessageRepository().Create(ctx, &stored); err != nil {
		return nil, fmt.Errorf("create chat message: %w", err)
	}
	if err := uow.Commit(); err != nil {
		return nil, fmt.Errorf("commit chat message: %w", err)
	}
	return &stored, nil
}

func (s *GormChatStore) Recent(ctx context.Context, roomID uuid.UUID, limit int) ([]*entity.ChatMessage, error) {
	uow := s.uowFactory.NewUnitOfWork(ctx)
	// Newest first so LIMIT keeps the tail, then flip back to creation order.
	msgs, err := uow.ChatMessageRepository().FindAll(ctx,
		specification.ByMatchID{MatchID: roomID},
		specification.WithReceipts{},
		specification.OrderBy{Field: "id", Desc: true},
		specification.Pagination{Limit: limit},
	)
	if err != nil {
		return nil, fmt.Errorf("load chat history: %w", err)
	}
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs, nil
}

func (s *GormChatStore) RecordDelivery(ctx context.Context, messageID string, participantID uuid.UUID, status entity.DeliveryStatus) (bool, error) {
	uow := s.uowFactory.NewUnitOfWork(ctx)
	created, err := uow.ChatMessageRepository().CreateReceipt(ctx, &entity.ChatMessageReceipt{
		MessageId:     messageID,
		ParticipantId: participantID,
		Status:        status,
	})
	if err != nil {
		return false, fmt.Errorf("record %s receipt: %w", status, err)
	}
	return created, nil
}

func (s *GormChatStore) Find(ctx context.Context, roomID uuid.UUID, messageID string) (*entity.ChatMessage, error) {
	uow := s.uowFactory.NewUnitOfWork(ctx)
	msg, err := uow.ChatMessageRepository().FindOne(ctx,
		specification.ByMessageID{ID: messageID},
		specification.ByMatchID{MatchID: roomID},
		specification.WithReceipts{},
	)
	if err != nil {
		return nil, fmt.Errorf("find chat message: %w", err)
	}
	return msg, nil
}

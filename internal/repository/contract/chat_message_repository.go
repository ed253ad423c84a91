package contract

import (
	"context"

	"sportbook-be/internal/entity"
	"sportbook-be/internal/repository/specification"
)

type ChatMessageRepository interface {
	Create(ctx context.Context, message *entity.ChatMessage) error
	FindOne(ctx context.Context, specs ...specification.Specification) (*entity.ChatMessage, error)
	FindAll(ctx context.Context, specs ...specification.Specification) ([]*entity.ChatMessage, error)

	// CreateReceipt inserts a receipt unless the same (message, participant,
	// status) already exists; created reports which happened.
	CreateReceipt(ctx context.Context, receipt *entity.ChatMessageReceipt) (created bool, err error)
}

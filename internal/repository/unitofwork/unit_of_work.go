package unitofwork

import (
	"context"

	"sportbook-be/internal/repository/contract"
)

type UnitOfWork interface {
	Begin(ctx context.Context) error
	Commit() error
	Rollback() error

	UserRepository() contract.UserRepository
	MatchRepository() contract.MatchRepository
	ChatMessageRepository() contract.ChatMessageRepository
}

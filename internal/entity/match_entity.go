package entity

import (
	"time"

	"github.com/google/uuid"
)

type MatchStatus string
type JoinRequestStatus string

const (
	MatchStatusOpen      MatchStatus = "open"
	MatchStatusFull      MatchStatus = "full"
	MatchStatusCancelled MatchStatus = "cancelled"
	MatchStatusCompleted MatchStatus = "completed"

	JoinRequestPending  JoinRequestStatus = "pending"
	JoinRequestAccepted JoinRequestStatus = "accepted"
	JoinRequestRejected JoinRequestStatus = "rejected"
)

type Match struct {
	Id              uuid.UUID
	CreatorId       uuid.UUID
	Title           string
	SportType       string
	VenueName       string
	ScheduledAt     time.Time
	MinParticipants int
	MaxParticipants int
	Status          MatchStatus
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

type MatchJoinRequest struct {
	Id        uuid.UUID
	MatchId   uuid.UUID
	UserId    uuid.UUID
	Status    JoinRequestStatus
	CreatedAt time.Time
	UpdatedAt time.Time
}

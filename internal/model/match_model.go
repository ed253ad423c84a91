package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type Match struct {
	Id              uuid.UUID      `gorm:"type:uuid;primaryKey;default:gen_random_uuid()"`
	CreatorId       uuid.UUID      `gorm:"type:uuid;not null;index"`
	Title           string         `gorm:"type:varchar(255);not null"`
	SportType       string         `gorm:"type:varchar(50);not null"`
	VenueName       string         `gorm:"type:varchar(255)"`
	ScheduledAt     time.Time      `gorm:"not null"`
	MinParticipants int            `gorm:"default:0"`
	MaxParticipants int            `gorm:"default:0"`
	Status          string         `gorm:"type:varchar(50);not null;default:'open'"`
	CreatedAt       time.Time      `gorm:"autoCreateTime"`
	UpdatedAt       time.Time      `gorm:"autoUpdateTime"`
	DeletedAt       gorm.DeletedAt `gorm:"index"`

	Creator *User `gorm:"foreignKey:CreatorId"`
}

func (Match) TableName() string {
	return "matches"
}

type MatchJoinRequest struct {
	Id        uuid.UUID `gorm:"type:uuid;primaryKey;default:gen_random_uuid()"`
	MatchId   uuid.UUID `gorm:"type:uuid;not null;uniqueIndex:idx_match_join_requests_match_user"`
	UserId    uuid.UUID `gorm:"type:uuid;not null;uniqueIndex:idx_match_join_requests_match_user;index"`
	Status    string    `gorm:"type:varchar(50);not null;default:'pending';index"`
	CreatedAt time.Time `gorm:"autoCreateTime"`
	UpdatedAt time.Time `gorm:"autoUpdateTime"`
}

func (MatchJoinRequest) TableName() string {
	return "match_join_requests"
}

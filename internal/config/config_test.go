package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("CHAT_MODE", "")
	t.Setenv("INSTANCE_ID", "node-a")

	cfg := Load()
	assert.Equal(t, ModeSingle, cfg.Chat.Mode)
	assert.False(t, cfg.Chat.Distributed())
	assert.Equal(t, 1, cfg.Chat.MinParticipants)
	assert.Equal(t, 24*time.Hour, cfg.Chat.SessionTTL)
	assert.Equal(t, 50, cfg.Chat.HistoryLimit)
	assert.Equal(t, "node-a", cfg.App.InstanceID)
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("CHAT_MODE", "Distributed")
	t.Setenv("CHAT_MIN_PARTICIPANTS", "4")
	t.Setenv("CHAT_TYPING_TTL", "3s")
	t.Setenv("CHAT_DELIVERY_DELAY", "not-a-duration")

	cfg := Load()
	assert.True(t, cfg.Chat.Distributed())
	assert.Equal(t, 4, cfg.Chat.MinParticipants)
	assert.Equal(t, 3*time.Second, cfg.Chat.TypingTTL)
	assert.Equal(t, 500*time.Millisecond, cfg.Chat.DeliveryDelay)
}

func TestGetEnvAsBool(t *testing.T) {
	t.Setenv("FLAG_ON", "true")
	t.Setenv("FLAG_BAD", "maybe")
	assert.True(t, getEnvAsBool("FLAG_ON", false))
	assert.True(t, getEnvAsBool("FLAG_BAD", true))
	assert.False(t, getEnvAsBool("FLAG_MISSING", false))
}

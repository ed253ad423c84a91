package mapper

import (
	"encoding/json"

	"sportbook-be/internal/entity"
	"sportbook-be/internal/model"

	"gorm.io/datatypes"
)

type ChatMapper struct{}

func NewChatMapper() *ChatMapper {
	return &ChatMapper{}
}

func (m *ChatMapper) ChatMessageToEntity(cm *model.ChatMessage) *entity.ChatMessage {
	if cm == nil {
		return nil
	}

	var metadata map[string]interface{}
	if len(cm.Metadata) > 0 {
		// Unreadable metadata is dropped rather than failing the read path.
		_ = json.Unmarshal(cm.Metadata, &metadata)
	}

	e := &entity.ChatMessage{
		Id:         cm.Id,
		MatchId:    cm.MatchId,
		SenderId:   cm.SenderId,
		SenderName: cm.SenderName,
		Body:       cm.Body,
		ReplyToId:  cm.ReplyToId,
		Type:       entity.MessageType(cm.Type),
		Metadata:   metadata,
		CreatedAt:  cm.CreatedAt,
	}

	receipts := make([]*entity.ChatMessageReceipt, len(cm.Receipts))
	for i := range cm.Receipts {
		receipts[i] = m.ReceiptToEntity(&cm.Receipts[i])
	}
	e.ApplyReceipts(receipts)
	return e
}

func (m *ChatMapper) ChatMessageToModel(e *entity.ChatMessage) *model.ChatMessage {
	if e == nil {
		return nil
	}

	var metadata datatypes.JSON
	if len(e.Metadata) > 0 {
		if raw, err := json.Marshal(e.Metadata); err == nil {
			metadata = datatypes.JSON(raw)
		}
	}

	return &model.ChatMessage{
		Id:         e.Id,
		MatchId:    e.MatchId,
		SenderId:   e.SenderId,
		SenderName: e.SenderName,
		Body:       e.Body,
		ReplyToId:  e.ReplyToId,
		Type:       string(e.Type),
		Metadata:   metadata,
		CreatedAt:  e.CreatedAt,
	}
}

func (m *ChatMapper) ReceiptToEntity(r *model.ChatMessageReceipt) *entity.ChatMessageReceipt {
	if r == nil {
		return nil
	}
	return &entity.ChatMessageReceipt{
		Id:            r.Id,
		MessageId:     r.MessageId,
		ParticipantId: r.ParticipantId,
		Status:        entity.DeliveryStatus(r.Status),
		CreatedAt:     r.CreatedAt,
	}
}

func (m *ChatMapper) ReceiptToModel(r *entity.ChatMessageReceipt) *model.ChatMessageReceipt {
	if r == nil {
		return nil
	}
	return &model.ChatMessageReceipt{
		Id:            r.Id,
		MessageId:     r.MessageId,
		ParticipantId: r.ParticipantId,
		Status:        string(r.Status),
		CreatedAt:     r.CreatedAt,
	}
}

package service

import (
	"context"

	"mailroute/backend/internal/domain"
	"mailroute/backend/internal/storage"
)

// MessageService 消息撤回与投递记录查询
type MessageService struct {
	store storage.Store
}

// NewMessageService 创建消息服务
func NewMessageService(store storage.Store) *MessageService {
	return &MessageService{store: store}
}

// Withdraw 撤回消息；正在进行的投递照常完成，但结果不再记录
func (s *MessageService) Withdraw(ctx context.Context, serverID, messageID string) error {
	if _, err := s.store.GetServer(ctx, serverID); err != nil {
		return err
	}
	return s.store.WithdrawMessage(ctx, serverID, messageID)
}

// IsWithdrawn 消息是否已撤回
func (s *MessageService) IsWithdrawn(ctx context.Context, messageID string) (bool, error) {
	return s.store.IsWithdrawn(ctx, messageID)
}

// Deliveries 消息的投递记录
func (s *MessageService) Deliveries(ctx context.Context, messageID string) ([]domain.Delivery, error) {
	return s.store.ListDeliveries(ctx, messageID)
}

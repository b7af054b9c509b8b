package service

import (
	"context"
	"strings"

	"github.com/google/uuid"

	"mailroute/backend/internal/domain"
	"mailroute/backend/internal/storage"
)

// ServerService 组织与服务器管理
type ServerService struct {
	store storage.OrganizationRepository
}

// NewServerService 创建服务器服务
func NewServerService(store storage.OrganizationRepository) *ServerService {
	return &ServerService{store: store}
}

// CreateOrganization 创建组织
func (s *ServerService) CreateOrganization(ctx context.Context, name string) (*domain.Organization, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		ve := &domain.ValidationError{}
		ve.Add("name", domain.MsgBlank)
		return nil, ve
	}
	org := &domain.Organization{ID: uuid.NewString(), Name: name}
	if err := s.store.SaveOrganization(ctx, org); err != nil {
		return nil, err
	}
	return org, nil
}

// GetOrganization 查询组织
func (s *ServerService) GetOrganization(ctx context.Context, id string) (*domain.Organization, error) {
	return s.store.GetOrganization(ctx, id)
}

// ServerInput 创建服务器的输入，阈值 <= 0 时使用默认值
type ServerInput struct {
	Name                 string
	SpamThreshold        float64
	SpamFailureThreshold float64
}

// ThresholdInput 修改阈值的输入，nil 字段表示不修改
type ThresholdInput struct {
	SpamThreshold        *float64
	SpamFailureThreshold *float64
}

// CreateServer 在组织下创建服务器
func (s *ServerService) CreateServer(ctx context.Context, organizationID string, in ServerInput) (*domain.Server, error) {
	ve := &domain.ValidationError{}
	name := strings.TrimSpace(in.Name)
	if name == "" {
		ve.Add("name", domain.MsgBlank)
	}
	if in.SpamThreshold < 0 {
		ve.Add("spam_threshold", domain.MsgInvalid)
	}
	threshold := in.SpamThreshold
	if threshold == 0 {
		threshold = domain.DefaultSpamThreshold
	}
	validateFailureThreshold(ve, threshold, in.SpamFailureThreshold)
	if err := ve.OrNil(); err != nil {
		return nil, err
	}

	if _, err := s.store.GetOrganization(ctx, organizationID); err != nil {
		return nil, err
	}

	server := &domain.Server{
		ID:                   uuid.NewString(),
		OrganizationID:       organizationID,
		Name:                 name,
		SpamThreshold:        threshold,
		SpamFailureThreshold: in.SpamFailureThreshold,
	}
	if err := s.store.SaveServer(ctx, server); err != nil {
		return nil, err
	}
	return server, nil
}

// 失败阈值为 0 表示沿用全局配置，设置时不能低于垃圾邮件阈值
func validateFailureThreshold(ve *domain.ValidationError, threshold, failure float64) {
	if failure < 0 || (failure > 0 && failure < threshold) {
		ve.Add("spam_failure_threshold", domain.MsgInvalid)
	}
}

// GetServer 查询服务器
func (s *ServerService) GetServer(ctx context.Context, id string) (*domain.Server, error) {
	return s.store.GetServer(ctx, id)
}

// ListServers 列出全部服务器
func (s *ServerService) ListServers(ctx context.Context) ([]domain.Server, error) {
	return s.store.ListServers(ctx)
}

// UpdateThresholds 修改服务器的垃圾邮件阈值与失败阈值
func (s *ServerService) UpdateThresholds(ctx context.Context, id string, in ThresholdInput) (*domain.Server, error) {
	ve := &domain.ValidationError{}
	if in.SpamThreshold == nil && in.SpamFailureThreshold == nil {
		ve.Add("spam_threshold", domain.MsgBlank)
		return nil, ve
	}
	if in.SpamThreshold != nil && *in.SpamThreshold <= 0 {
		ve.Add("spam_threshold", domain.MsgInvalid)
		return nil, ve
	}

	server, err := s.store.GetServer(ctx, id)
	if err != nil {
		return nil, err
	}
	if in.SpamThreshold != nil {
		server.SpamThreshold = *in.SpamThreshold
	}
	if in.SpamFailureThreshold != nil {
		server.SpamFailureThreshold = *in.SpamFailureThreshold
	}
	validateFailureThreshold(ve, server.SpamThreshold, server.SpamFailureThreshold)
	if err := ve.OrNil(); err != nil {
		return nil, err
	}

	if err := s.store.SaveServer(ctx, server); err != nil {
		return nil, err
	}
	return server, nil
}

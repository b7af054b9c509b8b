package service

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/google/uuid"

	"mailroute/backend/internal/domain"
	"mailroute/backend/internal/storage"
)

// 端点超时上限（秒）
const maxHTTPTimeout = 60

// EndpointService 投递端点管理
type EndpointService struct {
	store     storage.Store
	validator *domain.EmailValidator
}

// NewEndpointService 创建端点服务
func NewEndpointService(store storage.Store) *EndpointService {
	return &EndpointService{store: store, validator: domain.NewEmailValidator()}
}

// Resolve 在服务器范围内按 ID 查找端点
//
// 未指定类型时依次查找 HTTP、SMTP、地址端点；指定类型时只查该类。
func (s *EndpointService) Resolve(ctx context.Context, serverID, id string, hint domain.EndpointType) (domain.Endpoint, error) {
	if id == "" {
		return nil, domain.ErrEndpointNotFound
	}

	order := []domain.EndpointType{domain.EndpointHTTP, domain.EndpointSMTP, domain.EndpointAddress}
	if hint != "" {
		if !hint.Valid() {
			return nil, fmt.Errorf("%w: %s", domain.ErrInvalidEndpointClass, hint)
		}
		order = []domain.EndpointType{hint}
	}

	for _, typ := range order {
		ep, err := s.get(ctx, serverID, domain.EndpointRef{Type: typ, ID: id})
		if err == nil {
			return ep, nil
		}
		if !errors.Is(err, domain.ErrEndpointNotFound) {
			return nil, err
		}
	}
	return nil, domain.ErrEndpointNotFound
}

func (s *EndpointService) get(ctx context.Context, serverID string, ref domain.EndpointRef) (domain.Endpoint, error) {
	switch ref.Type {
	case domain.EndpointHTTP:
		ep, err := s.store.GetHTTPEndpoint(ctx, serverID, ref.ID)
		if err != nil {
			return nil, err
		}
		return ep, nil
	case domain.EndpointSMTP:
		ep, err := s.store.GetSMTPEndpoint(ctx, serverID, ref.ID)
		if err != nil {
			return nil, err
		}
		return ep, nil
	case domain.EndpointAddress:
		ep, err := s.store.GetAddressEndpoint(ctx, serverID, ref.ID)
		if err != nil {
			return nil, err
		}
		return ep, nil
	}
	return nil, domain.ErrEndpointNotFound
}

// Get 查询服务器下指定类型的端点
func (s *EndpointService) Get(ctx context.Context, serverID string, ref domain.EndpointRef) (domain.Endpoint, error) {
	return s.get(ctx, serverID, ref)
}

// ========== HTTP ==========

// CreateHTTP 创建 HTTP 端点
func (s *EndpointService) CreateHTTP(ctx context.Context, ep *domain.HTTPEndpoint) error {
	if err := s.requireServer(ctx, ep.ServerID); err != nil {
		return err
	}
	ep.ID = uuid.NewString()
	ep.ApplyDefaults()
	if err := validateHTTP(ep); err != nil {
		return err
	}
	return s.store.SaveHTTPEndpoint(ctx, ep)
}

// UpdateHTTP 更新 HTTP 端点
func (s *EndpointService) UpdateHTTP(ctx context.Context, ep *domain.HTTPEndpoint) error {
	existing, err := s.store.GetHTTPEndpoint(ctx, ep.ServerID, ep.ID)
	if err != nil {
		return err
	}
	ep.CreatedAt = existing.CreatedAt
	ep.ApplyDefaults()
	if err := validateHTTP(ep); err != nil {
		return err
	}
	return s.store.SaveHTTPEndpoint(ctx, ep)
}

// ListHTTP 列出 HTTP 端点
func (s *EndpointService) ListHTTP(ctx context.Context, serverID string) ([]domain.HTTPEndpoint, error) {
	return s.store.ListHTTPEndpoints(ctx, serverID)
}

func validateHTTP(ep *domain.HTTPEndpoint) error {
	ve := &domain.ValidationError{}
	if strings.TrimSpace(ep.Name) == "" {
		ve.Add("name", domain.MsgBlank)
	}
	if ep.URL == "" {
		ve.Add("url", domain.MsgBlank)
	} else if u, err := url.Parse(ep.URL); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		ve.Add("url", domain.MsgInvalid)
	}
	if ep.Encoding != domain.EncodingBodyAsJSON && ep.Encoding != domain.EncodingFormData {
		ve.Add("encoding", domain.MsgNotInList)
	}
	if ep.Format != domain.FormatHash && ep.Format != domain.FormatRawMessage {
		ve.Add("format", domain.MsgNotInList)
	}
	if ep.Timeout < 1 || ep.Timeout > maxHTTPTimeout {
		ve.Add("timeout", domain.MsgInvalid)
	}
	return ve.OrNil()
}

// ========== SMTP ==========

// CreateSMTP 创建 SMTP 端点
func (s *EndpointService) CreateSMTP(ctx context.Context, ep *domain.SMTPEndpoint) error {
	if err := s.requireServer(ctx, ep.ServerID); err != nil {
		return err
	}
	ep.ID = uuid.NewString()
	ep.ApplyDefaults()
	if err := s.validateSMTP(ep); err != nil {
		return err
	}
	return s.store.SaveSMTPEndpoint(ctx, ep)
}

// UpdateSMTP 更新 SMTP 端点
func (s *EndpointService) UpdateSMTP(ctx context.Context, ep *domain.SMTPEndpoint) error {
	existing, err := s.store.GetSMTPEndpoint(ctx, ep.ServerID, ep.ID)
	if err != nil {
		return err
	}
	ep.CreatedAt = existing.CreatedAt
	ep.ApplyDefaults()
	if err := s.validateSMTP(ep); err != nil {
		return err
	}
	return s.store.SaveSMTPEndpoint(ctx, ep)
}

// ListSMTP 列出 SMTP 端点
func (s *EndpointService) ListSMTP(ctx context.Context, serverID string) ([]domain.SMTPEndpoint, error) {
	return s.store.ListSMTPEndpoints(ctx, serverID)
}

func (s *EndpointService) validateSMTP(ep *domain.SMTPEndpoint) error {
	ve := &domain.ValidationError{}
	if strings.TrimSpace(ep.Name) == "" {
		ve.Add("name", domain.MsgBlank)
	}
	if ep.Hostname == "" {
		ve.Add("hostname", domain.MsgBlank)
	} else if s.validator.ValidateDomain(ep.Hostname) != nil {
		ve.Add("hostname", domain.MsgInvalid)
	}
	if ep.Port < 1 || ep.Port > 65535 {
		ve.Add("port", domain.MsgInvalid)
	}
	if !ep.SSLMode.Valid() {
		ve.Add("ssl_mode", domain.MsgNotInList)
	}
	return ve.OrNil()
}

// ========== Address ==========

// CreateAddress 创建地址端点
func (s *EndpointService) CreateAddress(ctx context.Context, ep *domain.AddressEndpoint) error {
	if err := s.requireServer(ctx, ep.ServerID); err != nil {
		return err
	}
	ep.ID = uuid.NewString()
	if err := s.validateAddress(ep); err != nil {
		return err
	}
	return s.store.SaveAddressEndpoint(ctx, ep)
}

// UpdateAddress 更新地址端点
func (s *EndpointService) UpdateAddress(ctx context.Context, ep *domain.AddressEndpoint) error {
	existing, err := s.store.GetAddressEndpoint(ctx, ep.ServerID, ep.ID)
	if err != nil {
		return err
	}
	ep.CreatedAt = existing.CreatedAt
	if err := s.validateAddress(ep); err != nil {
		return err
	}
	return s.store.SaveAddressEndpoint(ctx, ep)
}

// ListAddress 列出地址端点
func (s *EndpointService) ListAddress(ctx context.Context, serverID string) ([]domain.AddressEndpoint, error) {
	return s.store.ListAddressEndpoints(ctx, serverID)
}

func (s *EndpointService) validateAddress(ep *domain.AddressEndpoint) error {
	ve := &domain.ValidationError{}
	ep.Address = strings.TrimSpace(ep.Address)
	if ep.Address == "" {
		ve.Add("address", domain.MsgBlank)
	} else if s.validator.ValidateEmail(ep.Address) != nil {
		ve.Add("address", domain.MsgInvalid)
	}
	return ve.OrNil()
}

// ========== 删除 ==========

// Delete 删除端点
//
// 以该端点为主端点的路由被清空端点并切换为 Reject，附加端点绑定一并删除。
func (s *EndpointService) Delete(ctx context.Context, serverID string, ref domain.EndpointRef) error {
	if _, err := s.get(ctx, serverID, ref); err != nil {
		return err
	}

	routes, err := s.store.ListRoutes(ctx, serverID)
	if err != nil {
		return err
	}
	for i := range routes {
		route := &routes[i]
		if current, ok := route.Endpoint(); !ok || current != ref {
			continue
		}
		route.ClearEndpoint()
		route.Mode = domain.ModeReject
		if err := s.store.SaveRoute(ctx, route); err != nil {
			return fmt.Errorf("detach route %s: %w", route.ID, err)
		}
	}

	return s.store.DeleteEndpoint(ctx, ref)
}

func (s *EndpointService) requireServer(ctx context.Context, serverID string) error {
	_, err := s.store.GetServer(ctx, serverID)
	return err
}

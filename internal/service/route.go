package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	gonanoid "github.com/matoous/go-nanoid/v2"

	"mailroute/backend/internal/domain"
	"mailroute/backend/internal/storage"
)

// ErrTokenExhausted 多次生成的令牌都已被占用
var ErrTokenExhausted = errors.New("unable to generate unique route token")

const (
	tokenAlphabet = "abcdefghijklmnopqrstuvwxyz0123456789"
	tokenAttempts = 10
)

// RouteInput 创建或更新路由的输入，nil 字段表示不修改
type RouteInput struct {
	Name     *string
	DomainID *string
	Mode     *domain.RouteMode
	SpamMode *domain.SpamMode
	// EndpointSpec 单字符串形式："Bounce"、"HTTPEndpoint#<id>" 或空串
	EndpointSpec *string
	// EndpointID 按 ID 绑定主端点，EndpointType 为可选的类型提示
	EndpointID   string
	EndpointType string
}

// RouteService 路由管理
type RouteService struct {
	store     storage.Store
	endpoints *EndpointService
	validator *domain.RouteValidator
}

// NewRouteService 创建路由服务
func NewRouteService(store storage.Store, endpoints *EndpointService) *RouteService {
	return &RouteService{
		store:     store,
		endpoints: endpoints,
		validator: domain.NewRouteValidator(store),
	}
}

// Create 创建路由，令牌在创建时生成且之后不变
func (s *RouteService) Create(ctx context.Context, serverID string, in RouteInput) (*domain.Route, error) {
	route := &domain.Route{
		ID:       uuid.NewString(),
		ServerID: serverID,
		SpamMode: domain.SpamMark,
	}
	if err := s.apply(ctx, route, in); err != nil {
		return nil, err
	}
	if err := s.validator.Validate(ctx, route); err != nil {
		return nil, err
	}

	token, err := s.generateToken(ctx)
	if err != nil {
		return nil, err
	}
	route.Token = token

	if err := s.store.SaveRoute(ctx, route); err != nil {
		return nil, err
	}
	return route, nil
}

// Update 修改路由；校验失败时已保存的路由保持不变
func (s *RouteService) Update(ctx context.Context, serverID, id string, in RouteInput) (*domain.Route, error) {
	existing, err := s.Get(ctx, serverID, id)
	if err != nil {
		return nil, err
	}

	route := existing.Clone()
	if err := s.apply(ctx, route, in); err != nil {
		return nil, err
	}
	if err := s.validator.Validate(ctx, route); err != nil {
		return nil, err
	}
	if err := s.store.SaveRoute(ctx, route); err != nil {
		return nil, err
	}
	return route, nil
}

func (s *RouteService) apply(ctx context.Context, route *domain.Route, in RouteInput) error {
	if in.Name != nil {
		route.Name = strings.TrimSpace(*in.Name)
	}
	if in.DomainID != nil {
		if *in.DomainID == "" {
			route.DomainID = nil
		} else {
			id := *in.DomainID
			route.DomainID = &id
		}
	}
	if in.Mode != nil {
		route.Mode = *in.Mode
	}
	if in.SpamMode != nil {
		route.SpamMode = *in.SpamMode
	}

	if in.EndpointSpec != nil {
		spec, err := domain.ParseEndpointSpec(*in.EndpointSpec)
		if err != nil {
			return err
		}
		spec.Apply(route)
	}

	if in.EndpointID != "" {
		var hint domain.EndpointType
		if in.EndpointType != "" {
			t, ok := domain.ParseEndpointType(in.EndpointType)
			if !ok {
				return fmt.Errorf("%w: %s", domain.ErrInvalidEndpointClass, in.EndpointType)
			}
			hint = t
		}
		ep, err := s.endpoints.Resolve(ctx, route.ServerID, in.EndpointID, hint)
		if err != nil {
			return err
		}
		route.SetEndpoint(ep.Ref())
		if in.Mode == nil {
			route.Mode = domain.ModeEndpoint
		}
	}
	return nil
}

// Get 查询服务器下的路由
func (s *RouteService) Get(ctx context.Context, serverID, id string) (*domain.Route, error) {
	route, err := s.store.GetRoute(ctx, id)
	if err != nil {
		return nil, err
	}
	if route.ServerID != serverID {
		return nil, domain.ErrRouteNotFound
	}
	return route, nil
}

// List 列出服务器下的路由
func (s *RouteService) List(ctx context.Context, serverID string) ([]domain.Route, error) {
	return s.store.ListRoutes(ctx, serverID)
}

// Delete 删除路由及其附加端点绑定
func (s *RouteService) Delete(ctx context.Context, serverID, id string) error {
	if _, err := s.Get(ctx, serverID, id); err != nil {
		return err
	}
	return s.store.DeleteRoute(ctx, id)
}

// BoundEndpoint 附加端点绑定及其端点
type BoundEndpoint struct {
	Binding  domain.AdditionalRouteEndpoint
	Endpoint domain.Endpoint
}

// RouteDetails 路由详情
type RouteDetails struct {
	Route      *domain.Route
	Domain     *domain.Domain
	Endpoint   domain.Endpoint
	Additional []BoundEndpoint
}

// Description 路由描述，如 info@example.com
func (d *RouteDetails) Description() string {
	return d.Route.Description(d.Domain)
}

// Details 查询路由及关联的域名、端点
func (s *RouteService) Details(ctx context.Context, serverID, id string) (*RouteDetails, error) {
	route, err := s.Get(ctx, serverID, id)
	if err != nil {
		return nil, err
	}
	return s.describe(ctx, route, true)
}

// Describe 组装路由的域名与主端点，不含附加端点
func (s *RouteService) Describe(ctx context.Context, route *domain.Route) (*RouteDetails, error) {
	return s.describe(ctx, route, false)
}

func (s *RouteService) describe(ctx context.Context, route *domain.Route, additional bool) (*RouteDetails, error) {
	details := &RouteDetails{Route: route}

	if route.DomainID != nil {
		d, err := s.store.GetDomain(ctx, *route.DomainID)
		if err != nil && !errors.Is(err, domain.ErrDomainNotFound) {
			return nil, err
		}
		details.Domain = d
	}

	if ref, ok := route.Endpoint(); ok {
		ep, err := s.store.GetEndpoint(ctx, ref)
		if err != nil && !errors.Is(err, domain.ErrEndpointNotFound) {
			return nil, err
		}
		if err == nil {
			details.Endpoint = ep
		}
	}

	if !additional {
		return details, nil
	}

	bindings, err := s.store.ListAdditionalEndpoints(ctx, route.ID)
	if err != nil {
		return nil, err
	}
	for _, b := range bindings {
		ep, err := s.store.GetEndpoint(ctx, b.Ref())
		if err != nil {
			if errors.Is(err, domain.ErrEndpointNotFound) {
				continue
			}
			return nil, err
		}
		details.Additional = append(details.Additional, BoundEndpoint{Binding: b, Endpoint: ep})
	}
	return details, nil
}

// ========== 附加端点 ==========

// AddAdditionalEndpoint 为路由追加一个投递端点
func (s *RouteService) AddAdditionalEndpoint(ctx context.Context, serverID, routeID, endpointID, endpointType string) (*domain.AdditionalRouteEndpoint, error) {
	route, err := s.Get(ctx, serverID, routeID)
	if err != nil {
		return nil, err
	}

	var hint domain.EndpointType
	if endpointType != "" {
		t, ok := domain.ParseEndpointType(endpointType)
		if !ok {
			return nil, fmt.Errorf("%w: %s", domain.ErrInvalidEndpointClass, endpointType)
		}
		hint = t
	}
	ep, err := s.endpoints.Resolve(ctx, serverID, endpointID, hint)
	if err != nil {
		return nil, err
	}
	ref := ep.Ref()

	if primary, ok := route.Endpoint(); ok && primary == ref {
		return nil, domain.ErrBindingExists
	}
	bindings, err := s.store.ListAdditionalEndpoints(ctx, route.ID)
	if err != nil {
		return nil, err
	}
	position := 0
	for _, b := range bindings {
		if b.Ref() == ref {
			return nil, domain.ErrBindingExists
		}
		if b.Position >= position {
			position = b.Position + 1
		}
	}

	binding := &domain.AdditionalRouteEndpoint{
		ID:           uuid.NewString(),
		RouteID:      route.ID,
		EndpointType: ref.Type,
		EndpointID:   ref.ID,
		Position:     position,
	}
	if err := s.store.SaveAdditionalEndpoint(ctx, binding); err != nil {
		return nil, err
	}
	return binding, nil
}

// RemoveAdditionalEndpoint 解除附加端点绑定
func (s *RouteService) RemoveAdditionalEndpoint(ctx context.Context, serverID, routeID, bindingID string) error {
	if _, err := s.Get(ctx, serverID, routeID); err != nil {
		return err
	}
	return s.store.DeleteAdditionalEndpoint(ctx, routeID, bindingID)
}

// ListAdditionalEndpoints 列出路由的附加端点绑定
func (s *RouteService) ListAdditionalEndpoints(ctx context.Context, serverID, routeID string) ([]domain.AdditionalRouteEndpoint, error) {
	if _, err := s.Get(ctx, serverID, routeID); err != nil {
		return nil, err
	}
	return s.store.ListAdditionalEndpoints(ctx, routeID)
}

// generateToken 生成 8 位小写字母数字令牌，冲突时重试
func (s *RouteService) generateToken(ctx context.Context) (string, error) {
	for i := 0; i < tokenAttempts; i++ {
		token, err := randomToken(domain.TokenLength)
		if err != nil {
			return "", err
		}
		exists, err := s.store.RouteTokenExists(ctx, token)
		if err != nil {
			return "", err
		}
		if !exists {
			return token, nil
		}
	}
	return "", ErrTokenExhausted
}

func randomToken(length int) (string, error) {
	token, err := gonanoid.Generate(tokenAlphabet, length)
	if err != nil {
		return "", fmt.Errorf("generate token: %w", err)
	}
	return token, nil
}

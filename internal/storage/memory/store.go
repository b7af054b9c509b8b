package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"mailroute/backend/internal/domain"
)

// Store 使用内存保存路由配置，主要用于开发验证与测试。
type Store struct {
	mu sync.RWMutex

	organizations map[string]*domain.Organization
	servers       map[string]*domain.Server

	domains      map[string]*domain.Domain
	domainByName map[string]string // name -> domainID

	httpEndpoints    map[string]*domain.HTTPEndpoint
	smtpEndpoints    map[string]*domain.SMTPEndpoint
	addressEndpoints map[string]*domain.AddressEndpoint

	routes      map[string]*domain.Route
	routeByName map[string]string                            // domainID|name -> routeID
	returnPaths map[string]string                            // serverID -> routeID（无域名的退信路由）
	routeTokens map[string]string                            // token -> routeID
	bindings    map[string][]*domain.AdditionalRouteEndpoint // routeID -> 附加端点

	deliveries map[string][]domain.Delivery // messageID -> 投递记录
	withdrawn  map[string]*domain.WithdrawnMessage
}

// NewStore 创建一个内存存储实例。
func NewStore() *Store {
	return &Store{
		organizations:    make(map[string]*domain.Organization),
		servers:          make(map[string]*domain.Server),
		domains:          make(map[string]*domain.Domain),
		domainByName:     make(map[string]string),
		httpEndpoints:    make(map[string]*domain.HTTPEndpoint),
		smtpEndpoints:    make(map[string]*domain.SMTPEndpoint),
		addressEndpoints: make(map[string]*domain.AddressEndpoint),
		routes:           make(map[string]*domain.Route),
		routeByName:      make(map[string]string),
		returnPaths:      make(map[string]string),
		routeTokens:      make(map[string]string),
		bindings:         make(map[string][]*domain.AdditionalRouteEndpoint),
		deliveries:       make(map[string][]domain.Delivery),
		withdrawn:        make(map[string]*domain.WithdrawnMessage),
	}
}

func routeKey(domainID, name string) string {
	return domainID + "|" + name
}

func touch(created *time.Time, updated *time.Time) {
	now := time.Now().UTC()
	if created.IsZero() {
		*created = now
	}
	if updated != nil {
		*updated = now
	}
}

// ========== Organization / Server ==========

// SaveOrganization 保存组织
func (s *Store) SaveOrganization(_ context.Context, org *domain.Organization) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	touch(&org.CreatedAt, nil)
	cp := *org
	s.organizations[org.ID] = &cp
	return nil
}

// GetOrganization 根据 ID 获取组织
func (s *Store) GetOrganization(_ context.Context, id string) (*domain.Organization, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	org, ok := s.organizations[id]
	if !ok {
		return nil, domain.ErrOrganizationNotFound
	}
	cp := *org
	return &cp, nil
}

// SaveServer 保存服务器
func (s *Store) SaveServer(_ context.Context, server *domain.Server) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.organizations[server.OrganizationID]; !ok {
		return domain.ErrOrganizationNotFound
	}

	touch(&server.CreatedAt, &server.UpdatedAt)
	cp := *server
	s.servers[server.ID] = &cp
	return nil
}

// GetServer 根据 ID 获取服务器
func (s *Store) GetServer(_ context.Context, id string) (*domain.Server, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	server, ok := s.servers[id]
	if !ok {
		return nil, domain.ErrServerNotFound
	}
	cp := *server
	return &cp, nil
}

// ListServers 返回全部服务器
func (s *Store) ListServers(_ context.Context) ([]domain.Server, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.Server, 0, len(s.servers))
	for _, server := range s.servers {
		out = append(out, *server)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// ========== Domain Repository ==========

// SaveDomain 保存域名，名称全局唯一
func (s *Store) SaveDomain(_ context.Context, d *domain.Domain) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	name := strings.ToLower(d.Name)
	if existingID, ok := s.domainByName[name]; ok && existingID != d.ID {
		return domain.ErrDomainExists
	}

	if old, ok := s.domains[d.ID]; ok && old.Name != name {
		delete(s.domainByName, old.Name)
	}

	d.Name = name
	touch(&d.CreatedAt, &d.UpdatedAt)
	cp := *d
	s.domains[d.ID] = &cp
	s.domainByName[name] = d.ID
	return nil
}

// GetDomain 根据 ID 获取域名
func (s *Store) GetDomain(_ context.Context, id string) (*domain.Domain, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	d, ok := s.domains[id]
	if !ok {
		return nil, domain.ErrDomainNotFound
	}
	cp := *d
	return &cp, nil
}

// GetDomainByName 根据名称获取域名（不区分大小写）
func (s *Store) GetDomainByName(_ context.Context, name string) (*domain.Domain, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.domainByName[strings.ToLower(name)]
	if !ok {
		return nil, domain.ErrDomainNotFound
	}
	cp := *s.domains[id]
	return &cp, nil
}

// ListDomainsByOwner 返回归属于指定对象的域名
func (s *Store) ListDomainsByOwner(_ context.Context, ownerType domain.OwnerType, ownerID string) ([]domain.Domain, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []domain.Domain
	for _, d := range s.domains {
		if d.OwnerType == ownerType && d.OwnerID == ownerID {
			out = append(out, *d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// DeleteDomain 删除域名
func (s *Store) DeleteDomain(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	d, ok := s.domains[id]
	if !ok {
		return domain.ErrDomainNotFound
	}
	delete(s.domainByName, d.Name)
	delete(s.domains, id)
	return nil
}

// ========== Endpoint Repository ==========

// SaveHTTPEndpoint 保存 HTTP 端点
func (s *Store) SaveHTTPEndpoint(_ context.Context, ep *domain.HTTPEndpoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	touch(&ep.CreatedAt, &ep.UpdatedAt)
	cp := *ep
	s.httpEndpoints[ep.ID] = &cp
	return nil
}

// GetHTTPEndpoint 获取服务器下的 HTTP 端点
func (s *Store) GetHTTPEndpoint(_ context.Context, serverID, id string) (*domain.HTTPEndpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ep, ok := s.httpEndpoints[id]
	if !ok || ep.ServerID != serverID {
		return nil, domain.ErrEndpointNotFound
	}
	cp := *ep
	return &cp, nil
}

// ListHTTPEndpoints 列出服务器下的 HTTP 端点
func (s *Store) ListHTTPEndpoints(_ context.Context, serverID string) ([]domain.HTTPEndpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []domain.HTTPEndpoint
	for _, ep := range s.httpEndpoints {
		if ep.ServerID == serverID {
			out = append(out, *ep)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// SaveSMTPEndpoint 保存 SMTP 端点
func (s *Store) SaveSMTPEndpoint(_ context.Context, ep *domain.SMTPEndpoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	touch(&ep.CreatedAt, &ep.UpdatedAt)
	cp := *ep
	s.smtpEndpoints[ep.ID] = &cp
	return nil
}

// GetSMTPEndpoint 获取服务器下的 SMTP 端点
func (s *Store) GetSMTPEndpoint(_ context.Context, serverID, id string) (*domain.SMTPEndpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ep, ok := s.smtpEndpoints[id]
	if !ok || ep.ServerID != serverID {
		return nil, domain.ErrEndpointNotFound
	}
	cp := *ep
	return &cp, nil
}

// ListSMTPEndpoints 列出服务器下的 SMTP 端点
func (s *Store) ListSMTPEndpoints(_ context.Context, serverID string) ([]domain.SMTPEndpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []domain.SMTPEndpoint
	for _, ep := range s.smtpEndpoints {
		if ep.ServerID == serverID {
			out = append(out, *ep)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// SaveAddressEndpoint 保存地址端点
func (s *Store) SaveAddressEndpoint(_ context.Context, ep *domain.AddressEndpoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	touch(&ep.CreatedAt, &ep.UpdatedAt)
	cp := *ep
	s.addressEndpoints[ep.ID] = &cp
	return nil
}

// GetAddressEndpoint 获取服务器下的地址端点
func (s *Store) GetAddressEndpoint(_ context.Context, serverID, id string) (*domain.AddressEndpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ep, ok := s.addressEndpoints[id]
	if !ok || ep.ServerID != serverID {
		return nil, domain.ErrEndpointNotFound
	}
	cp := *ep
	return &cp, nil
}

// ListAddressEndpoints 列出服务器下的地址端点
func (s *Store) ListAddressEndpoints(_ context.Context, serverID string) ([]domain.AddressEndpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []domain.AddressEndpoint
	for _, ep := range s.addressEndpoints {
		if ep.ServerID == serverID {
			out = append(out, *ep)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Address < out[j].Address })
	return out, nil
}

// GetEndpoint 按引用获取端点
func (s *Store) GetEndpoint(_ context.Context, ref domain.EndpointRef) (domain.Endpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	switch ref.Type {
	case domain.EndpointHTTP:
		if ep, ok := s.httpEndpoints[ref.ID]; ok {
			cp := *ep
			return &cp, nil
		}
	case domain.EndpointSMTP:
		if ep, ok := s.smtpEndpoints[ref.ID]; ok {
			cp := *ep
			return &cp, nil
		}
	case domain.EndpointAddress:
		if ep, ok := s.addressEndpoints[ref.ID]; ok {
			cp := *ep
			return &cp, nil
		}
	}
	return nil, domain.ErrEndpointNotFound
}

// DeleteEndpoint 删除端点，同时移除引用它的附加端点绑定
func (s *Store) DeleteEndpoint(_ context.Context, ref domain.EndpointRef) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var found bool
	switch ref.Type {
	case domain.EndpointHTTP:
		_, found = s.httpEndpoints[ref.ID]
		delete(s.httpEndpoints, ref.ID)
	case domain.EndpointSMTP:
		_, found = s.smtpEndpoints[ref.ID]
		delete(s.smtpEndpoints, ref.ID)
	case domain.EndpointAddress:
		_, found = s.addressEndpoints[ref.ID]
		delete(s.addressEndpoints, ref.ID)
	}
	if !found {
		return domain.ErrEndpointNotFound
	}

	for routeID, list := range s.bindings {
		kept := list[:0]
		for _, b := range list {
			if b.Ref() != ref {
				kept = append(kept, b)
			}
		}
		s.bindings[routeID] = kept
	}
	return nil
}

// ========== Route Repository ==========

// SaveRoute 保存路由并维护 (domain, name)、退信与令牌索引
func (s *Store) SaveRoute(_ context.Context, route *domain.Route) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if old, ok := s.routes[route.ID]; ok {
		s.unindexRouteLocked(old)
	}

	touch(&route.CreatedAt, &route.UpdatedAt)
	cp := route.Clone()
	s.routes[route.ID] = cp
	s.indexRouteLocked(cp)
	return nil
}

func (s *Store) indexRouteLocked(r *domain.Route) {
	if r.DomainID != nil {
		s.routeByName[routeKey(*r.DomainID, r.Name)] = r.ID
	} else if r.IsReturnPath() {
		s.returnPaths[r.ServerID] = r.ID
	}
	if r.Token != "" {
		s.routeTokens[r.Token] = r.ID
	}
}

func (s *Store) unindexRouteLocked(r *domain.Route) {
	if r.DomainID != nil {
		delete(s.routeByName, routeKey(*r.DomainID, r.Name))
	} else if r.IsReturnPath() {
		delete(s.returnPaths, r.ServerID)
	}
	delete(s.routeTokens, r.Token)
}

// GetRoute 根据 ID 获取路由
func (s *Store) GetRoute(_ context.Context, id string) (*domain.Route, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.routes[id]
	if !ok {
		return nil, domain.ErrRouteNotFound
	}
	return r.Clone(), nil
}

// ListRoutes 列出服务器下的路由（按名称排序）
func (s *Store) ListRoutes(_ context.Context, serverID string) ([]domain.Route, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []domain.Route
	for _, r := range s.routes {
		if r.ServerID == serverID {
			out = append(out, *r.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// DeleteRoute 删除路由，级联删除附加端点
func (s *Store) DeleteRoute(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.routes[id]
	if !ok {
		return domain.ErrRouteNotFound
	}
	s.unindexRouteLocked(r)
	delete(s.routes, id)
	delete(s.bindings, id)
	return nil
}

// FindRouteByDomainAndName 通过复合索引精确查找路由
func (s *Store) FindRouteByDomainAndName(_ context.Context, domainID, name string) (*domain.Route, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.routeByName[routeKey(domainID, name)]
	if !ok {
		return nil, domain.ErrRouteNotFound
	}
	return s.routes[id].Clone(), nil
}

// FindReturnPathRoute 查找服务器的退信路由
func (s *Store) FindReturnPathRoute(_ context.Context, serverID string) (*domain.Route, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if id, ok := s.returnPaths[serverID]; ok {
		return s.routes[id].Clone(), nil
	}
	// 绑定了域名的退信路由
	for _, r := range s.routes {
		if r.ServerID == serverID && r.IsReturnPath() {
			return r.Clone(), nil
		}
	}
	return nil, domain.ErrRouteNotFound
}

// RouteTokenExists 检查令牌是否已被占用
func (s *Store) RouteTokenExists(_ context.Context, token string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, ok := s.routeTokens[token]
	return ok, nil
}

// SaveAdditionalEndpoint 保存附加端点绑定
func (s *Store) SaveAdditionalEndpoint(_ context.Context, binding *domain.AdditionalRouteEndpoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.routes[binding.RouteID]; !ok {
		return domain.ErrRouteNotFound
	}

	touch(&binding.CreatedAt, nil)
	cp := *binding
	list := s.bindings[binding.RouteID]
	for i, b := range list {
		if b.ID == binding.ID {
			list[i] = &cp
			return nil
		}
	}
	s.bindings[binding.RouteID] = append(list, &cp)
	return nil
}

// ListAdditionalEndpoints 按 Position 顺序列出附加端点
func (s *Store) ListAdditionalEndpoints(_ context.Context, routeID string) ([]domain.AdditionalRouteEndpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	list := s.bindings[routeID]
	out := make([]domain.AdditionalRouteEndpoint, 0, len(list))
	for _, b := range list {
		out = append(out, *b)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Position < out[j].Position })
	return out, nil
}

// DeleteAdditionalEndpoint 删除附加端点绑定
func (s *Store) DeleteAdditionalEndpoint(_ context.Context, routeID, bindingID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	list := s.bindings[routeID]
	for i, b := range list {
		if b.ID == bindingID {
			s.bindings[routeID] = append(list[:i], list[i+1:]...)
			return nil
		}
	}
	return domain.ErrBindingNotFound
}

// ========== Delivery Repository ==========

// RecordDeliveries 保存投递记录
func (s *Store) RecordDeliveries(_ context.Context, deliveries []domain.Delivery) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	for _, d := range deliveries {
		if d.CreatedAt.IsZero() {
			d.CreatedAt = now
		}
		s.deliveries[d.MessageID] = append(s.deliveries[d.MessageID], d)
	}
	return nil
}

// ListDeliveries 返回消息的全部投递记录
func (s *Store) ListDeliveries(_ context.Context, messageID string) ([]domain.Delivery, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	list := s.deliveries[messageID]
	out := make([]domain.Delivery, len(list))
	copy(out, list)
	return out, nil
}

// WithdrawMessage 标记消息已撤回
func (s *Store) WithdrawMessage(_ context.Context, serverID, messageID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.withdrawn[messageID]; ok {
		return nil
	}
	s.withdrawn[messageID] = &domain.WithdrawnMessage{
		MessageID:   messageID,
		ServerID:    serverID,
		WithdrawnAt: time.Now().UTC(),
	}
	return nil
}

// IsWithdrawn 消息是否已撤回
func (s *Store) IsWithdrawn(_ context.Context, messageID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, ok := s.withdrawn[messageID]
	return ok, nil
}

// Close 内存存储无需释放资源
func (s *Store) Close() error {
	return nil
}

// Health 内存存储始终可用
func (s *Store) Health() error {
	return nil
}

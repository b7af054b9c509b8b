package storage

import (
	"context"

	"mailroute/backend/internal/domain"
)

// OrganizationRepository 组织与服务器存取
type OrganizationRepository interface {
	SaveOrganization(ctx context.Context, org *domain.Organization) error
	GetOrganization(ctx context.Context, id string) (*domain.Organization, error)
	SaveServer(ctx context.Context, server *domain.Server) error
	GetServer(ctx context.Context, id string) (*domain.Server, error)
	ListServers(ctx context.Context) ([]domain.Server, error)
}

// DomainRepository 域名存取
type DomainRepository interface {
	SaveDomain(ctx context.Context, d *domain.Domain) error
	GetDomain(ctx context.Context, id string) (*domain.Domain, error)
	GetDomainByName(ctx context.Context, name string) (*domain.Domain, error)
	ListDomainsByOwner(ctx context.Context, ownerType domain.OwnerType, ownerID string) ([]domain.Domain, error)
	DeleteDomain(ctx context.Context, id string) error
}

// EndpointRepository 三类投递端点存取
type EndpointRepository interface {
	SaveHTTPEndpoint(ctx context.Context, ep *domain.HTTPEndpoint) error
	GetHTTPEndpoint(ctx context.Context, serverID, id string) (*domain.HTTPEndpoint, error)
	ListHTTPEndpoints(ctx context.Context, serverID string) ([]domain.HTTPEndpoint, error)

	SaveSMTPEndpoint(ctx context.Context, ep *domain.SMTPEndpoint) error
	GetSMTPEndpoint(ctx context.Context, serverID, id string) (*domain.SMTPEndpoint, error)
	ListSMTPEndpoints(ctx context.Context, serverID string) ([]domain.SMTPEndpoint, error)

	SaveAddressEndpoint(ctx context.Context, ep *domain.AddressEndpoint) error
	GetAddressEndpoint(ctx context.Context, serverID, id string) (*domain.AddressEndpoint, error)
	ListAddressEndpoints(ctx context.Context, serverID string) ([]domain.AddressEndpoint, error)

	// GetEndpoint 按类型与 ID 查询，不限定服务器
	GetEndpoint(ctx context.Context, ref domain.EndpointRef) (domain.Endpoint, error)
	DeleteEndpoint(ctx context.Context, ref domain.EndpointRef) error
}

// RouteRepository 路由与附加端点存取
type RouteRepository interface {
	SaveRoute(ctx context.Context, route *domain.Route) error
	GetRoute(ctx context.Context, id string) (*domain.Route, error)
	ListRoutes(ctx context.Context, serverID string) ([]domain.Route, error)
	// DeleteRoute 删除路由并级联删除附加端点绑定
	DeleteRoute(ctx context.Context, id string) error
	FindRouteByDomainAndName(ctx context.Context, domainID, name string) (*domain.Route, error)
	FindReturnPathRoute(ctx context.Context, serverID string) (*domain.Route, error)
	RouteTokenExists(ctx context.Context, token string) (bool, error)

	SaveAdditionalEndpoint(ctx context.Context, binding *domain.AdditionalRouteEndpoint) error
	ListAdditionalEndpoints(ctx context.Context, routeID string) ([]domain.AdditionalRouteEndpoint, error)
	DeleteAdditionalEndpoint(ctx context.Context, routeID, bindingID string) error
}

// DeliveryRepository 投递记录与撤回状态
type DeliveryRepository interface {
	RecordDeliveries(ctx context.Context, deliveries []domain.Delivery) error
	ListDeliveries(ctx context.Context, messageID string) ([]domain.Delivery, error)
	WithdrawMessage(ctx context.Context, serverID, messageID string) error
	IsWithdrawn(ctx context.Context, messageID string) (bool, error)
}

// Store 聚合全部仓储接口
type Store interface {
	OrganizationRepository
	DomainRepository
	EndpointRepository
	RouteRepository
	DeliveryRepository

	Close() error
	Health() error
}

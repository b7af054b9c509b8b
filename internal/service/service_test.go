package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"mailroute/backend/internal/domain"
	"mailroute/backend/internal/storage/memory"
)

// fixture 一个组织、一台服务器、一个已验证域名
type fixture struct {
	store     *memory.Store
	servers   *ServerService
	domains   *DomainService
	endpoints *EndpointService
	routes    *RouteService
	server    *domain.Server
	domain    *domain.Domain
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	store := memory.NewStore()

	f := &fixture{
		store:     store,
		servers:   NewServerService(store),
		domains:   NewDomainService(store),
		endpoints: NewEndpointService(store),
	}
	f.routes = NewRouteService(store, f.endpoints)

	org, err := f.servers.CreateOrganization(ctx, "Acme")
	require.NoError(t, err)
	f.server, err = f.servers.CreateServer(ctx, org.ID, ServerInput{Name: "mail"})
	require.NoError(t, err)
	f.domain, err = f.domains.Create(ctx, DomainInput{
		Name: "Example.com", OwnerType: domain.OwnerServer, OwnerID: f.server.ID, Verified: true,
	})
	require.NoError(t, err)
	return f
}

func (f *fixture) httpEndpoint(t *testing.T, name string) *domain.HTTPEndpoint {
	t.Helper()
	ep := &domain.HTTPEndpoint{ServerID: f.server.ID, Name: name, URL: "https://hooks.example.com/" + name}
	require.NoError(t, f.endpoints.CreateHTTP(context.Background(), ep))
	return ep
}

func ptr[T any](v T) *T { return &v }

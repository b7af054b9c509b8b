package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"mailroute/backend/internal/domain"
	"mailroute/backend/internal/storage"
)

// DomainInput 创建域名的输入
type DomainInput struct {
	Name      string
	OwnerType domain.OwnerType
	OwnerID   string
	// Verified 创建时直接标记为已验证
	Verified bool
}

// DomainService 收件域名管理
type DomainService struct {
	store     storage.Store
	validator *domain.EmailValidator
	now       func() time.Time
}

// NewDomainService 创建域名服务
func NewDomainService(store storage.Store) *DomainService {
	return &DomainService{store: store, validator: domain.NewEmailValidator(), now: time.Now}
}

// Create 创建域名，名称全局唯一
func (s *DomainService) Create(ctx context.Context, in DomainInput) (*domain.Domain, error) {
	name := strings.ToLower(strings.TrimSpace(in.Name))

	ve := &domain.ValidationError{}
	if name == "" {
		ve.Add("name", domain.MsgBlank)
	} else if s.validator.ValidateDomain(name) != nil {
		ve.Add("name", domain.MsgInvalid)
	}
	if !in.OwnerType.Valid() {
		ve.Add("owner_type", domain.MsgNotInList)
	} else if err := s.checkOwner(ctx, in.OwnerType, in.OwnerID); err != nil {
		if !errors.Is(err, domain.ErrServerNotFound) && !errors.Is(err, domain.ErrOrganizationNotFound) {
			return nil, err
		}
		ve.Add("owner", domain.MsgInvalid)
	}
	if err := ve.OrNil(); err != nil {
		return nil, err
	}

	d := &domain.Domain{
		ID:        uuid.NewString(),
		Name:      name,
		OwnerType: in.OwnerType,
		OwnerID:   in.OwnerID,
	}
	if in.Verified {
		d.MarkVerified(s.now())
	}
	if err := s.store.SaveDomain(ctx, d); err != nil {
		return nil, err
	}
	return d, nil
}

func (s *DomainService) checkOwner(ctx context.Context, ownerType domain.OwnerType, ownerID string) error {
	if ownerType == domain.OwnerServer {
		_, err := s.store.GetServer(ctx, ownerID)
		return err
	}
	_, err := s.store.GetOrganization(ctx, ownerID)
	return err
}

// MarkVerified 标记域名已通过验证
func (s *DomainService) MarkVerified(ctx context.Context, id string) (*domain.Domain, error) {
	d, err := s.store.GetDomain(ctx, id)
	if err != nil {
		return nil, err
	}
	if d.IsVerified() {
		return d, nil
	}
	d.MarkVerified(s.now())
	if err := s.store.SaveDomain(ctx, d); err != nil {
		return nil, err
	}
	return d, nil
}

// Get 按 ID 查询
func (s *DomainService) Get(ctx context.Context, id string) (*domain.Domain, error) {
	return s.store.GetDomain(ctx, id)
}

// GetByName 按名称查询
func (s *DomainService) GetByName(ctx context.Context, name string) (*domain.Domain, error) {
	return s.store.GetDomainByName(ctx, strings.ToLower(strings.TrimSpace(name)))
}

// ListForServer 服务器可使用的域名：自有域名加上所属组织的域名
func (s *DomainService) ListForServer(ctx context.Context, serverID string) ([]domain.Domain, error) {
	server, err := s.store.GetServer(ctx, serverID)
	if err != nil {
		return nil, err
	}
	own, err := s.store.ListDomainsByOwner(ctx, domain.OwnerServer, server.ID)
	if err != nil {
		return nil, err
	}
	shared, err := s.store.ListDomainsByOwner(ctx, domain.OwnerOrganization, server.OrganizationID)
	if err != nil {
		return nil, err
	}
	return append(own, shared...), nil
}

// Delete 删除域名及其下的路由
func (s *DomainService) Delete(ctx context.Context, id string) error {
	d, err := s.store.GetDomain(ctx, id)
	if err != nil {
		return err
	}

	servers, err := s.ownerServers(ctx, d)
	if err != nil {
		return err
	}
	for _, serverID := range servers {
		routes, err := s.store.ListRoutes(ctx, serverID)
		if err != nil {
			return err
		}
		for _, r := range routes {
			if !r.InDomain(d.ID) {
				continue
			}
			if err := s.store.DeleteRoute(ctx, r.ID); err != nil && !errors.Is(err, domain.ErrRouteNotFound) {
				return err
			}
		}
	}

	return s.store.DeleteDomain(ctx, id)
}

func (s *DomainService) ownerServers(ctx context.Context, d *domain.Domain) ([]string, error) {
	if d.OwnerType == domain.OwnerServer {
		return []string{d.OwnerID}, nil
	}
	all, err := s.store.ListServers(ctx)
	if err != nil {
		return nil, err
	}
	var ids []string
	for _, srv := range all {
		if srv.OrganizationID == d.OwnerID {
			ids = append(ids, srv.ID)
		}
	}
	return ids, nil
}

package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"mailroute/backend/internal/config"
	"mailroute/backend/internal/domain"
)

// Options 连接池与迁移配置
type Options struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	// SkipMigrate 为 true 时不在启动时自动迁移（由 cmd/migrate 单独执行）
	SkipMigrate bool
}

// DefaultOptions 默认连接池配置
func DefaultOptions() Options {
	return Options{
		MaxOpenConns:    25,
		MaxIdleConns:    5,
		ConnMaxLifetime: 5 * time.Minute,
	}
}

// Store 基于 GORM 的路由配置存储，支持 PostgreSQL 与 MySQL
type Store struct {
	db *gorm.DB
}

// NewStore 创建 PostgreSQL 存储实例
func NewStore(dsn string, opts Options) (*Store, error) {
	return NewStoreWithDialector(postgres.Open(dsn), opts)
}

// NewMySQLStore 创建 MySQL 存储实例
func NewMySQLStore(dsn string, opts Options) (*Store, error) {
	return NewStoreWithDialector(mysql.Open(dsn), opts)
}

// Open 根据数据库类型创建存储实例
func Open(cfg config.DatabaseConfig) (*Store, error) {
	opts := Options{
		MaxOpenConns:    cfg.MaxOpenConns,
		MaxIdleConns:    cfg.MaxIdleConns,
		ConnMaxLifetime: cfg.ConnMaxLifetime,
	}
	switch cfg.Type {
	case "mysql":
		return NewMySQLStore(cfg.DSN, opts)
	case "postgres", "postgresql":
		return NewStore(cfg.DSN, opts)
	}
	return nil, fmt.Errorf("unsupported database type: %s (supported: mysql, postgres)", cfg.Type)
}

// NewStoreWithDialector 使用指定的 GORM dialector 创建存储实例
func NewStoreWithDialector(dialector gorm.Dialector, opts Options) (*Store, error) {
	config := &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
	}

	db, err := gorm.Open(dialector, config)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}
	if opts.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(opts.MaxOpenConns)
	}
	if opts.MaxIdleConns > 0 {
		sqlDB.SetMaxIdleConns(opts.MaxIdleConns)
	}
	if opts.ConnMaxLifetime > 0 {
		sqlDB.SetConnMaxLifetime(opts.ConnMaxLifetime)
	}

	store := &Store{db: db}
	if !opts.SkipMigrate {
		if err := store.Migrate(); err != nil {
			return nil, fmt.Errorf("failed to migrate database: %w", err)
		}
	}
	return store, nil
}

// Migrate 自动迁移数据库表结构
func (s *Store) Migrate() error {
	return s.db.AutoMigrate(
		&domain.Organization{},
		&domain.Server{},
		&domain.Domain{},
		&domain.HTTPEndpoint{},
		&domain.SMTPEndpoint{},
		&domain.AddressEndpoint{},
		&domain.Route{},
		&domain.AdditionalRouteEndpoint{},
		&domain.Delivery{},
		&domain.WithdrawnMessage{},
	)
}

// first 查询单条记录，未找到时返回 notFound
func first[T any](db *gorm.DB, notFound error, query string, args ...interface{}) (*T, error) {
	var out T
	err := db.Where(query, args...).First(&out).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, notFound
		}
		return nil, err
	}
	return &out, nil
}

// ========== Organization / Server ==========

// SaveOrganization 保存组织
func (s *Store) SaveOrganization(ctx context.Context, org *domain.Organization) error {
	return s.db.WithContext(ctx).Save(org).Error
}

// GetOrganization 根据 ID 获取组织
func (s *Store) GetOrganization(ctx context.Context, id string) (*domain.Organization, error) {
	return first[domain.Organization](s.db.WithContext(ctx), domain.ErrOrganizationNotFound, "id = ?", id)
}

// SaveServer 保存服务器，所属组织必须存在
func (s *Store) SaveServer(ctx context.Context, server *domain.Server) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if _, err := first[domain.Organization](tx, domain.ErrOrganizationNotFound, "id = ?", server.OrganizationID); err != nil {
			return err
		}
		return tx.Save(server).Error
	})
}

// GetServer 根据 ID 获取服务器
func (s *Store) GetServer(ctx context.Context, id string) (*domain.Server, error) {
	return first[domain.Server](s.db.WithContext(ctx), domain.ErrServerNotFound, "id = ?", id)
}

// ListServers 返回全部服务器
func (s *Store) ListServers(ctx context.Context) ([]domain.Server, error) {
	var servers []domain.Server
	err := s.db.WithContext(ctx).Order("name").Find(&servers).Error
	return servers, err
}

// ========== Domain Repository ==========

// SaveDomain 保存域名，名称全局唯一
func (s *Store) SaveDomain(ctx context.Context, d *domain.Domain) error {
	d.Name = strings.ToLower(d.Name)
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&domain.Domain{}).Where("name = ? AND id <> ?", d.Name, d.ID).Count(&count).Error; err != nil {
			return err
		}
		if count > 0 {
			return domain.ErrDomainExists
		}
		if err := tx.Save(d).Error; err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return domain.ErrDomainExists
			}
			return err
		}
		return nil
	})
}

// GetDomain 根据 ID 获取域名
func (s *Store) GetDomain(ctx context.Context, id string) (*domain.Domain, error) {
	return first[domain.Domain](s.db.WithContext(ctx), domain.ErrDomainNotFound, "id = ?", id)
}

// GetDomainByName 根据名称获取域名（不区分大小写）
func (s *Store) GetDomainByName(ctx context.Context, name string) (*domain.Domain, error) {
	return first[domain.Domain](s.db.WithContext(ctx), domain.ErrDomainNotFound, "name = ?", strings.ToLower(name))
}

// ListDomainsByOwner 返回归属于指定对象的域名
func (s *Store) ListDomainsByOwner(ctx context.Context, ownerType domain.OwnerType, ownerID string) ([]domain.Domain, error) {
	var domains []domain.Domain
	err := s.db.WithContext(ctx).
		Where("owner_type = ? AND owner_id = ?", ownerType, ownerID).
		Order("name").
		Find(&domains).Error
	return domains, err
}

// DeleteDomain 删除域名
func (s *Store) DeleteDomain(ctx context.Context, id string) error {
	result := s.db.WithContext(ctx).Where("id = ?", id).Delete(&domain.Domain{})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrDomainNotFound
	}
	return nil
}

// ========== Endpoint Repository ==========

// SaveHTTPEndpoint 保存 HTTP 端点
func (s *Store) SaveHTTPEndpoint(ctx context.Context, ep *domain.HTTPEndpoint) error {
	return s.db.WithContext(ctx).Save(ep).Error
}

// GetHTTPEndpoint 获取服务器下的 HTTP 端点
func (s *Store) GetHTTPEndpoint(ctx context.Context, serverID, id string) (*domain.HTTPEndpoint, error) {
	return first[domain.HTTPEndpoint](s.db.WithContext(ctx), domain.ErrEndpointNotFound, "id = ? AND server_id = ?", id, serverID)
}

// ListHTTPEndpoints 列出服务器下的 HTTP 端点
func (s *Store) ListHTTPEndpoints(ctx context.Context, serverID string) ([]domain.HTTPEndpoint, error) {
	var eps []domain.HTTPEndpoint
	err := s.db.WithContext(ctx).Where("server_id = ?", serverID).Order("name").Find(&eps).Error
	return eps, err
}

// SaveSMTPEndpoint 保存 SMTP 端点
func (s *Store) SaveSMTPEndpoint(ctx context.Context, ep *domain.SMTPEndpoint) error {
	return s.db.WithContext(ctx).Save(ep).Error
}

// GetSMTPEndpoint 获取服务器下的 SMTP 端点
func (s *Store) GetSMTPEndpoint(ctx context.Context, serverID, id string) (*domain.SMTPEndpoint, error) {
	return first[domain.SMTPEndpoint](s.db.WithContext(ctx), domain.ErrEndpointNotFound, "id = ? AND server_id = ?", id, serverID)
}

// ListSMTPEndpoints 列出服务器下的 SMTP 端点
func (s *Store) ListSMTPEndpoints(ctx context.Context, serverID string) ([]domain.SMTPEndpoint, error) {
	var eps []domain.SMTPEndpoint
	err := s.db.WithContext(ctx).Where("server_id = ?", serverID).Order("name").Find(&eps).Error
	return eps, err
}

// SaveAddressEndpoint 保存地址端点
func (s *Store) SaveAddressEndpoint(ctx context.Context, ep *domain.AddressEndpoint) error {
	return s.db.WithContext(ctx).Save(ep).Error
}

// GetAddressEndpoint 获取服务器下的地址端点
func (s *Store) GetAddressEndpoint(ctx context.Context, serverID, id string) (*domain.AddressEndpoint, error) {
	return first[domain.AddressEndpoint](s.db.WithContext(ctx), domain.ErrEndpointNotFound, "id = ? AND server_id = ?", id, serverID)
}

// ListAddressEndpoints 列出服务器下的地址端点
func (s *Store) ListAddressEndpoints(ctx context.Context, serverID string) ([]domain.AddressEndpoint, error) {
	var eps []domain.AddressEndpoint
	err := s.db.WithContext(ctx).Where("server_id = ?", serverID).Order("address").Find(&eps).Error
	return eps, err
}

// GetEndpoint 按引用获取端点
func (s *Store) GetEndpoint(ctx context.Context, ref domain.EndpointRef) (domain.Endpoint, error) {
	db := s.db.WithContext(ctx)
	switch ref.Type {
	case domain.EndpointHTTP:
		ep, err := first[domain.HTTPEndpoint](db, domain.ErrEndpointNotFound, "id = ?", ref.ID)
		if err != nil {
			return nil, err
		}
		return ep, nil
	case domain.EndpointSMTP:
		ep, err := first[domain.SMTPEndpoint](db, domain.ErrEndpointNotFound, "id = ?", ref.ID)
		if err != nil {
			return nil, err
		}
		return ep, nil
	case domain.EndpointAddress:
		ep, err := first[domain.AddressEndpoint](db, domain.ErrEndpointNotFound, "id = ?", ref.ID)
		if err != nil {
			return nil, err
		}
		return ep, nil
	}
	return nil, domain.ErrEndpointNotFound
}

// DeleteEndpoint 删除端点，同时移除引用它的附加端点绑定
func (s *Store) DeleteEndpoint(ctx context.Context, ref domain.EndpointRef) error {
	var model interface{}
	switch ref.Type {
	case domain.EndpointHTTP:
		model = &domain.HTTPEndpoint{}
	case domain.EndpointSMTP:
		model = &domain.SMTPEndpoint{}
	case domain.EndpointAddress:
		model = &domain.AddressEndpoint{}
	default:
		return domain.ErrEndpointNotFound
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Where("id = ?", ref.ID).Delete(model)
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return domain.ErrEndpointNotFound
		}
		return tx.Where("endpoint_type = ? AND endpoint_id = ?", ref.Type, ref.ID).
			Delete(&domain.AdditionalRouteEndpoint{}).Error
	})
}

// ========== Route Repository ==========

// SaveRoute 保存路由
func (s *Store) SaveRoute(ctx context.Context, route *domain.Route) error {
	return s.db.WithContext(ctx).Save(route).Error
}

// GetRoute 根据 ID 获取路由
func (s *Store) GetRoute(ctx context.Context, id string) (*domain.Route, error) {
	return first[domain.Route](s.db.WithContext(ctx), domain.ErrRouteNotFound, "id = ?", id)
}

// ListRoutes 列出服务器下的路由（按名称排序）
func (s *Store) ListRoutes(ctx context.Context, serverID string) ([]domain.Route, error) {
	var routes []domain.Route
	err := s.db.WithContext(ctx).Where("server_id = ?", serverID).Order("name").Find(&routes).Error
	return routes, err
}

// DeleteRoute 删除路由，级联删除附加端点
func (s *Store) DeleteRoute(ctx context.Context, id string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("route_id = ?", id).Delete(&domain.AdditionalRouteEndpoint{}).Error; err != nil {
			return err
		}
		result := tx.Where("id = ?", id).Delete(&domain.Route{})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return domain.ErrRouteNotFound
		}
		return nil
	})
}

// FindRouteByDomainAndName 通过 (domain_id, name) 唯一索引精确查找路由
func (s *Store) FindRouteByDomainAndName(ctx context.Context, domainID, name string) (*domain.Route, error) {
	return first[domain.Route](s.db.WithContext(ctx), domain.ErrRouteNotFound, "domain_id = ? AND name = ?", domainID, name)
}

// FindReturnPathRoute 查找服务器的退信路由，优先无域名的路由
func (s *Store) FindReturnPathRoute(ctx context.Context, serverID string) (*domain.Route, error) {
	var route domain.Route
	err := s.db.WithContext(ctx).
		Where("server_id = ? AND name = ?", serverID, domain.ReturnPathName).
		Order("domain_id IS NOT NULL").
		Take(&route).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrRouteNotFound
		}
		return nil, err
	}
	return &route, nil
}

// RouteTokenExists 检查令牌是否已被占用
func (s *Store) RouteTokenExists(ctx context.Context, token string) (bool, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&domain.Route{}).Where("token = ?", token).Count(&count).Error
	return count > 0, err
}

// SaveAdditionalEndpoint 保存附加端点绑定
func (s *Store) SaveAdditionalEndpoint(ctx context.Context, binding *domain.AdditionalRouteEndpoint) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if _, err := first[domain.Route](tx, domain.ErrRouteNotFound, "id = ?", binding.RouteID); err != nil {
			return err
		}
		return tx.Save(binding).Error
	})
}

// ListAdditionalEndpoints 按 Position 顺序列出附加端点
func (s *Store) ListAdditionalEndpoints(ctx context.Context, routeID string) ([]domain.AdditionalRouteEndpoint, error) {
	var bindings []domain.AdditionalRouteEndpoint
	err := s.db.WithContext(ctx).Where("route_id = ?", routeID).Order("position").Find(&bindings).Error
	return bindings, err
}

// DeleteAdditionalEndpoint 删除附加端点绑定
func (s *Store) DeleteAdditionalEndpoint(ctx context.Context, routeID, bindingID string) error {
	result := s.db.WithContext(ctx).
		Where("id = ? AND route_id = ?", bindingID, routeID).
		Delete(&domain.AdditionalRouteEndpoint{})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrBindingNotFound
	}
	return nil
}

// ========== Delivery Repository ==========

// RecordDeliveries 批量保存投递记录
func (s *Store) RecordDeliveries(ctx context.Context, deliveries []domain.Delivery) error {
	if len(deliveries) == 0 {
		return nil
	}
	return s.db.WithContext(ctx).CreateInBatches(deliveries, 100).Error
}

// ListDeliveries 返回消息的全部投递记录
func (s *Store) ListDeliveries(ctx context.Context, messageID string) ([]domain.Delivery, error) {
	var deliveries []domain.Delivery
	err := s.db.WithContext(ctx).Where("message_id = ?", messageID).Order("created_at").Find(&deliveries).Error
	return deliveries, err
}

// WithdrawMessage 标记消息已撤回，重复撤回不报错
func (s *Store) WithdrawMessage(ctx context.Context, serverID, messageID string) error {
	record := &domain.WithdrawnMessage{
		MessageID:   messageID,
		ServerID:    serverID,
		WithdrawnAt: time.Now().UTC(),
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(record).Error
}

// IsWithdrawn 消息是否已撤回
func (s *Store) IsWithdrawn(ctx context.Context, messageID string) (bool, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&domain.WithdrawnMessage{}).Where("message_id = ?", messageID).Count(&count).Error
	return count > 0, err
}

// Close 关闭数据库连接
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Health 检查数据库连接
func (s *Store) Health() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Ping()
}

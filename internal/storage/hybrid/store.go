package hybrid

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"mailroute/backend/internal/config"
	"mailroute/backend/internal/domain"
	"mailroute/backend/internal/storage/postgres"
	"mailroute/backend/internal/storage/redis"
)

// withdrawnTTL 撤回标记在 Redis 中的保留时间，过期后回落到数据库查询
const withdrawnTTL = 7 * 24 * time.Hour

// Store 混合存储：数据库为准，Redis 缓存路由解析热路径
//
// 只缓存 SMTP 收信时按名称查询的域名与路由；写操作先落库再失效缓存。
type Store struct {
	*postgres.Store
	cache  *redis.Cache
	client *redis.Client
	log    *zap.Logger
}

// NewStore 组合已有的数据库存储与 Redis 客户端
func NewStore(db *postgres.Store, client *redis.Client, ttl time.Duration, log *zap.Logger) *Store {
	if log == nil {
		log = zap.NewNop()
	}
	return &Store{
		Store:  db,
		cache:  redis.NewCache(client, ttl),
		client: client,
		log:    log,
	}
}

// NewStoreWithType 根据数据库类型创建混合存储
func NewStoreWithType(ctx context.Context, db config.DatabaseConfig, rc config.RedisConfig, log *zap.Logger) (*Store, error) {
	dbStore, err := postgres.Open(db)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	client, err := redis.New(ctx, rc, log)
	if err != nil {
		_ = dbStore.Close()
		return nil, fmt.Errorf("failed to initialize redis: %w", err)
	}

	return NewStore(dbStore, client, rc.CacheTTL, log), nil
}

// Redis 返回 Redis 客户端，供健康检查使用
func (s *Store) Redis() *redis.Client {
	return s.client
}

func (s *Store) warn(msg string, err error, fields ...zap.Field) {
	if err != nil {
		s.log.Warn(msg, append(fields, zap.Error(err))...)
	}
}

// ========== Domain Repository ==========

// SaveDomain 保存域名并失效旧名称与新名称的缓存
func (s *Store) SaveDomain(ctx context.Context, d *domain.Domain) error {
	old, err := s.Store.GetDomain(ctx, d.ID)
	if err != nil && !errors.Is(err, domain.ErrDomainNotFound) {
		return err
	}
	if err := s.Store.SaveDomain(ctx, d); err != nil {
		return err
	}

	if old != nil {
		s.warn("failed to invalidate domain cache", s.cache.DeleteCachedDomain(ctx, old.Name), zap.String("domain", old.Name))
	}
	s.warn("failed to invalidate domain cache", s.cache.DeleteCachedDomain(ctx, d.Name), zap.String("domain", d.Name))
	return nil
}

// GetDomainByName 先查 Redis，未命中时查数据库并回填
func (s *Store) GetDomainByName(ctx context.Context, name string) (*domain.Domain, error) {
	if d, err := s.cache.GetCachedDomain(ctx, name); err == nil {
		return d, nil
	} else if !errors.Is(err, redis.ErrCacheMiss) {
		s.warn("domain cache read failed", err, zap.String("domain", name))
	}

	d, err := s.Store.GetDomainByName(ctx, name)
	if err != nil {
		return nil, err
	}
	s.warn("failed to cache domain", s.cache.CacheDomain(ctx, d), zap.String("domain", d.Name))
	return d, nil
}

// DeleteDomain 删除域名并失效缓存
func (s *Store) DeleteDomain(ctx context.Context, id string) error {
	d, err := s.Store.GetDomain(ctx, id)
	if err != nil {
		return err
	}
	if err := s.Store.DeleteDomain(ctx, id); err != nil {
		return err
	}
	s.warn("failed to invalidate domain cache", s.cache.DeleteCachedDomain(ctx, d.Name), zap.String("domain", d.Name))
	return nil
}

// ========== Route Repository ==========

// SaveRoute 保存路由并失效新旧位置的缓存
func (s *Store) SaveRoute(ctx context.Context, route *domain.Route) error {
	old, err := s.Store.GetRoute(ctx, route.ID)
	if err != nil && !errors.Is(err, domain.ErrRouteNotFound) {
		return err
	}
	if err := s.Store.SaveRoute(ctx, route); err != nil {
		return err
	}

	if old != nil {
		s.warn("failed to invalidate route cache", s.cache.InvalidateRoute(ctx, old), zap.String("route_id", old.ID))
	}
	s.warn("failed to invalidate route cache", s.cache.InvalidateRoute(ctx, route), zap.String("route_id", route.ID))
	return nil
}

// DeleteRoute 删除路由并失效缓存
func (s *Store) DeleteRoute(ctx context.Context, id string) error {
	route, err := s.Store.GetRoute(ctx, id)
	if err != nil {
		return err
	}
	if err := s.Store.DeleteRoute(ctx, id); err != nil {
		return err
	}
	s.warn("failed to invalidate route cache", s.cache.InvalidateRoute(ctx, route), zap.String("route_id", id))
	return nil
}

// FindRouteByDomainAndName 先查 Redis，未命中时查数据库并回填
func (s *Store) FindRouteByDomainAndName(ctx context.Context, domainID, name string) (*domain.Route, error) {
	if route, err := s.cache.GetCachedRoute(ctx, domainID, name); err == nil {
		return route, nil
	} else if !errors.Is(err, redis.ErrCacheMiss) {
		s.warn("route cache read failed", err, zap.String("domain_id", domainID), zap.String("name", name))
	}

	route, err := s.Store.FindRouteByDomainAndName(ctx, domainID, name)
	if err != nil {
		return nil, err
	}
	s.warn("failed to cache route", s.cache.CacheRoute(ctx, route), zap.String("route_id", route.ID))
	return route, nil
}

// FindReturnPathRoute 先查 Redis，未命中时查数据库并回填
func (s *Store) FindReturnPathRoute(ctx context.Context, serverID string) (*domain.Route, error) {
	if route, err := s.cache.GetCachedReturnPath(ctx, serverID); err == nil {
		return route, nil
	} else if !errors.Is(err, redis.ErrCacheMiss) {
		s.warn("return path cache read failed", err, zap.String("server_id", serverID))
	}

	route, err := s.Store.FindReturnPathRoute(ctx, serverID)
	if err != nil {
		return nil, err
	}
	s.warn("failed to cache return path", s.cache.CacheReturnPath(ctx, route), zap.String("route_id", route.ID))
	return route, nil
}

// ========== Delivery Repository ==========

// WithdrawMessage 落库后在 Redis 中写入撤回标记
func (s *Store) WithdrawMessage(ctx context.Context, serverID, messageID string) error {
	if err := s.Store.WithdrawMessage(ctx, serverID, messageID); err != nil {
		return err
	}
	s.warn("failed to mark message withdrawn", s.cache.MarkWithdrawn(ctx, messageID, withdrawnTTL), zap.String("message_id", messageID))
	return nil
}

// IsWithdrawn Redis 命中即返回，否则以数据库为准
func (s *Store) IsWithdrawn(ctx context.Context, messageID string) (bool, error) {
	ok, err := s.cache.IsWithdrawn(ctx, messageID)
	if err == nil && ok {
		return true, nil
	}
	s.warn("withdrawn marker read failed", err, zap.String("message_id", messageID))
	return s.Store.IsWithdrawn(ctx, messageID)
}

// Close 关闭数据库与 Redis 连接
func (s *Store) Close() error {
	dbErr := s.Store.Close()
	if err := s.client.Close(); err != nil {
		return err
	}
	return dbErr
}

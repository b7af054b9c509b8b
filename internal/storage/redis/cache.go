package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"mailroute/backend/internal/domain"
)

// ErrCacheMiss 缓存中不存在
var ErrCacheMiss = errors.New("cache miss")

const (
	domainKeyPrefix     = "mailroute:domain:"
	routeKeyPrefix      = "mailroute:route:"
	returnPathKeyPrefix = "mailroute:returnpath:"
	withdrawnKeyPrefix  = "mailroute:withdrawn:"
)

// Cache 路由解析热路径缓存：域名、路由与撤回标记
type Cache struct {
	client *Client
	ttl    time.Duration
}

// NewCache 创建缓存，ttl 为域名与路由条目的有效期
func NewCache(client *Client, ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &Cache{client: client, ttl: ttl}
}

func domainKey(name string) string {
	return domainKeyPrefix + strings.ToLower(name)
}

func routeKey(domainID, name string) string {
	return fmt.Sprintf("%s%s:%s", routeKeyPrefix, domainID, name)
}

func (c *Cache) set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return c.client.rdb.Set(ctx, key, data, ttl).Err()
}

func (c *Cache) get(ctx context.Context, key string, out interface{}) error {
	data, err := c.client.rdb.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return ErrCacheMiss
		}
		return err
	}
	return json.Unmarshal(data, out)
}

// ========== 域名缓存 ==========

// CacheDomain 按名称缓存域名
func (c *Cache) CacheDomain(ctx context.Context, d *domain.Domain) error {
	return c.set(ctx, domainKey(d.Name), d, c.ttl)
}

// GetCachedDomain 按名称读取缓存的域名
func (c *Cache) GetCachedDomain(ctx context.Context, name string) (*domain.Domain, error) {
	var d domain.Domain
	if err := c.get(ctx, domainKey(name), &d); err != nil {
		return nil, err
	}
	return &d, nil
}

// DeleteCachedDomain 删除缓存的域名
func (c *Cache) DeleteCachedDomain(ctx context.Context, name string) error {
	return c.client.rdb.Del(ctx, domainKey(name)).Err()
}

// ========== 路由缓存 ==========

// CacheRoute 按 (domain_id, name) 缓存路由；退信路由同时按服务器缓存
func (c *Cache) CacheRoute(ctx context.Context, route *domain.Route) error {
	if route.DomainID != nil {
		return c.set(ctx, routeKey(*route.DomainID, route.Name), route, c.ttl)
	}
	if route.IsReturnPath() {
		return c.CacheReturnPath(ctx, route)
	}
	return nil
}

// GetCachedRoute 读取缓存的路由
func (c *Cache) GetCachedRoute(ctx context.Context, domainID, name string) (*domain.Route, error) {
	var route domain.Route
	if err := c.get(ctx, routeKey(domainID, name), &route); err != nil {
		return nil, err
	}
	return &route, nil
}

// CacheReturnPath 缓存服务器的退信路由
func (c *Cache) CacheReturnPath(ctx context.Context, route *domain.Route) error {
	return c.set(ctx, returnPathKeyPrefix+route.ServerID, route, c.ttl)
}

// GetCachedReturnPath 读取服务器的退信路由
func (c *Cache) GetCachedReturnPath(ctx context.Context, serverID string) (*domain.Route, error) {
	var route domain.Route
	if err := c.get(ctx, returnPathKeyPrefix+serverID, &route); err != nil {
		return nil, err
	}
	return &route, nil
}

// InvalidateRoute 删除路由相关的全部缓存键
func (c *Cache) InvalidateRoute(ctx context.Context, route *domain.Route) error {
	keys := []string{returnPathKeyPrefix + route.ServerID}
	if route.DomainID != nil {
		keys = append(keys, routeKey(*route.DomainID, route.Name))
	}
	return c.client.rdb.Del(ctx, keys...).Err()
}

// ========== 撤回标记 ==========

// MarkWithdrawn 记录撤回标记，ttl <= 0 表示永不过期
func (c *Cache) MarkWithdrawn(ctx context.Context, messageID string, ttl time.Duration) error {
	if ttl < 0 {
		ttl = 0
	}
	return c.client.rdb.Set(ctx, withdrawnKeyPrefix+messageID, time.Now().UTC().Unix(), ttl).Err()
}

// IsWithdrawn 撤回标记是否存在
func (c *Cache) IsWithdrawn(ctx context.Context, messageID string) (bool, error) {
	n, err := c.client.rdb.Exists(ctx, withdrawnKeyPrefix+messageID).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

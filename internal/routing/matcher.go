package routing

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"mailroute/backend/internal/domain"
	"mailroute/backend/internal/monitoring"
)

// MatchKind 匹配方式
type MatchKind string

const (
	MatchExact      MatchKind = "exact"
	MatchWildcard   MatchKind = "wildcard"
	MatchReturnPath MatchKind = "return_path"
	MatchNone       MatchKind = "none"
)

// Lookup 路由匹配需要的只读查询，实现方需保证并发安全
type Lookup interface {
	GetDomainByName(ctx context.Context, name string) (*domain.Domain, error)
	FindRouteByDomainAndName(ctx context.Context, domainID, name string) (*domain.Route, error)
	FindReturnPathRoute(ctx context.Context, serverID string) (*domain.Route, error)
}

// Match 匹配结果
type Match struct {
	Route  *domain.Route
	Domain *domain.Domain // 退信路由可能为 nil
	Kind   MatchKind
}

// Matcher 将收件人映射到路由：精确 > 通配 > 无
type Matcher struct {
	lookup  Lookup
	logger  *zap.Logger
	metrics *monitoring.Metrics
}

// NewMatcher 创建路由匹配器
func NewMatcher(lookup Lookup, logger *zap.Logger, metrics *monitoring.Metrics) *Matcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Matcher{lookup: lookup, logger: logger, metrics: metrics}
}

// CanonicalLocalPart 规范化本地部分：去除空白并转小写，不处理 +tag
func CanonicalLocalPart(localPart string) string {
	return strings.ToLower(strings.TrimSpace(localPart))
}

// Resolve 解析收件人对应的路由，找不到时 ok 为 false 且 err 为 nil
func (m *Matcher) Resolve(ctx context.Context, domainName, localPart string) (*Match, bool, error) {
	name := strings.ToLower(strings.TrimSpace(domainName))
	local := CanonicalLocalPart(localPart)

	d, err := m.lookup.GetDomainByName(ctx, name)
	if err != nil {
		if errors.Is(err, domain.ErrDomainNotFound) {
			m.record(MatchNone)
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("lookup domain %s: %w", name, err)
	}

	if local != "" {
		route, err := m.lookup.FindRouteByDomainAndName(ctx, d.ID, local)
		switch {
		case err == nil:
			m.record(MatchExact)
			return &Match{Route: route, Domain: d, Kind: MatchExact}, true, nil
		case !errors.Is(err, domain.ErrRouteNotFound):
			return nil, false, fmt.Errorf("lookup route %s@%s: %w", local, name, err)
		}
	}

	route, err := m.lookup.FindRouteByDomainAndName(ctx, d.ID, domain.WildcardName)
	switch {
	case err == nil:
		m.record(MatchWildcard)
		return &Match{Route: route, Domain: d, Kind: MatchWildcard}, true, nil
	case !errors.Is(err, domain.ErrRouteNotFound):
		return nil, false, fmt.Errorf("lookup wildcard route @%s: %w", name, err)
	}

	m.logger.Debug("no route",
		zap.String("local_part", local),
		zap.String("domain", name),
	)
	m.record(MatchNone)
	return nil, false, nil
}

// ResolveReturnPath 查找服务器的退信路由
func (m *Matcher) ResolveReturnPath(ctx context.Context, serverID string) (*Match, bool, error) {
	route, err := m.lookup.FindReturnPathRoute(ctx, serverID)
	if err != nil {
		if errors.Is(err, domain.ErrRouteNotFound) {
			m.record(MatchNone)
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("lookup return path route for %s: %w", serverID, err)
	}

	m.record(MatchReturnPath)
	return &Match{Route: route, Kind: MatchReturnPath}, true, nil
}

func (m *Matcher) record(kind MatchKind) {
	m.metrics.RecordRouteResolution(string(kind))
}

package domain

import (
	"context"
	"errors"
	"net/mail"
	"regexp"
	"strings"
)

// 验证相关的错误定义
var (
	ErrInvalidEmail     = errors.New("invalid email format")
	ErrEmailTooLong     = errors.New("email address too long")
	ErrLocalPartTooLong = errors.New("local part too long (max 64 chars)")
	ErrDomainTooLong    = errors.New("domain too long (max 253 chars)")
	ErrInvalidDomain    = errors.New("invalid domain format")
)

// 验证常量
const (
	// RFC 5322 邮箱地址长度限制
	MaxEmailLength     = 254
	MaxLocalPartLength = 64
	MaxDomainLength    = 253
)

// 字段校验消息
const (
	MsgBlank               = "can't be blank"
	MsgInvalid             = "is invalid"
	MsgNotVerified         = "has not been verified yet"
	MsgTaken               = "has already been taken"
	MsgNotInList           = "is not included in the list"
	MsgReturnPathNeedsHTTP = "Return path routes must point to an HTTP endpoint"
)

var (
	// 路由名称：小写字母、数字、点、下划线、连字符
	routeNameRegex = regexp.MustCompile(`^[a-z0-9._-]+$`)

	// 域名验证（支持子域名）
	domainRegex = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9-]{0,61}[a-zA-Z0-9]?(\.[a-zA-Z0-9][a-zA-Z0-9-]{0,61}[a-zA-Z0-9]?)*$`)
)

// ValidRouteName 判断路由名称是否合法（含通配与退信保留名）
func ValidRouteName(name string) bool {
	if name == WildcardName || name == ReturnPathName {
		return true
	}
	return routeNameRegex.MatchString(name)
}

// EmailValidator 邮箱验证器
type EmailValidator struct{}

// NewEmailValidator 创建邮箱验证器
func NewEmailValidator() *EmailValidator {
	return &EmailValidator{}
}

// ValidateEmail 完整验证邮箱地址
func (v *EmailValidator) ValidateEmail(email string) error {
	email = strings.TrimSpace(strings.ToLower(email))

	if len(email) > MaxEmailLength {
		return ErrEmailTooLong
	}

	if _, err := mail.ParseAddress(email); err != nil {
		return ErrInvalidEmail
	}

	localPart, domainName, ok := SplitAddress(email)
	if !ok {
		return ErrInvalidEmail
	}
	if len(localPart) > MaxLocalPartLength {
		return ErrLocalPartTooLong
	}

	return v.ValidateDomain(domainName)
}

// ValidateDomain 验证域名
func (v *EmailValidator) ValidateDomain(domain string) error {
	if domain == "" {
		return ErrInvalidDomain
	}

	if len(domain) > MaxDomainLength {
		return ErrDomainTooLong
	}

	if !domainRegex.MatchString(domain) {
		return ErrInvalidDomain
	}

	// 每个标签不超过63字符
	for _, label := range strings.Split(domain, ".") {
		if len(label) > 63 {
			return ErrInvalidDomain
		}
	}

	return nil
}

// RouteLookup 路由校验所需的只读查询
type RouteLookup interface {
	GetServer(ctx context.Context, id string) (*Server, error)
	GetDomain(ctx context.Context, id string) (*Domain, error)
	GetEndpoint(ctx context.Context, ref EndpointRef) (Endpoint, error)
	FindRouteByDomainAndName(ctx context.Context, domainID, name string) (*Route, error)
	FindReturnPathRoute(ctx context.Context, serverID string) (*Route, error)
}

// RouteValidator 路由配置校验器
type RouteValidator struct {
	lookup RouteLookup
}

// NewRouteValidator 创建路由校验器
func NewRouteValidator(lookup RouteLookup) *RouteValidator {
	return &RouteValidator{lookup: lookup}
}

// Validate 校验路由，字段问题聚合为 *ValidationError，存储故障原样返回
func (v *RouteValidator) Validate(ctx context.Context, route *Route) error {
	ve := &ValidationError{}

	switch {
	case route.Name == "":
		ve.Add("name", MsgBlank)
	case !ValidRouteName(route.Name):
		ve.Add("name", MsgInvalid)
	}

	if !route.Mode.Valid() {
		ve.Add("mode", MsgNotInList)
	}
	if !route.SpamMode.Valid() {
		ve.Add("spam_mode", MsgNotInList)
	}

	server, err := v.lookup.GetServer(ctx, route.ServerID)
	if err != nil {
		if !errors.Is(err, ErrServerNotFound) {
			return err
		}
		ve.Add("server_id", MsgInvalid)
		return ve
	}

	if err := v.validateDomain(ctx, route, server, ve); err != nil {
		return err
	}
	if err := v.validateEndpoint(ctx, route, ve); err != nil {
		return err
	}
	if err := v.validateUniqueness(ctx, route, ve); err != nil {
		return err
	}

	return ve.OrNil()
}

func (v *RouteValidator) validateDomain(ctx context.Context, route *Route, server *Server, ve *ValidationError) error {
	if route.DomainID == nil || *route.DomainID == "" {
		if !route.IsReturnPath() {
			ve.Add("domain_id", MsgBlank)
		}
		return nil
	}

	d, err := v.lookup.GetDomain(ctx, *route.DomainID)
	if err != nil {
		if errors.Is(err, ErrDomainNotFound) {
			ve.Add("domain", MsgInvalid)
			return nil
		}
		return err
	}

	// 两级归属：域名 -> 服务器 -> 组织
	if !d.ReachableFrom(server) {
		ve.Add("domain", MsgInvalid)
		return nil
	}
	if !d.IsVerified() {
		ve.Add("domain", MsgNotVerified)
	}
	return nil
}

func (v *RouteValidator) validateEndpoint(ctx context.Context, route *Route, ve *ValidationError) error {
	ref, ok := route.Endpoint()
	if !ok {
		if route.Mode == ModeEndpoint {
			ve.Add("endpoint", MsgBlank)
		}
		return nil
	}

	if route.IsReturnPath() && ref.Type != EndpointHTTP {
		ve.Add("", MsgReturnPathNeedsHTTP)
		return nil
	}

	ep, err := v.lookup.GetEndpoint(ctx, ref)
	if err != nil {
		if errors.Is(err, ErrEndpointNotFound) {
			ve.Add("endpoint", MsgInvalid)
			return nil
		}
		return err
	}
	if ep.OwnerID() != route.ServerID {
		ve.Add("endpoint", MsgInvalid)
	}
	return nil
}

func (v *RouteValidator) validateUniqueness(ctx context.Context, route *Route, ve *ValidationError) error {
	if route.Name == "" {
		return nil
	}

	var (
		existing *Route
		err      error
	)
	switch {
	case route.DomainID != nil && *route.DomainID != "":
		existing, err = v.lookup.FindRouteByDomainAndName(ctx, *route.DomainID, route.Name)
	case route.IsReturnPath():
		existing, err = v.lookup.FindReturnPathRoute(ctx, route.ServerID)
	default:
		return nil
	}

	if err != nil {
		if errors.Is(err, ErrRouteNotFound) {
			return nil
		}
		return err
	}
	if existing != nil && existing.ID != route.ID {
		ve.Add("name", MsgTaken)
	}
	return nil
}

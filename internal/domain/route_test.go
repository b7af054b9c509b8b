package domain

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRouteDescription(t *testing.T) {
	d := &Domain{Name: "example.com"}

	t.Run("退信路由", func(t *testing.T) {
		r := &Route{Name: ReturnPathName}
		assert.Equal(t, "Return Path", r.Description(d))
		assert.True(t, r.IsReturnPath())
	})

	t.Run("普通路由", func(t *testing.T) {
		r := &Route{Name: "test"}
		assert.Equal(t, "test@example.com", r.Description(d))
		assert.False(t, r.IsWildcard())
	})

	t.Run("通配路由", func(t *testing.T) {
		r := &Route{Name: "*"}
		assert.True(t, r.IsWildcard())
	})
}

func TestRouteForwardAddress(t *testing.T) {
	r := &Route{Token: "ab12cd34"}
	assert.Equal(t, "ab12cd34@example.com", r.ForwardAddress("Example.COM"))
}

func TestParseEndpointSpec(t *testing.T) {
	t.Run("仅设置模式", func(t *testing.T) {
		r := &Route{EndpointType: EndpointHTTP, EndpointID: "old"}
		spec, err := ParseEndpointSpec("Bounce")
		require.NoError(t, err)
		spec.Apply(r)

		assert.Equal(t, ModeBounce, r.Mode)
		_, ok := r.Endpoint()
		assert.False(t, ok)
	})

	t.Run("设置端点", func(t *testing.T) {
		r := &Route{}
		spec, err := ParseEndpointSpec("HTTPEndpoint#abc-123")
		require.NoError(t, err)
		spec.Apply(r)

		assert.Equal(t, ModeEndpoint, r.Mode)
		ref, ok := r.Endpoint()
		require.True(t, ok)
		assert.Equal(t, EndpointRef{Type: EndpointHTTP, ID: "abc-123"}, ref)
	})

	t.Run("空字符串清空", func(t *testing.T) {
		r := &Route{Mode: ModeEndpoint, EndpointType: EndpointSMTP, EndpointID: "x"}
		spec, err := ParseEndpointSpec("")
		require.NoError(t, err)
		spec.Apply(r)

		assert.Equal(t, RouteMode(""), r.Mode)
		_, ok := r.Endpoint()
		assert.False(t, ok)
	})

	t.Run("非法端点类型", func(t *testing.T) {
		_, err := ParseEndpointSpec("InvalidClass#123")
		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrInvalidEndpointClass))
	})
}

func TestRouteClone(t *testing.T) {
	r := &Route{ID: "r1", DomainID: strPtr("d1")}
	cp := r.Clone()
	*cp.DomainID = "d2"

	assert.Equal(t, "d1", *r.DomainID)
}

func TestDomainReachableFrom(t *testing.T) {
	server := &Server{ID: "srv-1", OrganizationID: "org-1"}

	tests := []struct {
		name   string
		domain *Domain
		want   bool
	}{
		{"服务器自有域名", &Domain{OwnerType: OwnerServer, OwnerID: "srv-1"}, true},
		{"所属组织的域名", &Domain{OwnerType: OwnerOrganization, OwnerID: "org-1"}, true},
		{"其他服务器的域名", &Domain{OwnerType: OwnerServer, OwnerID: "srv-2"}, false},
		{"其他组织的域名", &Domain{OwnerType: OwnerOrganization, OwnerID: "org-2"}, false},
		{"未知归属类型", &Domain{OwnerType: "User", OwnerID: "srv-1"}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.domain.ReachableFrom(server))
		})
	}
}

func TestServerThreshold(t *testing.T) {
	assert.Equal(t, 3.5, (&Server{SpamThreshold: 3.5}).Threshold(5))
	assert.Equal(t, 7.0, (&Server{}).Threshold(7))
	assert.Equal(t, DefaultSpamThreshold, (*Server)(nil).Threshold(0))
}

func TestSplitAddress(t *testing.T) {
	local, d, ok := SplitAddress("<John.Doe@Example.COM>")
	require.True(t, ok)
	assert.Equal(t, "john.doe", local)
	assert.Equal(t, "example.com", d)

	_, _, ok = SplitAddress("no-at-sign")
	assert.False(t, ok)
}

func TestEndpointDefaults(t *testing.T) {
	h := &HTTPEndpoint{}
	h.ApplyDefaults()
	assert.Equal(t, EncodingBodyAsJSON, h.Encoding)
	assert.Equal(t, FormatHash, h.Format)
	assert.Equal(t, DefaultHTTPTimeout, h.Timeout)

	s := &SMTPEndpoint{Hostname: "mx.example.com"}
	s.ApplyDefaults()
	assert.Equal(t, "mx.example.com:25", s.Addr())
	assert.Equal(t, SSLModeAuto, s.SSLMode)
}

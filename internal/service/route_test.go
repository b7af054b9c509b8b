package service

import (
	"context"
	"errors"
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mailroute/backend/internal/domain"
)

var tokenPattern = regexp.MustCompile(`^[a-z0-9]{8}$`)

func TestRouteServiceCreate(t *testing.T) {
	ctx := context.Background()

	t.Run("按端点 ID 绑定并切换为 Endpoint 模式", func(t *testing.T) {
		f := newFixture(t)
		ep := f.httpEndpoint(t, "app")

		route, err := f.routes.Create(ctx, f.server.ID, RouteInput{
			Name:       ptr("info"),
			DomainID:   ptr(f.domain.ID),
			EndpointID: ep.ID,
		})
		require.NoError(t, err)

		assert.Equal(t, domain.ModeEndpoint, route.Mode)
		assert.Equal(t, domain.SpamMark, route.SpamMode)
		assert.Regexp(t, tokenPattern, route.Token)
		ref, ok := route.Endpoint()
		require.True(t, ok)
		assert.Equal(t, ep.Ref(), ref)
	})

	t.Run("单字符串设置模式", func(t *testing.T) {
		f := newFixture(t)
		route, err := f.routes.Create(ctx, f.server.ID, RouteInput{
			Name:         ptr("*"),
			DomainID:     ptr(f.domain.ID),
			EndpointSpec: ptr("Bounce"),
		})
		require.NoError(t, err)
		assert.Equal(t, domain.ModeBounce, route.Mode)
		_, ok := route.Endpoint()
		assert.False(t, ok)
	})

	t.Run("非法端点类名", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.routes.Create(ctx, f.server.ID, RouteInput{
			Name:         ptr("info"),
			DomainID:     ptr(f.domain.ID),
			EndpointSpec: ptr("FooEndpoint#123"),
		})
		assert.ErrorIs(t, err, domain.ErrInvalidEndpointClass)
	})

	t.Run("端点不存在", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.routes.Create(ctx, f.server.ID, RouteInput{
			Name: ptr("info"), DomainID: ptr(f.domain.ID), EndpointID: "missing",
		})
		assert.ErrorIs(t, err, domain.ErrEndpointNotFound)
	})

	t.Run("重名路由", func(t *testing.T) {
		f := newFixture(t)
		in := RouteInput{Name: ptr("info"), DomainID: ptr(f.domain.ID), Mode: ptr(domain.ModeAccept)}
		_, err := f.routes.Create(ctx, f.server.ID, in)
		require.NoError(t, err)

		_, err = f.routes.Create(ctx, f.server.ID, in)
		var ve *domain.ValidationError
		require.True(t, errors.As(err, &ve))
		assert.Equal(t, []string{domain.MsgTaken}, ve.Messages("name"))
	})

	t.Run("未验证域名", func(t *testing.T) {
		f := newFixture(t)
		unverified, err := f.domains.Create(ctx, DomainInput{Name: "pending.example", OwnerType: domain.OwnerServer, OwnerID: f.server.ID})
		require.NoError(t, err)

		_, err = f.routes.Create(ctx, f.server.ID, RouteInput{
			Name: ptr("info"), DomainID: ptr(unverified.ID), Mode: ptr(domain.ModeAccept),
		})
		assert.ErrorIs(t, err, domain.ErrConfigurationInvalid)
	})

	t.Run("退信路由无需域名", func(t *testing.T) {
		f := newFixture(t)
		ep := f.httpEndpoint(t, "bounces")
		route, err := f.routes.Create(ctx, f.server.ID, RouteInput{
			Name: ptr(domain.ReturnPathName), EndpointID: ep.ID, EndpointType: "http",
		})
		require.NoError(t, err)
		assert.True(t, route.IsReturnPath())
		assert.Nil(t, route.DomainID)
	})
}

func TestRouteServiceUpdate(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	route, err := f.routes.Create(ctx, f.server.ID, RouteInput{
		Name: ptr("info"), DomainID: ptr(f.domain.ID), Mode: ptr(domain.ModeAccept),
	})
	require.NoError(t, err)

	t.Run("校验失败时保持原状态", func(t *testing.T) {
		_, err := f.routes.Update(ctx, f.server.ID, route.ID, RouteInput{Name: ptr("Bad Name!")})
		assert.ErrorIs(t, err, domain.ErrConfigurationInvalid)

		stored, err := f.routes.Get(ctx, f.server.ID, route.ID)
		require.NoError(t, err)
		assert.Equal(t, "info", stored.Name)
	})

	t.Run("令牌不变", func(t *testing.T) {
		updated, err := f.routes.Update(ctx, f.server.ID, route.ID, RouteInput{SpamMode: ptr(domain.SpamFail)})
		require.NoError(t, err)
		assert.Equal(t, route.Token, updated.Token)
		assert.Equal(t, domain.SpamFail, updated.SpamMode)
	})

	t.Run("其他服务器不可见", func(t *testing.T) {
		_, err := f.routes.Update(ctx, "other", route.ID, RouteInput{})
		assert.ErrorIs(t, err, domain.ErrRouteNotFound)
	})
}

func TestRouteServiceAdditionalEndpoints(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	primary := f.httpEndpoint(t, "primary")
	second := f.httpEndpoint(t, "second")
	smtpEP := &domain.SMTPEndpoint{ServerID: f.server.ID, Name: "relay", Hostname: "mx.example.net"}
	require.NoError(t, f.endpoints.CreateSMTP(ctx, smtpEP))

	route, err := f.routes.Create(ctx, f.server.ID, RouteInput{
		Name: ptr("info"), DomainID: ptr(f.domain.ID), EndpointID: primary.ID,
	})
	require.NoError(t, err)

	b1, err := f.routes.AddAdditionalEndpoint(ctx, f.server.ID, route.ID, second.ID, "")
	require.NoError(t, err)
	b2, err := f.routes.AddAdditionalEndpoint(ctx, f.server.ID, route.ID, smtpEP.ID, "SMTPEndpoint")
	require.NoError(t, err)
	assert.Equal(t, 0, b1.Position)
	assert.Equal(t, 1, b2.Position)

	t.Run("重复绑定", func(t *testing.T) {
		_, err := f.routes.AddAdditionalEndpoint(ctx, f.server.ID, route.ID, second.ID, "")
		assert.ErrorIs(t, err, domain.ErrBindingExists)
		_, err = f.routes.AddAdditionalEndpoint(ctx, f.server.ID, route.ID, primary.ID, "")
		assert.ErrorIs(t, err, domain.ErrBindingExists)
	})

	t.Run("详情包含附加端点", func(t *testing.T) {
		details, err := f.routes.Details(ctx, f.server.ID, route.ID)
		require.NoError(t, err)
		assert.Equal(t, "info@example.com", details.Description())
		assert.Equal(t, "primary", details.Endpoint.Label())
		require.Len(t, details.Additional, 2)
		assert.Equal(t, "second", details.Additional[0].Endpoint.Label())
		assert.Equal(t, "relay", details.Additional[1].Endpoint.Label())
	})

	t.Run("解除绑定", func(t *testing.T) {
		require.NoError(t, f.routes.RemoveAdditionalEndpoint(ctx, f.server.ID, route.ID, b1.ID))
		list, err := f.routes.ListAdditionalEndpoints(ctx, f.server.ID, route.ID)
		require.NoError(t, err)
		require.Len(t, list, 1)
		assert.Equal(t, b2.ID, list[0].ID)
	})

	t.Run("删除路由级联删除绑定", func(t *testing.T) {
		require.NoError(t, f.routes.Delete(ctx, f.server.ID, route.ID))
		list, err := f.store.ListAdditionalEndpoints(ctx, route.ID)
		require.NoError(t, err)
		assert.Empty(t, list)
	})
}

func TestRandomToken(t *testing.T) {
	seen := map[string]bool{}
	for i := 0; i < 100; i++ {
		token, err := randomToken(domain.TokenLength)
		require.NoError(t, err)
		assert.Regexp(t, tokenPattern, token)
		seen[token] = true
	}
	assert.Greater(t, len(seen), 90)
}

// 每个字符出现频率应接近均匀分布
func TestRandomTokenDistribution(t *testing.T) {
	const tokens = 20000
	counts := map[rune]int{}
	for i := 0; i < tokens; i++ {
		token, err := randomToken(domain.TokenLength)
		require.NoError(t, err)
		for _, r := range token {
			counts[r]++
		}
	}

	require.Len(t, counts, len(tokenAlphabet))
	expected := float64(tokens*domain.TokenLength) / float64(len(tokenAlphabet))
	for _, r := range tokenAlphabet {
		assert.InDelta(t, expected, float64(counts[r]), expected*0.08, "char %q", r)
	}
}

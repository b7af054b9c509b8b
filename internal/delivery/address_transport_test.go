package delivery

import (
	"context"
	"errors"
	"net/textproto"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mailroute/backend/internal/domain"
)

func TestLoopbackTransport(t *testing.T) {
	ctx := context.Background()
	msg := &domain.Message{ID: "m1", RcptTo: "info@example.com", Headers: textproto.MIMEHeader{}}

	t.Run("改写收件人后重投", func(t *testing.T) {
		var seen *domain.Message
		tr := NewLoopbackTransport(3, nil)
		tr.SetInjector(InjectorFunc(func(_ context.Context, m *domain.Message) (bool, string, error) {
			seen = m
			return true, "accepted", nil
		}))

		out := tr.SendAddress(ctx, &AddressRequest{Address: "sales@example.com", Message: msg})

		require.True(t, out.Succeeded())
		assert.Equal(t, "sales@example.com", seen.RcptTo)
		assert.NotEqual(t, "m1", seen.ID)
		assert.Equal(t, []string{"m1"}, seen.Headers.Values(HopHeader))
		// 原邮件不被修改
		assert.Empty(t, msg.Headers.Values(HopHeader))
	})

	t.Run("超过跳数上限", func(t *testing.T) {
		tr := NewLoopbackTransport(2, nil)
		tr.SetInjector(InjectorFunc(func(context.Context, *domain.Message) (bool, string, error) {
			t.Fatal("should not reinject")
			return false, "", nil
		}))
		looped := &domain.Message{ID: "m2", Headers: textproto.MIMEHeader{HopHeader: {"a", "b"}}}

		out := tr.SendAddress(ctx, &AddressRequest{Address: "x@example.com", Message: looped})
		assert.Equal(t, domain.DeliveryPermanent, out.Status)
	})

	t.Run("被拒绝为永久失败", func(t *testing.T) {
		tr := NewLoopbackTransport(0, nil)
		tr.SetInjector(InjectorFunc(func(context.Context, *domain.Message) (bool, string, error) {
			return false, "no route", nil
		}))

		out := tr.SendAddress(ctx, &AddressRequest{Address: "x@example.com", Message: msg})
		assert.Equal(t, domain.DeliveryPermanent, out.Status)
		assert.Equal(t, "no route", out.Detail)
	})

	t.Run("重投出错为临时失败", func(t *testing.T) {
		tr := NewLoopbackTransport(0, nil)
		tr.SetInjector(InjectorFunc(func(context.Context, *domain.Message) (bool, string, error) {
			return false, "", errors.New("store down")
		}))

		out := tr.SendAddress(ctx, &AddressRequest{Address: "x@example.com", Message: msg})
		assert.Equal(t, domain.DeliveryTransient, out.Status)
	})

	t.Run("未设置入口", func(t *testing.T) {
		out := NewLoopbackTransport(0, nil).SendAddress(ctx, &AddressRequest{Address: "x@example.com", Message: msg})
		assert.Equal(t, domain.DeliveryTransient, out.Status)
	})
}

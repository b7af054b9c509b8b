package delivery

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mailroute/backend/internal/domain"
)

type fakeSource struct {
	endpoints map[domain.EndpointRef]domain.Endpoint
	bindings  map[string][]domain.AdditionalRouteEndpoint
	listErr   error
}

func (f *fakeSource) GetEndpoint(_ context.Context, ref domain.EndpointRef) (domain.Endpoint, error) {
	ep, ok := f.endpoints[ref]
	if !ok {
		return nil, domain.ErrEndpointNotFound
	}
	return ep, nil
}

func (f *fakeSource) ListAdditionalEndpoints(_ context.Context, routeID string) ([]domain.AdditionalRouteEndpoint, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	return f.bindings[routeID], nil
}

type fakeHTTP struct {
	mu    sync.Mutex
	calls []string
	// 按 URL 决定行为
	behave map[string]func(ctx context.Context) Outcome
}

func (f *fakeHTTP) SendHTTP(ctx context.Context, req *HTTPRequest) Outcome {
	f.mu.Lock()
	f.calls = append(f.calls, req.URL)
	fn := f.behave[req.URL]
	f.mu.Unlock()
	if fn == nil {
		return Success("ok")
	}
	return fn(ctx)
}

type fakeRecorder struct {
	mu      sync.Mutex
	records []domain.Delivery
}

func (f *fakeRecorder) RecordDeliveries(_ context.Context, deliveries []domain.Delivery) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.records = append(f.records, deliveries...)
	return nil
}

type fakeWithdrawals map[string]bool

func (f fakeWithdrawals) IsWithdrawn(_ context.Context, id string) (bool, error) {
	return f[id], nil
}

func httpEndpoint(id, url string, timeout int) *domain.HTTPEndpoint {
	return &domain.HTTPEndpoint{ID: id, ServerID: "srv", Name: id, URL: url, Timeout: timeout}
}

func fixture(eps ...*domain.HTTPEndpoint) (*fakeSource, *domain.Route) {
	src := &fakeSource{
		endpoints: map[domain.EndpointRef]domain.Endpoint{},
		bindings:  map[string][]domain.AdditionalRouteEndpoint{},
	}
	for _, ep := range eps {
		src.endpoints[ep.Ref()] = ep
	}
	route := &domain.Route{ID: "r1", ServerID: "srv", Name: "info", Mode: domain.ModeEndpoint}
	if len(eps) > 0 {
		route.SetEndpoint(eps[0].Ref())
	}
	for i, ep := range eps[1:] {
		src.bindings["r1"] = append(src.bindings["r1"], domain.AdditionalRouteEndpoint{
			ID: ep.ID + "-b", RouteID: "r1", EndpointType: domain.EndpointHTTP, EndpointID: ep.ID, Position: i,
		})
	}
	return src, route
}

func TestDispatcherFanOut(t *testing.T) {
	ctx := context.Background()
	msg := &domain.Message{ID: "m1", RcptTo: "info@example.com"}

	t.Run("主端点与附加端点全部投递", func(t *testing.T) {
		src, route := fixture(
			httpEndpoint("a", "http://a", 5),
			httpEndpoint("b", "http://b", 5),
			httpEndpoint("c", "http://c", 5),
		)
		transport := &fakeHTTP{}
		rec := &fakeRecorder{}
		d := NewDispatcher(src, NewFactory(Transports{HTTP: transport}, FactoryOptions{}), rec, nil, nil, nil, Options{})

		res, err := d.Dispatch(ctx, route, msg)
		require.NoError(t, err)
		require.Len(t, res.Outcomes, 3)
		assert.True(t, res.Outcomes[0].Primary)
		assert.False(t, res.Outcomes[1].Primary)
		assert.Equal(t, "b", res.Outcomes[1].Endpoint.ID)
		assert.Equal(t, "c", res.Outcomes[2].Endpoint.ID)
		assert.Equal(t, 3, res.Succeeded())
		assert.ElementsMatch(t, []string{"http://a", "http://b", "http://c"}, transport.calls)
		assert.Len(t, rec.records, 3)
	})

	t.Run("附加端点超时不影响其他端点", func(t *testing.T) {
		src, route := fixture(
			httpEndpoint("a", "http://a", 5),
			httpEndpoint("slow", "http://slow", 1),
			httpEndpoint("c", "http://c", 5),
		)
		transport := &fakeHTTP{behave: map[string]func(ctx context.Context) Outcome{
			"http://slow": func(ctx context.Context) Outcome {
				<-ctx.Done()
				return Transient("timed out", 0)
			},
		}}
		d := NewDispatcher(src, NewFactory(Transports{HTTP: transport}, FactoryOptions{}), nil, nil, nil, nil, Options{})

		start := time.Now()
		res, err := d.Dispatch(ctx, route, msg)
		require.NoError(t, err)

		assert.Less(t, time.Since(start), 3*time.Second)
		assert.Equal(t, domain.DeliverySuccess, res.Outcomes[0].Status)
		assert.Equal(t, domain.DeliveryTransient, res.Outcomes[1].Status)
		assert.Equal(t, domain.DeliverySuccess, res.Outcomes[2].Status)
	})

	t.Run("不理会取消的端点也会被超时截断", func(t *testing.T) {
		src, route := fixture(httpEndpoint("a", "http://a", 5), httpEndpoint("stuck", "http://stuck", 1))
		release := make(chan struct{})
		defer close(release)
		transport := &fakeHTTP{behave: map[string]func(ctx context.Context) Outcome{
			"http://stuck": func(context.Context) Outcome {
				<-release
				return Success("late")
			},
		}}
		d := NewDispatcher(src, NewFactory(Transports{HTTP: transport}, FactoryOptions{}), nil, nil, nil, nil, Options{})

		res, err := d.Dispatch(ctx, route, msg)
		require.NoError(t, err)
		assert.Equal(t, domain.DeliveryTransient, res.Outcomes[1].Status)
		assert.Contains(t, res.Outcomes[1].Detail, "timed out")
	})

	t.Run("缺失的端点为永久失败", func(t *testing.T) {
		src, route := fixture(httpEndpoint("a", "http://a", 5))
		src.bindings["r1"] = []domain.AdditionalRouteEndpoint{{ID: "x", RouteID: "r1", EndpointType: domain.EndpointHTTP, EndpointID: "gone"}}
		d := NewDispatcher(src, NewFactory(Transports{HTTP: &fakeHTTP{}}, FactoryOptions{}), nil, nil, nil, nil, Options{})

		res, err := d.Dispatch(ctx, route, msg)
		require.NoError(t, err)
		require.Len(t, res.Outcomes, 2)
		assert.True(t, res.Outcomes[0].Succeeded())
		assert.Equal(t, domain.DeliveryPermanent, res.Outcomes[1].Status)
	})

	t.Run("其他服务器的端点不投递", func(t *testing.T) {
		foreign := httpEndpoint("a", "http://a", 5)
		foreign.ServerID = "other"
		src, route := fixture(foreign)
		transport := &fakeHTTP{}
		d := NewDispatcher(src, NewFactory(Transports{HTTP: transport}, FactoryOptions{}), nil, nil, nil, nil, Options{})

		res, err := d.Dispatch(ctx, route, msg)
		require.NoError(t, err)
		assert.Equal(t, domain.DeliveryPermanent, res.Outcomes[0].Status)
		assert.Empty(t, transport.calls)
	})

	t.Run("读取绑定失败时不投递", func(t *testing.T) {
		src, route := fixture(httpEndpoint("a", "http://a", 5))
		src.listErr = errors.New("db down")
		transport := &fakeHTTP{}
		d := NewDispatcher(src, NewFactory(Transports{HTTP: transport}, FactoryOptions{}), nil, nil, nil, nil, Options{})

		_, err := d.Dispatch(ctx, route, msg)
		assert.Error(t, err)
		assert.Empty(t, transport.calls)
	})
}

func TestDispatcherWithdrawal(t *testing.T) {
	src, route := fixture(httpEndpoint("a", "http://a", 5), httpEndpoint("b", "http://b", 5))
	transport := &fakeHTTP{}
	rec := &fakeRecorder{}
	d := NewDispatcher(src, NewFactory(Transports{HTTP: transport}, FactoryOptions{}), rec,
		fakeWithdrawals{"m1": true}, nil, nil, Options{})

	res, err := d.Dispatch(context.Background(), route, &domain.Message{ID: "m1"})
	require.NoError(t, err)

	// 进行中的投递照常完成，但不记录结果
	assert.Len(t, transport.calls, 2)
	assert.True(t, res.Withdrawn)
	assert.Empty(t, rec.records)
}

func TestFactory(t *testing.T) {
	f := NewFactory(Transports{HTTP: &fakeHTTP{}}, FactoryOptions{SMTPTimeout: time.Second})

	t.Run("HTTP 端点使用自身超时", func(t *testing.T) {
		d, err := f.For(httpEndpoint("a", "http://a", 7))
		require.NoError(t, err)
		assert.Equal(t, 7*time.Second, d.Timeout())
	})

	t.Run("缺少传输实现", func(t *testing.T) {
		_, err := f.For(&domain.SMTPEndpoint{ID: "s", Hostname: "mx"})
		assert.Error(t, err)
	})
}

type captureSMTP struct{ req *SMTPRequest }

func (c *captureSMTP) SendSMTP(_ context.Context, req *SMTPRequest) Outcome {
	c.req = req
	return Success("ok")
}

func TestSMTPDelivererRequest(t *testing.T) {
	capture := &captureSMTP{}
	f := NewFactory(Transports{SMTP: capture}, FactoryOptions{SMTPTimeout: 10 * time.Second})
	d, err := f.For(&domain.SMTPEndpoint{ID: "s", ServerID: "srv", Hostname: "mx.example.net"})
	require.NoError(t, err)

	msg := &domain.Message{MailFrom: "a@x.com", RcptTo: "b@y.com", Raw: []byte("Subject: hi\r\n\r\nbody"), Spam: true, SpamScore: 6.5}
	out := d.Deliver(context.Background(), msg)

	require.True(t, out.Succeeded())
	assert.Equal(t, "mx.example.net", capture.req.Host)
	assert.Equal(t, domain.DefaultSMTPPort, capture.req.Port)
	assert.Equal(t, domain.SSLModeAuto, capture.req.SSLMode)
	assert.Equal(t, []string{"b@y.com"}, capture.req.To)
	assert.Contains(t, string(capture.req.Message), "X-Mailroute-Spam: yes")
	assert.Equal(t, 10*time.Second, capture.req.Timeout)
}

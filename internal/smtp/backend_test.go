package smtp

import (
	"context"
	"errors"
	"net"
	netsmtp "net/smtp"
	"strings"
	"sync"
	"testing"
	"time"

	gosmtp "github.com/emersion/go-smtp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mailroute/backend/internal/config"
	"mailroute/backend/internal/delivery"
	"mailroute/backend/internal/disposition"
	"mailroute/backend/internal/domain"
	"mailroute/backend/internal/inspection"
	"mailroute/backend/internal/routing"
	"mailroute/backend/internal/storage/memory"
)

const rawMessage = "From: Alice <alice@remote.example>\r\n" +
	"To: info@example.com\r\n" +
	"Subject: Hello\r\n" +
	"Message-ID: <1@remote.example>\r\n" +
	"Date: Mon, 2 Jan 2006 15:04:05 -0700\r\n" +
	"\r\n" +
	"Hi there\r\n"

// recordingDispatcher 记录投递的邮件
type recordingDispatcher struct {
	mu   sync.Mutex
	msgs []*domain.Message
}

func (d *recordingDispatcher) Dispatch(_ context.Context, _ *domain.Route, msg *domain.Message) (*delivery.Result, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.msgs = append(d.msgs, msg)
	return &delivery.Result{}, nil
}

func (d *recordingDispatcher) dispatched() []*domain.Message {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]*domain.Message(nil), d.msgs...)
}

// inlineJobs 同步执行或拒绝任务
type inlineJobs struct {
	full      bool
	submitted int
}

func (j *inlineJobs) TrySubmit(task func()) bool {
	if j.full {
		return false
	}
	j.submitted++
	task()
	return true
}

type fixture struct {
	store      *memory.Store
	dispatcher *recordingDispatcher
	jobs       *inlineJobs
	backend    *Backend
}

func newFixture(t *testing.T, score float64, opts Options) *fixture {
	t.Helper()
	ctx := context.Background()
	store := memory.NewStore()

	require.NoError(t, store.SaveOrganization(ctx, &domain.Organization{ID: "org", Name: "Acme"}))
	require.NoError(t, store.SaveServer(ctx, &domain.Server{ID: "srv", OrganizationID: "org", Name: "mail", SpamThreshold: 5}))
	d := &domain.Domain{ID: "dom", Name: "example.com", OwnerType: domain.OwnerServer, OwnerID: "srv"}
	d.MarkVerified(time.Now())
	require.NoError(t, store.SaveDomain(ctx, d))

	fixed := inspection.InspectorFunc{Label: "fixed", Fn: func(_ context.Context, r *inspection.Result) error {
		if score != 0 {
			r.AddCheck("FIXED", score, "")
		}
		return nil
	}}
	pipeline := inspection.NewPipeline(inspection.NewRegistry(fixed), nil, nil)
	matcher := routing.NewMatcher(store, nil, nil)
	dispatcher := &recordingDispatcher{}
	engine := disposition.NewEngine(matcher, pipeline, dispatcher, store, disposition.Options{
		ReturnPathDomain: opts.ReturnPathDomain,
		NoRoutePolicy:    opts.NoRoutePolicy,
	}, nil, nil)

	jobs := &inlineJobs{}
	return &fixture{
		store:      store,
		dispatcher: dispatcher,
		jobs:       jobs,
		backend:    NewBackend(ctx, matcher, engine, jobs, nil, opts, nil, nil),
	}
}

func (f *fixture) route(t *testing.T, name string, mode domain.RouteMode, spamMode domain.SpamMode) {
	t.Helper()
	r := &domain.Route{ID: "r-" + name, ServerID: "srv", Name: name, Mode: mode, SpamMode: spamMode, Token: "tok" + name}
	if name != domain.ReturnPathName {
		id := "dom"
		r.DomainID = &id
	}
	require.NoError(t, f.store.SaveRoute(context.Background(), r))
}

func (f *fixture) session(t *testing.T) *session {
	t.Helper()
	s, err := f.backend.NewSession(nil)
	require.NoError(t, err)
	return s.(*session)
}

func smtpCode(t *testing.T, err error) int {
	t.Helper()
	var smtpErr *gosmtp.SMTPError
	require.True(t, errors.As(err, &smtpErr), "expected SMTPError, got %v", err)
	return smtpErr.Code
}

func TestRcpt(t *testing.T) {
	t.Run("匹配到路由", func(t *testing.T) {
		f := newFixture(t, 0, Options{})
		f.route(t, "info", domain.ModeAccept, domain.SpamMark)
		s := f.session(t)

		require.NoError(t, s.Mail("alice@remote.example", nil))
		require.NoError(t, s.Rcpt("<Info@Example.com>", nil))
		require.Len(t, s.recipients, 1)
		assert.Equal(t, "info@example.com", s.recipients[0].address)
	})

	t.Run("通配路由", func(t *testing.T) {
		f := newFixture(t, 0, Options{})
		f.route(t, domain.WildcardName, domain.ModeAccept, domain.SpamMark)

		assert.NoError(t, f.session(t).Rcpt("anyone@example.com", nil))
	})

	t.Run("无路由时拒绝", func(t *testing.T) {
		f := newFixture(t, 0, Options{})

		err := f.session(t).Rcpt("nobody@example.com", nil)
		assert.Equal(t, 550, smtpCode(t, err))
	})

	t.Run("未知域名拒绝", func(t *testing.T) {
		f := newFixture(t, 0, Options{})

		err := f.session(t).Rcpt("info@elsewhere.example", nil)
		assert.Equal(t, 550, smtpCode(t, err))
	})

	t.Run("hold 策略接收无路由收件人", func(t *testing.T) {
		f := newFixture(t, 0, Options{NoRoutePolicy: disposition.NoRouteHold})

		assert.NoError(t, f.session(t).Rcpt("nobody@example.com", nil))
	})

	t.Run("无效地址", func(t *testing.T) {
		f := newFixture(t, 0, Options{})

		err := f.session(t).Rcpt("not-an-address", nil)
		assert.Equal(t, 501, smtpCode(t, err))
	})

	t.Run("收件人数量上限", func(t *testing.T) {
		f := newFixture(t, 0, Options{MaxRecipients: 1})
		f.route(t, domain.WildcardName, domain.ModeAccept, domain.SpamMark)
		s := f.session(t)

		require.NoError(t, s.Rcpt("a@example.com", nil))
		err := s.Rcpt("b@example.com", nil)
		assert.Equal(t, 452, smtpCode(t, err))
	})

	t.Run("退信地址", func(t *testing.T) {
		f := newFixture(t, 0, Options{ReturnPathDomain: "rp.example.net"})
		s := f.session(t)

		err := s.Rcpt("srv@rp.example.net", nil)
		assert.Equal(t, 550, smtpCode(t, err))

		f.route(t, domain.ReturnPathName, domain.ModeAccept, domain.SpamMark)
		require.NoError(t, s.Rcpt("srv@rp.example.net", nil))
		assert.True(t, s.recipients[0].returnPath)
	})
}

type failingResolver struct{}

func (failingResolver) Resolve(context.Context, string, string) (*routing.Match, bool, error) {
	return nil, false, errors.New("database unavailable")
}

func (failingResolver) ResolveReturnPath(context.Context, string) (*routing.Match, bool, error) {
	return nil, false, errors.New("database unavailable")
}

func TestRcptLookupFailure(t *testing.T) {
	b := NewBackend(context.Background(), failingResolver{}, nil, nil, nil, Options{}, nil, nil)
	s, err := b.NewSession(nil)
	require.NoError(t, err)

	err = s.Rcpt("info@example.com", nil)
	assert.Equal(t, 451, smtpCode(t, err))
}

func TestData(t *testing.T) {
	t.Run("Accept 路由不投递", func(t *testing.T) {
		f := newFixture(t, 0, Options{})
		f.route(t, "info", domain.ModeAccept, domain.SpamMark)
		s := f.session(t)

		require.NoError(t, s.Rcpt("info@example.com", nil))
		require.NoError(t, s.Data(strings.NewReader(rawMessage)))
		assert.Empty(t, f.dispatcher.dispatched())
	})

	t.Run("Endpoint 路由异步投递", func(t *testing.T) {
		f := newFixture(t, 0, Options{})
		f.route(t, "info", domain.ModeEndpoint, domain.SpamMark)
		s := f.session(t)

		require.NoError(t, s.Mail("<Alice@Remote.example>", nil))
		require.NoError(t, s.Rcpt("info@example.com", nil))
		require.NoError(t, s.Data(strings.NewReader(rawMessage)))

		msgs := f.dispatcher.dispatched()
		require.Len(t, msgs, 1)
		assert.Equal(t, 1, f.jobs.submitted)
		assert.Equal(t, "alice@remote.example", msgs[0].MailFrom)
		assert.Equal(t, "info@example.com", msgs[0].RcptTo)
		assert.Equal(t, "Hello", msgs[0].Subject)
		assert.Equal(t, "srv", msgs[0].ServerID)
		assert.Equal(t, "<1@remote.example>", msgs[0].Header("Message-Id"))
	})

	t.Run("每个收件人独立的邮件副本", func(t *testing.T) {
		f := newFixture(t, 0, Options{})
		f.route(t, domain.WildcardName, domain.ModeEndpoint, domain.SpamMark)
		s := f.session(t)

		require.NoError(t, s.Rcpt("a@example.com", nil))
		require.NoError(t, s.Rcpt("b@example.com", nil))
		require.NoError(t, s.Data(strings.NewReader(rawMessage)))

		msgs := f.dispatcher.dispatched()
		require.Len(t, msgs, 2)
		assert.NotEqual(t, msgs[0].ID, msgs[1].ID)
		assert.ElementsMatch(t, []string{"a@example.com", "b@example.com"}, []string{msgs[0].RcptTo, msgs[1].RcptTo})
	})

	t.Run("队列已满时同步投递", func(t *testing.T) {
		f := newFixture(t, 0, Options{})
		f.route(t, "info", domain.ModeEndpoint, domain.SpamMark)
		f.jobs.full = true
		s := f.session(t)

		require.NoError(t, s.Rcpt("info@example.com", nil))
		require.NoError(t, s.Data(strings.NewReader(rawMessage)))
		assert.Len(t, f.dispatcher.dispatched(), 1)
	})

	t.Run("Reject 路由拒收", func(t *testing.T) {
		f := newFixture(t, 0, Options{})
		f.route(t, "info", domain.ModeReject, domain.SpamMark)
		s := f.session(t)

		require.NoError(t, s.Rcpt("info@example.com", nil))
		err := s.Data(strings.NewReader(rawMessage))
		assert.Equal(t, 550, smtpCode(t, err))
	})

	t.Run("Bounce 路由退信携带关联地址", func(t *testing.T) {
		f := newFixture(t, 0, Options{})
		f.route(t, domain.WildcardName, domain.ModeBounce, domain.SpamMark)
		s := f.session(t)

		require.NoError(t, s.Rcpt("random@example.com", nil))
		err := s.Data(strings.NewReader(rawMessage))

		var smtpErr *gosmtp.SMTPError
		require.ErrorAs(t, err, &smtpErr)
		assert.Equal(t, 550, smtpErr.Code)
		assert.Equal(t, gosmtp.EnhancedCode{5, 1, 1}, smtpErr.EnhancedCode)
		assert.Equal(t, "message bounced (tok*@example.com)", smtpErr.Message)
		assert.Empty(t, f.dispatcher.dispatched())
	})

	t.Run("部分收件人拒收时整体接收", func(t *testing.T) {
		f := newFixture(t, 0, Options{})
		f.route(t, "info", domain.ModeReject, domain.SpamMark)
		f.route(t, "sales", domain.ModeEndpoint, domain.SpamMark)
		s := f.session(t)

		require.NoError(t, s.Rcpt("info@example.com", nil))
		require.NoError(t, s.Rcpt("sales@example.com", nil))
		require.NoError(t, s.Data(strings.NewReader(rawMessage)))

		msgs := f.dispatcher.dispatched()
		require.Len(t, msgs, 1)
		assert.Equal(t, "sales@example.com", msgs[0].RcptTo)
	})

	t.Run("垃圾邮件 Fail 模式拒收", func(t *testing.T) {
		f := newFixture(t, 9, Options{})
		f.route(t, "info", domain.ModeEndpoint, domain.SpamFail)
		s := f.session(t)

		require.NoError(t, s.Rcpt("info@example.com", nil))
		err := s.Data(strings.NewReader(rawMessage))

		var smtpErr *gosmtp.SMTPError
		require.ErrorAs(t, err, &smtpErr)
		assert.Equal(t, 550, smtpErr.Code)
		assert.Equal(t, disposition.ReasonSpam, smtpErr.Message)
		assert.Empty(t, f.dispatcher.dispatched())
	})

	t.Run("垃圾邮件 Mark 模式标注后投递", func(t *testing.T) {
		f := newFixture(t, 9, Options{})
		f.route(t, "info", domain.ModeEndpoint, domain.SpamMark)
		s := f.session(t)

		require.NoError(t, s.Rcpt("info@example.com", nil))
		require.NoError(t, s.Data(strings.NewReader(rawMessage)))

		msgs := f.dispatcher.dispatched()
		require.Len(t, msgs, 1)
		assert.True(t, msgs[0].Spam)
		assert.Equal(t, 9.0, msgs[0].SpamScore)
	})

	t.Run("超过大小上限", func(t *testing.T) {
		f := newFixture(t, 0, Options{MaxMessageBytes: 16})
		f.route(t, "info", domain.ModeAccept, domain.SpamMark)
		s := f.session(t)

		require.NoError(t, s.Rcpt("info@example.com", nil))
		err := s.Data(strings.NewReader(rawMessage))
		assert.Equal(t, 552, smtpCode(t, err))
	})

	t.Run("没有收件人", func(t *testing.T) {
		f := newFixture(t, 0, Options{})

		err := f.session(t).Data(strings.NewReader(rawMessage))
		assert.Equal(t, 554, smtpCode(t, err))
	})

	t.Run("Reset 清空收件人", func(t *testing.T) {
		f := newFixture(t, 0, Options{})
		f.route(t, "info", domain.ModeAccept, domain.SpamMark)
		s := f.session(t)

		require.NoError(t, s.Mail("a@remote.example", nil))
		require.NoError(t, s.Rcpt("info@example.com", nil))
		s.Reset()

		assert.Empty(t, s.from)
		assert.Empty(t, s.recipients)
	})
}

func TestSessionLimiter(t *testing.T) {
	limiter := NewConnectionLimiter(1, 0, 1)
	b := NewBackend(context.Background(), failingResolver{}, nil, nil, limiter, Options{}, nil, nil)

	first, err := b.NewSession(nil)
	require.NoError(t, err)

	_, err = b.NewSession(nil)
	assert.Equal(t, 421, smtpCode(t, err))

	require.NoError(t, first.Logout())
	_, err = b.NewSession(nil)
	assert.NoError(t, err)
}

func TestServerEndToEnd(t *testing.T) {
	f := newFixture(t, 0, Options{})
	f.route(t, "info", domain.ModeEndpoint, domain.SpamMark)

	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	srv := NewServer(f.backend, config.SMTPConfig{
		Domain:          "mx.test",
		MaxMessageBytes: 1 << 20,
		MaxRecipients:   10,
		ReadTimeout:     5 * time.Second,
		WriteTimeout:    5 * time.Second,
	}, nil)
	done := make(chan error, 1)
	go func() { done <- srv.Serve(l) }()
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
		<-done
	})

	err = netsmtp.SendMail(l.Addr().String(), nil, "alice@remote.example", []string{"info@example.com"}, []byte(rawMessage))
	require.NoError(t, err)

	msgs := f.dispatcher.dispatched()
	require.Len(t, msgs, 1)
	assert.Equal(t, "info@example.com", msgs[0].RcptTo)

	err = netsmtp.SendMail(l.Addr().String(), nil, "alice@remote.example", []string{"nobody@example.com"}, []byte(rawMessage))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "550")
}

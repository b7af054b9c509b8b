package delivery

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mailroute/backend/internal/domain"
)

func TestHTTPTransportStatus(t *testing.T) {
	tests := []struct {
		name       string
		status     int
		retryAfter string
		want       domain.DeliveryStatus
		wantWait   time.Duration
	}{
		{name: "200 成功", status: http.StatusOK, want: domain.DeliverySuccess},
		{name: "204 成功", status: http.StatusNoContent, want: domain.DeliverySuccess},
		{name: "404 永久失败", status: http.StatusNotFound, want: domain.DeliveryPermanent},
		{name: "422 永久失败", status: http.StatusUnprocessableEntity, want: domain.DeliveryPermanent},
		{name: "429 临时失败", status: http.StatusTooManyRequests, retryAfter: "120", want: domain.DeliveryTransient, wantWait: 2 * time.Minute},
		{name: "500 临时失败", status: http.StatusInternalServerError, want: domain.DeliveryTransient, wantWait: time.Minute},
		{name: "503 临时失败", status: http.StatusServiceUnavailable, want: domain.DeliveryTransient, wantWait: time.Minute},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if tt.retryAfter != "" {
					w.Header().Set("Retry-After", tt.retryAfter)
				}
				w.WriteHeader(tt.status)
			}))
			defer srv.Close()

			tr := NewHTTPTransport(srv.Client(), NewRetryPolicy(time.Minute, time.Hour))
			out := tr.SendHTTP(context.Background(), &HTTPRequest{URL: srv.URL, Timeout: time.Second})

			assert.Equal(t, tt.want, out.Status)
			assert.Equal(t, tt.wantWait, out.RetryAfter)
		})
	}
}

func TestHTTPTransportTimeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	tr := NewHTTPTransport(srv.Client(), nil)
	out := tr.SendHTTP(context.Background(), &HTTPRequest{URL: srv.URL, Timeout: 100 * time.Millisecond})

	assert.Equal(t, domain.DeliveryTransient, out.Status)
	assert.Equal(t, "timed out", out.Detail)
}

func TestHTTPTransportUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	addr := srv.URL
	srv.Close()

	out := NewHTTPTransport(nil, nil).SendHTTP(context.Background(), &HTTPRequest{URL: addr, Timeout: time.Second})
	assert.Equal(t, domain.DeliveryTransient, out.Status)
}

func TestHTTPDeliveryPayload(t *testing.T) {
	msg := &domain.Message{
		ID:       "m1",
		MailFrom: "alice@example.com",
		RcptTo:   "info@example.org",
		Subject:  "Hello",
		Text:     "Thanks!\n\nOn Mon, Bob wrote:\n> earlier text",
		Raw:      []byte("Subject: Hello\r\n\r\nThanks!"),
		Attachments: []domain.Attachment{
			{Filename: "a.txt", ContentType: "text/plain", Size: 3, Content: []byte("abc")},
		},
	}

	t.Run("JSON 哈希格式", func(t *testing.T) {
		var got map[string]any
		var contentType string
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			contentType = r.Header.Get("Content-Type")
			require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		}))
		defer srv.Close()

		ep := &domain.HTTPEndpoint{ID: "h", ServerID: "srv", URL: srv.URL, StripReplies: true, IncludeAttachments: true}
		ep.ApplyDefaults()
		d, err := NewFactory(Transports{HTTP: NewHTTPTransport(srv.Client(), nil)}, FactoryOptions{}).For(ep)
		require.NoError(t, err)

		out := d.Deliver(context.Background(), msg)
		require.True(t, out.Succeeded(), out.Detail)

		assert.Equal(t, "application/json", contentType)
		assert.Equal(t, "info@example.org", got["rcpt_to"])
		assert.Equal(t, "Thanks!", got["plain_body"])
		assert.Equal(t, "NotSpam", got["spam_status"])
		assert.Len(t, got["attachments"], 1)
	})

	t.Run("表单原始邮件格式", func(t *testing.T) {
		var form url.Values
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			body, _ := io.ReadAll(r.Body)
			form, _ = url.ParseQuery(string(body))
		}))
		defer srv.Close()

		ep := &domain.HTTPEndpoint{
			ID: "h", ServerID: "srv", URL: srv.URL,
			Encoding: domain.EncodingFormData, Format: domain.FormatRawMessage,
		}
		d, err := NewFactory(Transports{HTTP: NewHTTPTransport(srv.Client(), nil)}, FactoryOptions{}).For(ep)
		require.NoError(t, err)

		out := d.Deliver(context.Background(), msg)
		require.True(t, out.Succeeded(), out.Detail)

		assert.Equal(t, "true", form.Get("base64"))
		assert.Equal(t, "U3ViamVjdDogSGVsbG8NCg0KVGhhbmtzIQ==", form.Get("message"))
	})
}

func TestStripReplies(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{name: "无引用", in: "hello\nworld", want: "hello\nworld"},
		{name: "引用行", in: "reply\n\n> quoted", want: "reply"},
		{name: "wrote 分隔", in: "ok\nOn Tue, Jan 2, 2024 Bob wrote:\nold", want: "ok"},
		{name: "Original Message 分隔", in: "fine\n----- Original Message -----\nFrom: x", want: "fine"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, StripReplies(tt.in))
		})
	}
}

func TestRetryPolicy(t *testing.T) {
	p := NewRetryPolicy(time.Minute, 10*time.Minute)
	assert.Equal(t, time.Minute, p.After(0))
	assert.Equal(t, 2*time.Minute, p.After(1))
	assert.Equal(t, 4*time.Minute, p.After(2))
	assert.Equal(t, 10*time.Minute, p.After(10))

	var nilPolicy *RetryPolicy
	assert.Zero(t, nilPolicy.After(3))
}

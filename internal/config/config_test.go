package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad(t *testing.T) {
	t.Run("加载默认配置成功", func(t *testing.T) {
		cfg, err := Load()
		require.NoError(t, err)

		assert.Equal(t, "0.0.0.0", cfg.Server.Host)
		assert.Equal(t, 8080, cfg.Server.Port)
		assert.Equal(t, "0.0.0.0:8080", cfg.HTTPAddr())
		assert.Equal(t, ":25", cfg.SMTP.BindAddr)
		assert.Equal(t, "mailroute.local", cfg.SMTP.Domain)
		assert.Equal(t, int64(25*1024*1024), cfg.SMTP.MaxMessageBytes)
		assert.Equal(t, 100, cfg.SMTP.MaxRecipients)
		assert.Equal(t, 60*time.Second, cfg.SMTP.ReadTimeout)
		assert.Equal(t, []string{"*"}, cfg.CORS.AllowedOrigins)
		assert.Equal(t, "info", cfg.Log.Level)
		assert.Equal(t, "memory", cfg.Database.Type)
		assert.False(t, cfg.Redis.Enabled)
		assert.Equal(t, time.Minute, cfg.Redis.CacheTTL)
		assert.Equal(t, "reject", cfg.Routing.NoRoutePolicy)
		assert.Equal(t, "rp.mailroute.local", cfg.Routing.ReturnPathDomain)
		assert.Equal(t, 5.0, cfg.Spam.DefaultThreshold)
		assert.Equal(t, 20.0, cfg.Spam.FailureThreshold)
		assert.Equal(t, 60*time.Second, cfg.Dispatch.SMTPTimeout)
		assert.Equal(t, 30*time.Second, cfg.Dispatch.AddressTimeout)
		assert.Equal(t, 8, cfg.Dispatch.Concurrency)
		assert.Equal(t, time.Minute, cfg.Dispatch.RetryMin)
		assert.Equal(t, 6*time.Hour, cfg.Dispatch.RetryMax)
		assert.Equal(t, 10*1024*1024, cfg.Inspection.MaxMessageBytes)
	})

	t.Run("加载自定义配置成功", func(t *testing.T) {
		t.Setenv("MAILROUTE_SERVER_PORT", "9090")
		t.Setenv("MAILROUTE_SMTP_BIND_ADDR", ":2525")
		t.Setenv("MAILROUTE_SMTP_DOMAIN", "MX.Example.COM")
		t.Setenv("MAILROUTE_CORS_ALLOWED_ORIGINS", "http://localhost:3000, http://localhost:5173")
		t.Setenv("MAILROUTE_ROUTING_NO_ROUTE_POLICY", "HOLD")
		t.Setenv("MAILROUTE_SPAM_DEFAULT_THRESHOLD", "7.5")
		t.Setenv("MAILROUTE_SPAM_FAILURE_THRESHOLD", "0")
		t.Setenv("MAILROUTE_DISPATCH_SMTP_TIMEOUT", "15s")
		t.Setenv("MAILROUTE_REDIS_ENABLED", "true")

		cfg, err := Load()
		require.NoError(t, err)

		assert.Equal(t, 9090, cfg.Server.Port)
		assert.Equal(t, ":2525", cfg.SMTP.BindAddr)
		assert.Equal(t, "mx.example.com", cfg.SMTP.Domain)
		assert.Equal(t, []string{"http://localhost:3000", "http://localhost:5173"}, cfg.CORS.AllowedOrigins)
		assert.Equal(t, "hold", cfg.Routing.NoRoutePolicy)
		assert.Equal(t, 7.5, cfg.Spam.DefaultThreshold)
		assert.Zero(t, cfg.Spam.FailureThreshold)
		assert.Equal(t, 15*time.Second, cfg.Dispatch.SMTPTimeout)
		assert.True(t, cfg.Redis.Enabled)
	})

	tests := []struct {
		name    string
		env     map[string]string
		wantErr string
	}{
		{
			name:    "无效的超时格式",
			env:     map[string]string{"MAILROUTE_DISPATCH_SMTP_TIMEOUT": "soon"},
			wantErr: "invalid dispatch.smtp_timeout",
		},
		{
			name:    "失败阈值低于垃圾邮件阈值",
			env:     map[string]string{"MAILROUTE_SPAM_FAILURE_THRESHOLD": "3"},
			wantErr: "spam.failure_threshold",
		},
		{
			name:    "数据库缺少 DSN",
			env:     map[string]string{"MAILROUTE_DATABASE_TYPE": "postgres"},
			wantErr: "database.dsn is required",
		},
		{
			name:    "未知数据库类型",
			env:     map[string]string{"MAILROUTE_DATABASE_TYPE": "sqlite"},
			wantErr: "unsupported database.type",
		},
		{
			name:    "未知无路由策略",
			env:     map[string]string{"MAILROUTE_ROUTING_NO_ROUTE_POLICY": "drop"},
			wantErr: "routing.no_route_policy",
		},
		{
			name:    "重试间隔上下限颠倒",
			env:     map[string]string{"MAILROUTE_DISPATCH_RETRY_MIN": "2h", "MAILROUTE_DISPATCH_RETRY_MAX": "1h"},
			wantErr: "dispatch.retry_max",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}

			cfg, err := Load()
			assert.Nil(t, cfg)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestParseList(t *testing.T) {
	testCases := []struct {
		name     string
		input    string
		expected []string
	}{
		{name: "单个值", input: "a", expected: []string{"a"}},
		{name: "多个值", input: "a,b,c", expected: []string{"a", "b", "c"}},
		{name: "带空格", input: " a , b ", expected: []string{"a", "b"}},
		{name: "空字符串", input: "", expected: []string{}},
		{name: "只有逗号", input: ",,,", expected: []string{}},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.expected, parseList(tc.input))
		})
	}
}

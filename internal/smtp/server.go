package smtp

import (
	"context"
	"errors"
	"net"

	gosmtp "github.com/emersion/go-smtp"
	"go.uber.org/zap"

	"mailroute/backend/internal/config"
)

// Server 入站 SMTP 服务
type Server struct {
	srv    *gosmtp.Server
	logger *zap.Logger
}

// NewServer 按配置创建 SMTP 服务
func NewServer(backend *Backend, cfg config.SMTPConfig, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}

	srv := gosmtp.NewServer(backend)
	srv.Addr = cfg.BindAddr
	srv.Domain = cfg.Domain
	srv.ReadTimeout = cfg.ReadTimeout
	srv.WriteTimeout = cfg.WriteTimeout
	srv.MaxMessageBytes = cfg.MaxMessageBytes
	srv.MaxRecipients = cfg.MaxRecipients
	srv.AllowInsecureAuth = true

	return &Server{srv: srv, logger: logger}
}

// ListenAndServe 监听配置地址
func (s *Server) ListenAndServe() error {
	s.logger.Info("smtp server listening", zap.String("addr", s.srv.Addr), zap.String("domain", s.srv.Domain))
	return s.serveErr(s.srv.ListenAndServe())
}

// Serve 在给定监听器上提供服务
func (s *Server) Serve(l net.Listener) error {
	return s.serveErr(s.srv.Serve(l))
}

// Shutdown 停止接收新连接并等待现有会话结束
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

func (s *Server) serveErr(err error) error {
	if errors.Is(err, gosmtp.ErrServerClosed) {
		return nil
	}
	return err
}

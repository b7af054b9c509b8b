package inspection

import (
	"context"
	"strings"

	"mailroute/backend/internal/domain"
)

// HeaderInspector 头部启发式评分：群发、缺失头部、发件人不一致
type HeaderInspector struct{}

// NewHeaderInspector 创建头部检查器
func NewHeaderInspector() *HeaderInspector {
	return &HeaderInspector{}
}

func (h *HeaderInspector) Name() string { return "headers" }

// Inspect 逐项评分
func (h *HeaderInspector) Inspect(_ context.Context, result *Result) error {
	msg := result.Message
	if msg == nil {
		return nil
	}

	if msg.Header("Message-Id") == "" {
		result.AddCheck("MISSING_MESSAGE_ID", 1.0, "Message-ID header is missing")
	}
	if msg.Header("Date") == "" {
		result.AddCheck("MISSING_DATE", 0.5, "Date header is missing")
	}
	if strings.TrimSpace(msg.Subject) == "" {
		result.AddCheck("EMPTY_SUBJECT", 0.5, "subject is empty")
	}

	from := addressOf(msg.Header("From"))
	if replyTo := addressOf(msg.Header("Reply-To")); replyTo != "" && from != "" && replyTo != from {
		result.AddCheck("REPLY_TO_MISMATCH", 1.0, "REPLY-TO != FROM")
	}
	if sender := addressOf(msg.Header("Sender")); sender != "" && from != "" && sender != from {
		result.AddCheck("SENDER_MISMATCH", 0.5, "SENDER != FROM")
	}

	switch {
	case msg.Header("List-Unsubscribe") != "":
		result.AddCheck("BULK_UNSUBSCRIBE", 0.5, "UNSUBSCRIBE header present")
	case strings.EqualFold(msg.Header("Precedence"), "bulk"):
		result.AddCheck("BULK_PRECEDENCE", 0.5, "PRECEDENCE: BULK header present")
	}

	return nil
}

// addressOf 提取 "Name <a@b>" 中的地址部分
func addressOf(value string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return ""
	}
	if start := strings.LastIndex(value, "<"); start >= 0 {
		if end := strings.Index(value[start:], ">"); end > 0 {
			value = value[start+1 : start+end]
		}
	}
	local, d, ok := domain.SplitAddress(value)
	if !ok {
		return strings.ToLower(value)
	}
	return local + "@" + d
}

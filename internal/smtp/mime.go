package smtp

import (
	"bytes"
	"net/textproto"
	"time"

	"github.com/google/uuid"
	"github.com/jhillyerd/enmime"

	"mailroute/backend/internal/domain"
)

// ParseMessage 解析原始邮件，提取头部、正文与附件
//
// 解析失败时仍返回只包含原始内容的邮件，错误交由调用方记录；
// 路由与投递不依赖正文解析结果。
func ParseMessage(raw []byte) (*domain.Message, error) {
	msg := &domain.Message{
		ID:         uuid.NewString(),
		Raw:        raw,
		Headers:    textproto.MIMEHeader{},
		ReceivedAt: time.Now().UTC(),
	}

	env, err := enmime.ReadEnvelope(bytes.NewReader(raw))
	if err != nil {
		return msg, err
	}

	for _, key := range env.GetHeaderKeys() {
		canonical := textproto.CanonicalMIMEHeaderKey(key)
		msg.Headers[canonical] = append(msg.Headers[canonical], env.GetHeaderValues(key)...)
	}

	msg.Subject = env.GetHeader("Subject")
	msg.Text = env.Text
	msg.HTML = env.HTML

	parts := make([]*enmime.Part, 0, len(env.Attachments)+len(env.Inlines))
	parts = append(parts, env.Attachments...)
	parts = append(parts, env.Inlines...)
	for _, part := range parts {
		filename := part.FileName
		if filename == "" {
			filename = "unnamed"
		}
		msg.Attachments = append(msg.Attachments, domain.Attachment{
			Filename:    filename,
			ContentType: part.ContentType,
			Size:        len(part.Content),
			Content:     part.Content,
		})
	}

	return msg, nil
}

// cloneFor 为单个收件人复制邮件
//
// 头部深拷贝，原始内容与附件只读共享。
func cloneFor(base *domain.Message, mailFrom, rcptTo string) *domain.Message {
	msg := *base
	msg.ID = uuid.NewString()
	msg.MailFrom = mailFrom
	msg.RcptTo = rcptTo
	msg.ServerID = ""
	msg.Spam = false
	msg.SpamScore = 0

	msg.Headers = make(textproto.MIMEHeader, len(base.Headers))
	for k, v := range base.Headers {
		msg.Headers[k] = append([]string(nil), v...)
	}
	return &msg
}

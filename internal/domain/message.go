package domain

import (
	"net/textproto"
	"strings"
	"time"
)

// Message 一封入站邮件，由 SMTP 层解析后交给检查与处置流程。
type Message struct {
	ID          string               `json:"id"`
	ServerID    string               `json:"serverId,omitempty"`
	MailFrom    string               `json:"mailFrom"`
	RcptTo      string               `json:"rcptTo"`
	Subject     string               `json:"subject"`
	Headers     textproto.MIMEHeader `json:"headers,omitempty"`
	Text        string               `json:"text,omitempty"`
	HTML        string               `json:"html,omitempty"`
	Raw         []byte               `json:"-"`
	Attachments []Attachment         `json:"attachments,omitempty"`
	ReceivedAt  time.Time            `json:"receivedAt"`
	// Attempt 第几次处理（由外部重试队列维护，首次为 0）
	Attempt int `json:"attempt"`

	// 处置引擎写入的垃圾邮件标注，投递时随邮件下发
	Spam      bool    `json:"spam"`
	SpamScore float64 `json:"spamScore"`
}

// Attachment 附件元信息与内容
type Attachment struct {
	Filename    string `json:"filename"`
	ContentType string `json:"contentType"`
	Size        int    `json:"size"`
	Content     []byte `json:"-"`
}

// Header 返回首个同名头部
func (m *Message) Header(name string) string {
	if m.Headers == nil {
		return ""
	}
	return m.Headers.Get(name)
}

// Size 原始邮件字节数
func (m *Message) Size() int {
	return len(m.Raw)
}

// SpamStatus 投递载荷中的垃圾邮件状态
func (m *Message) SpamStatus() string {
	if m.Spam {
		return "Spam"
	}
	return "NotSpam"
}

// SplitAddress 拆分邮箱地址为本地部分与域名（均转小写）
func SplitAddress(address string) (localPart, domainName string, ok bool) {
	address = strings.TrimSpace(address)
	address = strings.TrimPrefix(address, "<")
	address = strings.TrimSuffix(address, ">")
	idx := strings.LastIndex(address, "@")
	if idx <= 0 || idx == len(address)-1 {
		return "", "", false
	}
	return strings.ToLower(address[:idx]), strings.ToLower(address[idx+1:]), true
}

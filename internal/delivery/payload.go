package delivery

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"mailroute/backend/internal/domain"
)

// BuildHTTPRequest 按端点的格式与编码构建 HTTP 请求
func BuildHTTPRequest(ep *domain.HTTPEndpoint, msg *domain.Message) (*HTTPRequest, error) {
	var payload map[string]any
	switch ep.Format {
	case domain.FormatRawMessage:
		payload = rawPayload(msg)
	case domain.FormatHash, "":
		payload = hashPayload(msg, ep.StripReplies, ep.IncludeAttachments)
	default:
		return nil, fmt.Errorf("unsupported format %q", ep.Format)
	}

	headers := http.Header{}
	headers.Set("User-Agent", "mailroute")
	headers.Set("X-Mailroute-Message-Id", msg.ID)

	var body []byte
	switch ep.Encoding {
	case domain.EncodingFormData:
		form, err := formEncode(payload)
		if err != nil {
			return nil, err
		}
		body = []byte(form.Encode())
		headers.Set("Content-Type", "application/x-www-form-urlencoded")
	case domain.EncodingBodyAsJSON, "":
		b, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("encode payload: %w", err)
		}
		body = b
		headers.Set("Content-Type", "application/json")
	default:
		return nil, fmt.Errorf("unsupported encoding %q", ep.Encoding)
	}

	return &HTTPRequest{
		Method:  http.MethodPost,
		URL:     ep.URL,
		Body:    body,
		Headers: headers,
		Timeout: ep.TimeoutDuration(),
		Attempt: msg.Attempt,
	}, nil
}

func rawPayload(msg *domain.Message) map[string]any {
	return map[string]any{
		"id":        msg.ID,
		"rcpt_to":   msg.RcptTo,
		"mail_from": msg.MailFrom,
		"message":   base64.StdEncoding.EncodeToString(msg.Raw),
		"base64":    true,
		"size":      msg.Size(),
	}
}

func hashPayload(msg *domain.Message, stripReplies, includeAttachments bool) map[string]any {
	plain := msg.Text
	if stripReplies {
		plain = StripReplies(plain)
	}

	payload := map[string]any{
		"id":                  msg.ID,
		"rcpt_to":             msg.RcptTo,
		"mail_from":           msg.MailFrom,
		"subject":             msg.Subject,
		"message_id":          msg.Header("Message-Id"),
		"timestamp":           msg.ReceivedAt.Unix(),
		"size":                msg.Size(),
		"spam_status":         msg.SpamStatus(),
		"spam_score":          msg.SpamScore,
		"from":                msg.Header("From"),
		"to":                  msg.Header("To"),
		"cc":                  msg.Header("Cc"),
		"date":                msg.Header("Date"),
		"in_reply_to":         msg.Header("In-Reply-To"),
		"references":          msg.Header("References"),
		"auto_submitted":      msg.Header("Auto-Submitted"),
		"plain_body":          plain,
		"html_body":           msg.HTML,
		"attachment_quantity": len(msg.Attachments),
	}

	if includeAttachments {
		list := make([]map[string]any, 0, len(msg.Attachments))
		for _, att := range msg.Attachments {
			list = append(list, map[string]any{
				"filename":     att.Filename,
				"content_type": att.ContentType,
				"size":         att.Size,
				"data":         base64.StdEncoding.EncodeToString(att.Content),
			})
		}
		payload["attachments"] = list
	}
	return payload
}

// formEncode 表单编码；嵌套值以 JSON 字符串提交
func formEncode(payload map[string]any) (url.Values, error) {
	form := url.Values{}
	for k, v := range payload {
		switch val := v.(type) {
		case string:
			form.Set(k, val)
		case bool:
			form.Set(k, strconv.FormatBool(val))
		case int:
			form.Set(k, strconv.Itoa(val))
		case int64:
			form.Set(k, strconv.FormatInt(val, 10))
		case float64:
			form.Set(k, strconv.FormatFloat(val, 'f', -1, 64))
		default:
			b, err := json.Marshal(val)
			if err != nil {
				return nil, fmt.Errorf("encode field %s: %w", k, err)
			}
			form.Set(k, string(b))
		}
	}
	return form, nil
}

var replySeparators = []*regexp.Regexp{
	regexp.MustCompile(`(?i)^on .+ wrote:\s*$`),
	regexp.MustCompile(`(?i)^-{2,}\s*original message\s*-{2,}\s*$`),
	regexp.MustCompile(`(?i)^from:\s.+$`),
	regexp.MustCompile(`^>`),
}

// StripReplies 去掉正文中引用的历史回复
func StripReplies(text string) string {
	lines := strings.Split(text, "\n")
	for i, line := range lines {
		trimmed := strings.TrimSpace(line)
		for _, sep := range replySeparators {
			if sep.MatchString(trimmed) {
				return strings.TrimRight(strings.Join(lines[:i], "\n"), " \t\r\n")
			}
		}
	}
	return text
}

// smtpPayload 转发 SMTP 时附加垃圾邮件标注头部
func smtpPayload(msg *domain.Message) []byte {
	if !msg.Spam {
		return msg.Raw
	}
	header := fmt.Sprintf("X-Mailroute-Spam: yes\r\nX-Mailroute-Spam-Score: %.1f\r\n", msg.SpamScore)
	out := make([]byte, 0, len(header)+len(msg.Raw))
	out = append(out, header...)
	return append(out, msg.Raw...)
}

package inspection

import (
	"context"
	"fmt"
	"regexp"
	"strings"
)

// ContentInspector 正文关键词与活动内容检查
type ContentInspector struct {
	// HTML 中的活动内容
	activePatterns []*regexp.Regexp

	// 垃圾邮件关键词
	spamKeywords []string

	keywordWeight float64
	activeScore   float64
}

// NewContentInspector 创建正文检查器，keywordWeight 为每个命中关键词的分数
func NewContentInspector(keywordWeight float64) *ContentInspector {
	if keywordWeight <= 0 {
		keywordWeight = 1.0
	}
	return &ContentInspector{
		activePatterns: []*regexp.Regexp{
			regexp.MustCompile(`(?is)<script[^>]*>.*?</script>`),
			regexp.MustCompile(`(?i)javascript:`),
			regexp.MustCompile(`(?i)onload\s*=`),
			regexp.MustCompile(`(?i)onerror\s*=`),
			regexp.MustCompile(`(?i)eval\s*\(`),
			regexp.MustCompile(`(?i)document\.cookie`),
			regexp.MustCompile(`(?i)<iframe[^>]*>`),
			regexp.MustCompile(`(?i)<object[^>]*>`),
			regexp.MustCompile(`(?i)<embed[^>]*>`),
		},
		spamKeywords: []string{
			"viagra", "casino", "lottery", "winner", "congratulations",
			"free money", "click here", "limited time", "act now",
			"guaranteed", "no risk", "earn money", "work from home",
		},
		keywordWeight: keywordWeight,
		activeScore:   2.5,
	}
}

func (c *ContentInspector) Name() string { return "content" }

// Inspect 检查主题与正文
func (c *ContentInspector) Inspect(_ context.Context, result *Result) error {
	msg := result.Message
	if msg == nil {
		return nil
	}

	for _, pattern := range c.activePatterns {
		if pattern.MatchString(msg.HTML) {
			result.AddCheck("HTML_ACTIVE_CONTENT", c.activeScore, "active content in HTML body: "+pattern.String())
			break
		}
	}

	content := strings.ToLower(msg.Subject + "\n" + msg.Text + "\n" + msg.HTML)
	var hits []string
	for _, keyword := range c.spamKeywords {
		if strings.Contains(content, keyword) {
			hits = append(hits, keyword)
		}
	}
	if len(hits) > 0 {
		result.AddCheck("SPAM_KEYWORDS", float64(len(hits))*c.keywordWeight,
			fmt.Sprintf("spam keywords found: %s", strings.Join(hits, ", ")))
	}

	return nil
}

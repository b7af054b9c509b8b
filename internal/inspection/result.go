package inspection

import (
	"mailroute/backend/internal/domain"
)

// Scope 检查方向
type Scope string

const (
	ScopeIncoming Scope = "incoming"
	ScopeOutgoing Scope = "outgoing"
)

// Check 一条评分记录
type Check struct {
	Code        string  `json:"code"`
	Score       float64 `json:"score"`
	Description string  `json:"description"`
}

// Result 单封邮件的检查结果，在检查器之间按顺序共享
type Result struct {
	Message *domain.Message `json:"-"`
	Scope   Scope           `json:"scope"`

	checks        []Check
	threat        bool
	threatMessage string

	inspectionError bool
	faultInspector  string
	fault           error
}

// NewResult 创建空结果
func NewResult(msg *domain.Message, scope Scope) *Result {
	return &Result{Message: msg, Scope: scope}
}

// AddCheck 追加一条评分
func (r *Result) AddCheck(code string, score float64, description string) {
	r.checks = append(r.checks, Check{Code: code, Score: score, Description: description})
}

// Checks 返回评分记录副本
func (r *Result) Checks() []Check {
	out := make([]Check, len(r.checks))
	copy(out, r.checks)
	return out
}

// SpamScore 全部评分之和，没有评分时为 0
func (r *Result) SpamScore() float64 {
	var total float64
	for _, c := range r.checks {
		total += c.Score
	}
	return total
}

// SetThreat 标记为威胁
func (r *Result) SetThreat(message string) {
	r.threat = true
	r.threatMessage = message
}

// Threat 是否为威胁
func (r *Result) Threat() bool {
	return r.threat
}

// ThreatMessage 威胁说明
func (r *Result) ThreatMessage() string {
	return r.threatMessage
}

// InspectionError 检查过程是否发生致命错误
func (r *Result) InspectionError() bool {
	return r.inspectionError
}

// Fault 导致中止的检查器与错误
func (r *Result) Fault() (string, error) {
	return r.faultInspector, r.fault
}

// Successful 检查是否完整执行
func (r *Result) Successful() bool {
	return !r.inspectionError
}

func (r *Result) fail(inspector string, err error) {
	r.inspectionError = true
	r.faultInspector = inspector
	r.fault = err
}

// Summary 可序列化的结果摘要
type Summary struct {
	Scope           Scope   `json:"scope"`
	SpamScore       float64 `json:"spamScore"`
	Checks          []Check `json:"checks"`
	Threat          bool    `json:"threat"`
	ThreatMessage   string  `json:"threatMessage,omitempty"`
	InspectionError bool    `json:"inspectionError"`
	FaultInspector  string  `json:"faultInspector,omitempty"`
}

// Summary 生成摘要
func (r *Result) Summary() Summary {
	return Summary{
		Scope:           r.Scope,
		SpamScore:       r.SpamScore(),
		Checks:          r.Checks(),
		Threat:          r.threat,
		ThreatMessage:   r.threatMessage,
		InspectionError: r.inspectionError,
		FaultInspector:  r.faultInspector,
	}
}

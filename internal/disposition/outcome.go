package disposition

import (
	"mailroute/backend/internal/delivery"
	"mailroute/backend/internal/domain"
	"mailroute/backend/internal/inspection"
	"mailroute/backend/internal/routing"
)

// Kind 处置结果类型
type Kind string

const (
	KindAccepted  Kind = "accepted"
	KindHeld      Kind = "held"
	KindBounced   Kind = "bounced"
	KindRejected  Kind = "rejected"
	KindDelivered Kind = "delivered"
)

// 拒收原因
const (
	ReasonNoRoute     = "no route"
	ReasonSpam        = "message classified as spam"
	ReasonRouteReject = "rejected by route"
)

// Envelope 一封邮件的一个收件人
type Envelope struct {
	// ServerID 仅在 ReturnPath 为 true 时使用
	ServerID   string
	LocalPart  string
	Domain     string
	MailFrom   string
	ReturnPath bool
	Message    *domain.Message
}

// Outcome 处置结果及检查标注
type Outcome struct {
	Kind Kind `json:"kind"`

	Reason             string           `json:"reason,omitempty"`
	CorrelationAddress string           `json:"correlationAddress,omitempty"`
	Delivery           *delivery.Result `json:"delivery,omitempty"`

	RouteID   string            `json:"routeId,omitempty"`
	ServerID  string            `json:"serverId,omitempty"`
	MatchKind routing.MatchKind `json:"matchKind"`

	SpamTagged       bool               `json:"spamTagged"`
	SpamScore        float64            `json:"spamScore"`
	Threat           bool               `json:"threat"`
	ThreatMessage    string             `json:"threatMessage,omitempty"`
	InspectionFailed bool               `json:"inspectionFailed"`
	Checks           []inspection.Check `json:"checks,omitempty"`
}

// Terminal 结果是否无需再投递
func (o *Outcome) Terminal() bool {
	return o.Kind != KindDelivered || o.Delivery != nil
}

// Refused 邮件是否被拒收或退回
func (o *Outcome) Refused() bool {
	return o.Kind == KindRejected || o.Kind == KindBounced
}

// Decision 投递前的处置决定
//
// Kind 为 KindDelivered 时需调用 Engine.Execute 完成投递。
type Decision struct {
	Outcome
	Route   *domain.Route
	Message *domain.Message
}

// NeedsDispatch 是否需要投递到端点
func (d *Decision) NeedsDispatch() bool {
	return d.Kind == KindDelivered && d.Delivery == nil
}

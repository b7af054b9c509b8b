package inspection

import (
	"context"
	"errors"
	"net/textproto"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"mailroute/backend/internal/domain"
)

func scorer(name string, score float64) Inspector {
	return InspectorFunc{Label: name, Fn: func(_ context.Context, r *Result) error {
		r.AddCheck(name, score, "")
		return nil
	}}
}

func TestPipelineScan(t *testing.T) {
	ctx := context.Background()
	msg := &domain.Message{ID: "m1"}

	t.Run("分数为各项之和", func(t *testing.T) {
		p := NewPipeline(NewRegistry(scorer("a", 2), scorer("b", 5), scorer("c", 1)), nil, nil)
		res := p.Scan(ctx, msg, ScopeIncoming)

		assert.Equal(t, 8.0, res.SpamScore())
		assert.Len(t, res.Checks(), 3)
		assert.True(t, res.Successful())
		assert.False(t, res.Threat())
	})

	t.Run("没有评分时为 0", func(t *testing.T) {
		p := NewPipeline(NewRegistry(), nil, nil)
		res := p.Scan(ctx, msg, ScopeIncoming)

		assert.Equal(t, 0.0, res.SpamScore())
		assert.True(t, res.Successful())
	})

	t.Run("按注册顺序执行", func(t *testing.T) {
		var order []string
		record := func(name string) Inspector {
			return InspectorFunc{Label: name, Fn: func(context.Context, *Result) error {
				order = append(order, name)
				return nil
			}}
		}
		p := NewPipeline(NewRegistry(record("first"), record("second"), record("third")), nil, nil)
		p.Scan(ctx, msg, ScopeIncoming)

		assert.Equal(t, []string{"first", "second", "third"}, order)
	})

	t.Run("致命错误跳过剩余检查器并保留部分分数", func(t *testing.T) {
		ran := false
		failing := InspectorFunc{Label: "broken", Fn: func(context.Context, *Result) error {
			return errors.New("scanner unreachable")
		}}
		after := InspectorFunc{Label: "after", Fn: func(_ context.Context, r *Result) error {
			ran = true
			r.AddCheck("after", 10, "")
			return nil
		}}

		p := NewPipeline(NewRegistry(scorer("a", 3), failing, after), nil, nil)
		res := p.Scan(ctx, msg, ScopeIncoming)

		assert.False(t, ran)
		assert.True(t, res.InspectionError())
		assert.False(t, res.Successful())
		assert.Equal(t, 3.0, res.SpamScore())

		name, err := res.Fault()
		assert.Equal(t, "broken", name)
		assert.EqualError(t, err, "scanner unreachable")
	})

	t.Run("panic 视为致命错误", func(t *testing.T) {
		panicking := InspectorFunc{Label: "panicky", Fn: func(context.Context, *Result) error {
			panic("boom")
		}}

		p := NewPipeline(NewRegistry(panicking, scorer("never", 1)), nil, nil)
		var res *Result
		require.NotPanics(t, func() {
			res = p.Scan(ctx, msg, ScopeIncoming)
		})

		assert.True(t, res.InspectionError())
		assert.Equal(t, 0.0, res.SpamScore())
	})

	t.Run("威胁标记", func(t *testing.T) {
		threat := InspectorFunc{Label: "av", Fn: func(_ context.Context, r *Result) error {
			r.SetThreat("EICAR test signature")
			return nil
		}}
		p := NewPipeline(NewRegistry(threat), nil, nil)
		res := p.Scan(ctx, msg, ScopeIncoming)

		assert.True(t, res.Threat())
		assert.Equal(t, "EICAR test signature", res.ThreatMessage())
		assert.True(t, res.Successful())
	})
}

func TestRegistryImmutable(t *testing.T) {
	list := []Inspector{scorer("a", 1)}
	reg := NewRegistry(list...)
	list[0] = scorer("b", 100)

	inspectors := reg.Inspectors()
	inspectors[0] = nil

	require.Equal(t, 1, reg.Len())
	res := NewPipeline(reg, nil, nil).Scan(context.Background(), &domain.Message{}, ScopeIncoming)
	assert.Equal(t, 1.0, res.SpamScore())
}

// 属性：分数总是等于各检查项分数之和
func TestSpamScoreSumProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		scores := rapid.SliceOf(rapid.IntRange(-5, 20)).Draw(t, "scores")

		res := NewResult(&domain.Message{}, ScopeIncoming)
		want := 0.0
		for _, s := range scores {
			res.AddCheck("x", float64(s), "")
			want += float64(s)
		}

		if got := res.SpamScore(); got != want {
			t.Fatalf("score %v != %v", got, want)
		}
	})
}

func TestDefaultInspectors(t *testing.T) {
	ctx := context.Background()
	p := NewPipeline(NewRegistry(DefaultInspectors(1024, 1.0)...), nil, nil)

	t.Run("干净邮件", func(t *testing.T) {
		msg := &domain.Message{
			Subject: "Quarterly sync",
			Text:    "See you tomorrow.",
			Headers: textproto.MIMEHeader{
				"Message-Id": {"<1@example.com>"},
				"Date":       {"Mon, 2 Jan 2006 15:04:05 -0700"},
				"From":       {"Alice <alice@example.com>"},
			},
			Raw: []byte("short"),
		}
		res := p.Scan(ctx, msg, ScopeIncoming)

		assert.Equal(t, 0.0, res.SpamScore())
		assert.False(t, res.Threat())
		assert.True(t, res.Successful())
	})

	t.Run("垃圾邮件关键词与缺失头部", func(t *testing.T) {
		msg := &domain.Message{
			Subject: "Congratulations WINNER",
			Text:    "Click here for free money, act now!",
			Headers: textproto.MIMEHeader{
				"From":     {"promo@spam.example"},
				"Reply-To": {"collect@elsewhere.example"},
			},
		}
		res := p.Scan(ctx, msg, ScopeIncoming)

		codes := map[string]float64{}
		for _, c := range res.Checks() {
			codes[c.Code] = c.Score
		}
		assert.Equal(t, 5.0, codes["SPAM_KEYWORDS"])
		assert.Contains(t, codes, "MISSING_MESSAGE_ID")
		assert.Contains(t, codes, "MISSING_DATE")
		assert.Contains(t, codes, "REPLY_TO_MISMATCH")
	})

	t.Run("危险附件", func(t *testing.T) {
		msg := &domain.Message{
			Subject:     "invoice",
			Attachments: []domain.Attachment{{Filename: "invoice.pdf.exe"}},
		}
		res := p.Scan(ctx, msg, ScopeIncoming)
		assert.True(t, res.Threat())
	})

	t.Run("可执行文件魔数", func(t *testing.T) {
		msg := &domain.Message{
			Subject:     "report",
			Attachments: []domain.Attachment{{Filename: "report.pdf", Content: []byte{0x4D, 0x5A, 0x90, 0x00}}},
		}
		res := p.Scan(ctx, msg, ScopeIncoming)
		assert.True(t, res.Threat())
	})

	t.Run("超大邮件中止检查", func(t *testing.T) {
		msg := &domain.Message{Subject: "lottery winner", Raw: make([]byte, 2048)}
		res := p.Scan(ctx, msg, ScopeIncoming)

		assert.True(t, res.InspectionError())
		assert.Equal(t, 0.0, res.SpamScore())
		_, err := res.Fault()
		assert.ErrorIs(t, err, ErrMessageTooLarge)
	})
}

package inspection

import (
	"bytes"
	"context"
	"path/filepath"
	"strings"
)

// AttachmentInspector 附件威胁检查
type AttachmentInspector struct {
	dangerousExtensions map[string]bool
}

// NewAttachmentInspector 创建附件检查器
func NewAttachmentInspector() *AttachmentInspector {
	return &AttachmentInspector{
		dangerousExtensions: map[string]bool{
			".exe": true,
			".bat": true,
			".cmd": true,
			".scr": true,
			".pif": true,
			".com": true,
			".vbs": true,
			".js":  true,
			".jar": true,
			".php": true,
			".asp": true,
			".jsp": true,
		},
	}
}

func (a *AttachmentInspector) Name() string { return "attachment" }

// 可执行文件魔数
var executableSignatures = [][]byte{
	{0x4D, 0x5A},             // PE executable
	{0x7F, 0x45, 0x4C, 0x46}, // ELF executable
	{0xFE, 0xED, 0xFA, 0xCE}, // Mach-O executable
	{0xCE, 0xFA, 0xED, 0xFE}, // Mach-O executable (reverse)
}

// Inspect 发现危险附件时标记威胁
func (a *AttachmentInspector) Inspect(_ context.Context, result *Result) error {
	msg := result.Message
	if msg == nil {
		return nil
	}

	for _, att := range msg.Attachments {
		ext := strings.ToLower(filepath.Ext(att.Filename))
		if a.dangerousExtensions[ext] {
			result.SetThreat("dangerous attachment extension: " + att.Filename)
			return nil
		}

		for _, sig := range executableSignatures {
			if bytes.HasPrefix(att.Content, sig) {
				result.SetThreat("executable attachment: " + att.Filename)
				return nil
			}
		}
	}

	return nil
}

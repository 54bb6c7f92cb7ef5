package stt

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"

	"github.com/dictation-core/processor/internal/resilience"
)

// WhisperLocal is a local fallback provider: no API key required, shells
// out to a locally installed whisper binary. It is always "configured"
// since it needs no credential. Each run goes through the resilient call
// wrapper it is given; cmd/processor gives it the same rate-limit,
// circuit-breaker and retry chain as the cloud providers.
type WhisperLocal struct {
	binaryPath string
	resilient  func(ctx context.Context, fn func(context.Context) error) error
	runCommand func(ctx context.Context, name string, args []string, stdin []byte) (string, error)
}

// NewWhisperLocal builds a local-binary provider. binaryPath defaults to
// "whisper" on PATH if empty.
func NewWhisperLocal(binaryPath string, resilientCall func(ctx context.Context, fn func(context.Context) error) error) *WhisperLocal {
	if binaryPath == "" {
		binaryPath = "whisper"
	}
	return &WhisperLocal{
		binaryPath: binaryPath,
		resilient:  resilientCall,
		runCommand: runLocalWhisper,
	}
}

func (p *WhisperLocal) Name() string              { return "whisper-local" }
func (p *WhisperLocal) IsConfigured() bool        { return true }
func (p *WhisperLocal) SupportsDiarization() bool { return false }
func (p *WhisperLocal) RequiresAPIKey() bool      { return false }

func (p *WhisperLocal) TestConnection(ctx context.Context) bool {
	_, err := exec.LookPath(p.binaryPath)
	return err == nil
}

func (p *WhisperLocal) Transcribe(ctx context.Context, audio []byte) (string, error) {
	result, err := p.TranscribeWithResult(ctx, audio)
	if err != nil {
		return "", err
	}
	if !result.Success {
		return "", nil
	}
	return result.Text, nil
}

func (p *WhisperLocal) TranscribeWithResult(ctx context.Context, audio []byte) (*TranscriptionResult, error) {
	var result TranscriptionResult
	err := p.resilient(ctx, func(ctx context.Context) error {
		text, err := p.runCommand(ctx, p.binaryPath, []string{"--output_format", "txt", "-"}, audio)
		if err != nil {
			return resilience.NewError(resilience.KindServiceUnavail, fmt.Errorf("whisper-local: %w", err))
		}
		text = strings.TrimSpace(text)
		if text == "" {
			return resilience.NewError(resilience.KindTranscription, fmt.Errorf("whisper-local: empty transcript"))
		}
		result = TranscriptionResult{
			Text:       text,
			Success:    true,
			Confidence: 0.5, // local model offers no confidence score; a conservative default
			Provider:   p.Name(),
		}
		return nil
	})
	if err != nil {
		return &TranscriptionResult{Success: false, Error: err.Error(), Provider: p.Name()}, nil
	}
	return &result, nil
}

func runLocalWhisper(ctx context.Context, name string, args []string, stdin []byte) (string, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdin = bytes.NewReader(stdin)
	var out bytes.Buffer
	cmd.Stdout = &out
	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("running %s: %w", name, err)
	}
	return out.String(), nil
}

package stt

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"time"

	"github.com/dictation-core/processor/internal/resilience"
)

// Groq is a cloud general-purpose provider using Groq's hosted Whisper
// endpoint.
type Groq struct {
	apiKey     string
	httpClient *http.Client
	resilient  func(ctx context.Context, fn func(context.Context) error) error
}

func NewGroq(apiKey string, resilientCall func(ctx context.Context, fn func(context.Context) error) error) *Groq {
	return &Groq{
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: 60 * time.Second},
		resilient:  resilientCall,
	}
}

func (p *Groq) Name() string              { return "groq" }
func (p *Groq) IsConfigured() bool        { return p.apiKey != "" }
func (p *Groq) SupportsDiarization() bool { return false }
func (p *Groq) RequiresAPIKey() bool      { return true }

func (p *Groq) TestConnection(ctx context.Context) bool {
	if !p.IsConfigured() {
		return false
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, "https://api.groq.com/openai/v1/models", nil)
	if err != nil {
		return false
	}
	req.Header.Set("Authorization", "Bearer "+p.apiKey)
	resp, err := p.httpClient.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

func (p *Groq) Transcribe(ctx context.Context, audio []byte) (string, error) {
	result, err := p.TranscribeWithResult(ctx, audio)
	if err != nil {
		return "", err
	}
	if !result.Success {
		return "", nil
	}
	return result.Text, nil
}

type groqResponse struct {
	Text string `json:"text"`
}

func (p *Groq) TranscribeWithResult(ctx context.Context, audio []byte) (*TranscriptionResult, error) {
	if !p.IsConfigured() {
		return nil, resilience.NewError(resilience.KindAuthentication, fmt.Errorf("groq: missing API key"))
	}

	var result TranscriptionResult
	err := p.resilient(ctx, func(ctx context.Context) error {
		var body bytes.Buffer
		writer := multipart.NewWriter(&body)
		part, err := writer.CreateFormFile("file", "audio.wav")
		if err != nil {
			return fmt.Errorf("building groq multipart request: %w", err)
		}
		if _, err := io.Copy(part, newWAVReader(audio)); err != nil {
			return fmt.Errorf("writing audio to groq request: %w", err)
		}
		_ = writer.WriteField("model", "whisper-large-v3")
		if err := writer.Close(); err != nil {
			return fmt.Errorf("closing groq multipart writer: %w", err)
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, "https://api.groq.com/openai/v1/audio/transcriptions", &body)
		if err != nil {
			return fmt.Errorf("building groq request: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+p.apiKey)
		req.Header.Set("Content-Type", writer.FormDataContentType())

		resp, err := p.httpClient.Do(req)
		if err != nil {
			return resilience.NewError(resilience.KindServiceUnavail, err)
		}
		defer resp.Body.Close()

		if classified := classifyStatus(resp.StatusCode); classified != "" {
			respBody, _ := io.ReadAll(resp.Body)
			return resilience.NewError(classified, fmt.Errorf("groq status %d: %s", resp.StatusCode, respBody))
		}

		var parsed groqResponse
		if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
			return resilience.NewError(resilience.KindTranscription, fmt.Errorf("decoding groq response: %w", err))
		}
		if parsed.Text == "" {
			return resilience.NewError(resilience.KindTranscription, fmt.Errorf("groq: empty transcript"))
		}

		result = TranscriptionResult{Text: parsed.Text, Success: true, Provider: p.Name()}
		return nil
	})
	if err != nil {
		return &TranscriptionResult{Success: false, Error: err.Error(), Provider: p.Name()}, nil
	}
	return &result, nil
}

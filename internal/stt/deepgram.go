package stt

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/dictation-core/processor/internal/resilience"
)

// Deepgram is the cloud medical-grade provider, the first entry in the
// default failover order, specialised with a medical transcription model
// and nova-class diarization.
type Deepgram struct {
	apiKey     string
	httpClient *http.Client
	resilient  func(ctx context.Context, fn func(context.Context) error) error
}

// NewDeepgram builds a Deepgram provider. resilientCall should wrap a
// resilience.Call configured with this provider's rate limiter and
// circuit breaker around the network call.
func NewDeepgram(apiKey string, resilientCall func(ctx context.Context, fn func(context.Context) error) error) *Deepgram {
	return &Deepgram{
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: 60 * time.Second},
		resilient:  resilientCall,
	}
}

func (p *Deepgram) Name() string                { return "deepgram" }
func (p *Deepgram) IsConfigured() bool          { return p.apiKey != "" }
func (p *Deepgram) SupportsDiarization() bool   { return true }
func (p *Deepgram) RequiresAPIKey() bool        { return true }

func (p *Deepgram) TestConnection(ctx context.Context) bool {
	if !p.IsConfigured() {
		return false
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, "https://api.deepgram.com/v1/projects", nil)
	if err != nil {
		return false
	}
	req.Header.Set("Authorization", "Token "+p.apiKey)
	resp, err := p.httpClient.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

func (p *Deepgram) Transcribe(ctx context.Context, audio []byte) (string, error) {
	result, err := p.TranscribeWithResult(ctx, audio)
	if err != nil {
		return "", err
	}
	if !result.Success {
		return "", nil
	}
	return result.Text, nil
}

type deepgramResponse struct {
	Results struct {
		Channels []struct {
			Alternatives []struct {
				Transcript string  `json:"transcript"`
				Confidence float64 `json:"confidence"`
				Words      []struct {
					Word      string  `json:"word"`
					Start     float64 `json:"start"`
					End       float64 `json:"end"`
					Speaker   *int    `json:"speaker,omitempty"`
				} `json:"words"`
			} `json:"alternatives"`
		} `json:"channels"`
	} `json:"results"`
}

func (p *Deepgram) TranscribeWithResult(ctx context.Context, audio []byte) (*TranscriptionResult, error) {
	if !p.IsConfigured() {
		return nil, resilience.NewError(resilience.KindAuthentication, fmt.Errorf("deepgram: missing API key"))
	}

	var result TranscriptionResult
	err := p.resilient(ctx, func(ctx context.Context) error {
		url := "https://api.deepgram.com/v1/listen?model=nova-2-medical&diarize=true"
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, newWAVReader(audio))
		if err != nil {
			return fmt.Errorf("building deepgram request: %w", err)
		}
		req.Header.Set("Authorization", "Token "+p.apiKey)
		req.Header.Set("Content-Type", "audio/wav")

		resp, err := p.httpClient.Do(req)
		if err != nil {
			return resilience.NewError(resilience.KindServiceUnavail, err)
		}
		defer resp.Body.Close()

		if classified := classifyStatus(resp.StatusCode); classified != "" {
			body, _ := io.ReadAll(resp.Body)
			return resilience.NewError(classified, fmt.Errorf("deepgram status %d: %s", resp.StatusCode, body))
		}

		var parsed deepgramResponse
		if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
			return resilience.NewError(resilience.KindTranscription, fmt.Errorf("decoding deepgram response: %w", err))
		}
		if len(parsed.Results.Channels) == 0 || len(parsed.Results.Channels[0].Alternatives) == 0 {
			return resilience.NewError(resilience.KindTranscription, fmt.Errorf("deepgram: empty response"))
		}

		alt := parsed.Results.Channels[0].Alternatives[0]
		words := make([]Word, 0, len(alt.Words))
		for _, w := range alt.Words {
			speaker := ""
			if w.Speaker != nil {
				speaker = fmt.Sprintf("%d", *w.Speaker)
			}
			words = append(words, Word{Text: w.Word, SpeakerID: speaker, StartS: w.Start, EndS: w.End})
		}

		text := alt.Transcript
		if hasDiarization(words) {
			text = GroupDiarizedWords(words)
		}

		result = TranscriptionResult{
			Text:       text,
			Success:    true,
			Confidence: alt.Confidence,
			Words:      words,
			Provider:   p.Name(),
		}
		return nil
	})
	if err != nil {
		return &TranscriptionResult{Success: false, Error: err.Error(), Provider: p.Name()}, nil
	}
	return &result, nil
}

func hasDiarization(words []Word) bool {
	for _, w := range words {
		if w.SpeakerID != "" {
			return true
		}
	}
	return false
}

func classifyStatus(status int) resilience.ErrorKind {
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return resilience.KindAuthentication
	case status == http.StatusTooManyRequests:
		return resilience.KindRateLimit
	case status >= 500:
		return resilience.KindServiceUnavail
	case status >= 400:
		return resilience.KindAPI
	default:
		return ""
	}
}

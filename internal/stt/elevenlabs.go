package stt

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dictation-core/processor/internal/resilience"
)

// ElevenLabs is a cloud general-purpose provider. It is the one provider
// in the failover chain known to occasionally truncate a transcript when
// fed audio from an in-memory multipart body; RetryWithFile controls
// whether a truncated-looking result is retried once from a temp file on
// disk instead.
type ElevenLabs struct {
	apiKey        string
	httpClient    *http.Client
	resilient     func(ctx context.Context, fn func(context.Context) error) error
	RetryWithFile bool
}

func NewElevenLabs(apiKey string, resilientCall func(ctx context.Context, fn func(context.Context) error) error) *ElevenLabs {
	return &ElevenLabs{
		apiKey:        apiKey,
		httpClient:    &http.Client{Timeout: 60 * time.Second},
		resilient:     resilientCall,
		RetryWithFile: true,
	}
}

func (p *ElevenLabs) Name() string              { return "elevenlabs" }
func (p *ElevenLabs) IsConfigured() bool        { return p.apiKey != "" }
func (p *ElevenLabs) SupportsDiarization() bool { return true }
func (p *ElevenLabs) RequiresAPIKey() bool      { return true }

func (p *ElevenLabs) TestConnection(ctx context.Context) bool {
	if !p.IsConfigured() {
		return false
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, "https://api.elevenlabs.io/v1/user", nil)
	if err != nil {
		return false
	}
	req.Header.Set("xi-api-key", p.apiKey)
	resp, err := p.httpClient.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

func (p *ElevenLabs) Transcribe(ctx context.Context, audio []byte) (string, error) {
	result, err := p.TranscribeWithResult(ctx, audio)
	if err != nil {
		return "", err
	}
	if !result.Success {
		return "", nil
	}
	return result.Text, nil
}

type elevenLabsResponse struct {
	Text  string `json:"text"`
	Words []struct {
		Text    string  `json:"text"`
		Start   float64 `json:"start"`
		End     float64 `json:"end"`
		Speaker string  `json:"speaker_id,omitempty"`
	} `json:"words"`
}

func (p *ElevenLabs) TranscribeWithResult(ctx context.Context, audio []byte) (*TranscriptionResult, error) {
	if !p.IsConfigured() {
		return nil, resilience.NewError(resilience.KindAuthentication, fmt.Errorf("elevenlabs: missing API key"))
	}

	result, err := p.transcribeOnce(ctx, func() (io.Reader, func(), error) {
		return newWAVReader(audio), func() {}, nil
	})
	if err != nil {
		return &TranscriptionResult{Success: false, Error: err.Error(), Provider: p.Name()}, nil
	}

	if p.RetryWithFile {
		if duration, ok := wavDuration(audio); ok && looksTruncated(result.Text, duration) {
			log.Warn().Int("chars", len(result.Text)).Float64("duration_s", duration.Seconds()).
				Msg("elevenlabs transcript looks truncated, retrying via temp file")
			retried, retryErr := p.transcribeOnce(ctx, func() (io.Reader, func(), error) {
				path, cleanup, err := tempWAVFile(audio)
				if err != nil {
					return nil, nil, err
				}
				f, err := os.Open(path)
				if err != nil {
					cleanup()
					return nil, nil, fmt.Errorf("opening temp wav file: %w", err)
				}
				return f, func() { f.Close(); cleanup() }, nil
			})
			if retryErr == nil && len(retried.Text) > len(result.Text) {
				log.Info().Int("retry_chars", len(retried.Text)).Int("original_chars", len(result.Text)).
					Msg("elevenlabs temp-file retry produced a longer transcript")
				result = retried
			}
		}
	}

	return result, nil
}

// transcribeOnce performs a single speech-to-text POST using whatever
// io.Reader openAudio produces, closing its resources when done.
func (p *ElevenLabs) transcribeOnce(ctx context.Context, openAudio func() (io.Reader, func(), error)) (*TranscriptionResult, error) {
	var result TranscriptionResult
	err := p.resilient(ctx, func(ctx context.Context) error {
		audioReader, closeAudio, err := openAudio()
		if err != nil {
			return resilience.NewError(resilience.KindInput, err)
		}
		defer closeAudio()

		var body bytes.Buffer
		writer := multipart.NewWriter(&body)
		part, err := writer.CreateFormFile("audio", "audio.wav")
		if err != nil {
			return fmt.Errorf("building elevenlabs multipart request: %w", err)
		}
		if _, err := io.Copy(part, audioReader); err != nil {
			return fmt.Errorf("writing audio to elevenlabs request: %w", err)
		}
		_ = writer.WriteField("model_id", "scribe_v1")
		_ = writer.WriteField("diarize", "true")
		if err := writer.Close(); err != nil {
			return fmt.Errorf("closing elevenlabs multipart writer: %w", err)
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, "https://api.elevenlabs.io/v1/speech-to-text", &body)
		if err != nil {
			return fmt.Errorf("building elevenlabs request: %w", err)
		}
		req.Header.Set("xi-api-key", p.apiKey)
		req.Header.Set("Content-Type", writer.FormDataContentType())

		resp, err := p.httpClient.Do(req)
		if err != nil {
			return resilience.NewError(resilience.KindServiceUnavail, err)
		}
		defer resp.Body.Close()

		if classified := classifyStatus(resp.StatusCode); classified != "" {
			respBody, _ := io.ReadAll(resp.Body)
			return resilience.NewError(classified, fmt.Errorf("elevenlabs status %d: %s", resp.StatusCode, respBody))
		}

		var parsed elevenLabsResponse
		if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
			return resilience.NewError(resilience.KindTranscription, fmt.Errorf("decoding elevenlabs response: %w", err))
		}
		if parsed.Text == "" {
			return resilience.NewError(resilience.KindTranscription, fmt.Errorf("elevenlabs: empty transcript"))
		}

		words := make([]Word, 0, len(parsed.Words))
		for _, w := range parsed.Words {
			words = append(words, Word{Text: w.Text, SpeakerID: w.Speaker, StartS: w.Start, EndS: w.End})
		}
		text := parsed.Text
		if hasDiarization(words) {
			text = GroupDiarizedWords(words)
		}

		result = TranscriptionResult{Text: text, Success: true, Words: words, Provider: p.Name()}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &result, nil
}

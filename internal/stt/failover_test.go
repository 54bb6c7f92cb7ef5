package stt

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubProvider struct {
	name        string
	configured  bool
	diarization bool
	transcribe  func(ctx context.Context, audio []byte) (*TranscriptionResult, error)
}

func (s *stubProvider) Name() string              { return s.name }
func (s *stubProvider) IsConfigured() bool        { return s.configured }
func (s *stubProvider) SupportsDiarization() bool { return s.diarization }
func (s *stubProvider) RequiresAPIKey() bool      { return true }
func (s *stubProvider) TestConnection(ctx context.Context) bool { return s.configured }
func (s *stubProvider) Transcribe(ctx context.Context, audio []byte) (string, error) {
	r, err := s.transcribe(ctx, audio)
	if err != nil || !r.Success {
		return "", err
	}
	return r.Text, nil
}
func (s *stubProvider) TranscribeWithResult(ctx context.Context, audio []byte) (*TranscriptionResult, error) {
	return s.transcribe(ctx, audio)
}

func TestFailoverFallsBackToSecondaryProvider(t *testing.T) {
	primaryCalls := 0
	primary := &stubProvider{
		name: "primary", configured: true,
		transcribe: func(ctx context.Context, audio []byte) (*TranscriptionResult, error) {
			primaryCalls++
			return &TranscriptionResult{Success: false, Error: "down"}, nil
		},
	}
	secondary := &stubProvider{
		name: "secondary", configured: true,
		transcribe: func(ctx context.Context, audio []byte) (*TranscriptionResult, error) {
			return &TranscriptionResult{Success: true, Text: "ok"}, nil
		},
	}

	mgr := NewFailoverManager(DefaultFailoverManagerConfig(), []Provider{primary, secondary})
	result := mgr.Transcribe(context.Background(), nil)

	require.True(t, result.Success)
	assert.Equal(t, "secondary", result.Provider)
	assert.Equal(t, 2, result.FailoverAttempts)
}

func TestFailoverSkipsProviderAfterRepeatedFailures(t *testing.T) {
	calls := 0
	flaky := &stubProvider{
		name: "flaky", configured: true,
		transcribe: func(ctx context.Context, audio []byte) (*TranscriptionResult, error) {
			calls++
			return &TranscriptionResult{Success: false, Error: "down"}, nil
		},
	}
	backup := &stubProvider{
		name: "backup", configured: true,
		transcribe: func(ctx context.Context, audio []byte) (*TranscriptionResult, error) {
			return &TranscriptionResult{Success: true, Text: "ok"}, nil
		},
	}

	cfg := FailoverManagerConfig{MaxFailuresBeforeSkip: 3, SkipDuration: time.Hour}
	mgr := NewFailoverManager(cfg, []Provider{flaky, backup})

	for i := 0; i < 3; i++ {
		mgr.Transcribe(context.Background(), nil)
	}
	assert.Equal(t, 3, calls)

	mgr.Transcribe(context.Background(), nil)
	assert.Equal(t, 3, calls, "flaky provider must be skipped once failure threshold is reached")
}

func TestGroupDiarizedWordsLabelsSpeakers(t *testing.T) {
	words := []Word{
		{Text: "Hello", SpeakerID: "0"},
		{Text: "there", SpeakerID: "0"},
		{Text: "Hi", SpeakerID: "1"},
	}
	out := GroupDiarizedWords(words)
	assert.Contains(t, out, "Speaker 0:\nHello there")
	assert.Contains(t, out, "Speaker 1:\nHi")
}

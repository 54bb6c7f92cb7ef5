// Package stt defines the speech-to-text provider contract, four concrete
// providers, and the failover manager that selects among them.
package stt

import (
	"bytes"
	"context"
)

// Word is one diarized or plain word in a transcription result.
type Word struct {
	Text       string
	SpeakerID  string // empty when the provider returns no diarization
	StartS     float64
	EndS       float64
}

// TranscriptionResult is the rich return value of TranscribeWithResult.
type TranscriptionResult struct {
	Text             string
	Success          bool
	Error            string
	Confidence       float64
	DurationSeconds  float64
	Words            []Word
	Metadata         map[string]any
	Provider         string
	FailoverAttempts int
}

// Provider is the contract every STT backend implements.
type Provider interface {
	Name() string
	IsConfigured() bool
	SupportsDiarization() bool
	RequiresAPIKey() bool

	// TestConnection never returns an error to the caller; it reports
	// reachability only.
	TestConnection(ctx context.Context) bool

	// Transcribe returns an empty string on soft failure (including
	// failed or cancelled calls) and only returns an error when the call
	// cannot be attempted at all, such as a cloud provider with no API key.
	Transcribe(ctx context.Context, audio []byte) (string, error)

	TranscribeWithResult(ctx context.Context, audio []byte) (*TranscriptionResult, error)
}

// GroupDiarizedWords groups consecutive same-speaker words into paragraphs
// labeled "Speaker <id>:". Words with no speaker id are passed through as
// a single unlabeled paragraph.
func GroupDiarizedWords(words []Word) string {
	if len(words) == 0 {
		return ""
	}

	var out bytes.Buffer
	currentSpeaker := ""
	first := true

	flushSpeakerLabel := func(speaker string) {
		if !first {
			out.WriteString("\n\n")
		}
		first = false
		if speaker != "" {
			out.WriteString("Speaker ")
			out.WriteString(speaker)
			out.WriteString(":\n")
		}
	}

	for i, w := range words {
		if i == 0 || w.SpeakerID != currentSpeaker {
			currentSpeaker = w.SpeakerID
			flushSpeakerLabel(currentSpeaker)
		} else {
			out.WriteString(" ")
		}
		out.WriteString(w.Text)
	}

	return out.String()
}

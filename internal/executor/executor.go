// Package executor implements the per-worker orchestration that turns a
// queued recording into a transcript and its generated artifacts,
// persisting each step incrementally. It satisfies queue.TaskRunner.
package executor

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dictation-core/processor/internal/generate"
	"github.com/dictation-core/processor/internal/queue"
	"github.com/dictation-core/processor/internal/store"
	"github.com/dictation-core/processor/internal/stt"
)

var patientNameSanitizer = regexp.MustCompile(`[^A-Za-z0-9 _-]`)

// AudioWriter persists an audio blob under storage and returns the path it
// was written to. Kept as an interface so tests can swap a fake FS.
type AudioWriter interface {
	Write(filename string, data []byte) (path string, err error)
}

// Executor is the concrete queue.TaskRunner for recording processing.
type Executor struct {
	store     *store.Store
	failover  *stt.FailoverManager
	generator generate.Generator
	audio     AudioWriter
}

// New builds an Executor.
func New(st *store.Store, failover *stt.FailoverManager, generator generate.Generator, audio AudioWriter) *Executor {
	return &Executor{store: st, failover: failover, generator: generator, audio: audio}
}

// Run marks the task processing, transcribes the audio if needed, then
// generates the requested artifacts (SOAP note, referral, letter) in order,
// persisting each incrementally, and checks for cooperative cancellation
// before each step.
func (e *Executor) Run(ctx context.Context, task *queue.Task) (queue.Result, error) {
	start := time.Now()
	result := task.Result

	if task.Cancelled() {
		return result, nil
	}
	if err := e.store.SetProcessing(ctx, task.RecordingID); err != nil {
		return result, fmt.Errorf("marking processing: %w", err)
	}

	if task.Cancelled() {
		return result, nil
	}
	if len(task.AudioData) > 0 && task.Transcript == "" {
		if err := e.transcribe(ctx, task, &result); err != nil {
			return result, err
		}
	} else if task.Transcript != "" {
		result.Transcript = task.Transcript
	}

	if task.Cancelled() {
		return result, nil
	}
	if task.Options.GenerateSOAP && result.Transcript != "" {
		soap, err := e.generator.GenerateSOAP(ctx, result.Transcript, task.Context)
		if err != nil {
			return result, fmt.Errorf("generating soap note: %w", err)
		}
		result.SOAPNote = soap
		if err := e.store.SaveArtifact(ctx, task.RecordingID, "soap_note", soap); err != nil {
			return result, fmt.Errorf("persisting soap note: %w", err)
		}
	}

	if task.Cancelled() {
		return result, nil
	}
	if task.Options.GenerateReferral && result.SOAPNote != "" {
		referral, err := e.generator.GenerateReferral(ctx, result.SOAPNote, task.Context)
		if err != nil {
			return result, fmt.Errorf("generating referral: %w", err)
		}
		result.Referral = referral
		if err := e.store.SaveArtifact(ctx, task.RecordingID, "referral", referral); err != nil {
			return result, fmt.Errorf("persisting referral: %w", err)
		}
	}

	if task.Cancelled() {
		return result, nil
	}
	sourceText := result.Transcript
	if result.SOAPNote != "" {
		sourceText = result.SOAPNote
	}
	if task.Options.GenerateLetter && sourceText != "" {
		letter, err := e.generator.GenerateLetter(ctx, sourceText, "", task.Context)
		if err != nil {
			return result, fmt.Errorf("generating letter: %w", err)
		}
		result.Letter = letter
		if err := e.store.SaveArtifact(ctx, task.RecordingID, "letter", letter); err != nil {
			return result, fmt.Errorf("persisting letter: %w", err)
		}
	}

	if err := e.store.Complete(ctx, task.RecordingID); err != nil {
		return result, fmt.Errorf("marking completed: %w", err)
	}

	log.Debug().
		Str("task_id", task.TaskID).
		Int64("recording_id", task.RecordingID).
		Dur("processing_time", time.Since(start)).
		Msg("task completed")

	return result, nil
}

// transcribe persists the recording's audio (if not already stored) and
// runs it through the STT failover manager.
func (e *Executor) transcribe(ctx context.Context, task *queue.Task, result *queue.Result) error {
	if e.audio != nil {
		filename, err := audioFilename(task.PatientName)
		if err != nil {
			return fmt.Errorf("building audio filename: %w", err)
		}
		path, err := e.audio.Write(filename, task.AudioData)
		if err != nil {
			return fmt.Errorf("persisting audio: %w", err)
		}
		if err := e.store.SaveAudioPath(ctx, task.RecordingID, path); err != nil {
			return fmt.Errorf("persisting audio path: %w", err)
		}
	}

	transcription := e.failover.Transcribe(ctx, task.AudioData)
	if !transcription.Success {
		return fmt.Errorf("transcription failed: %s", transcription.Error)
	}

	result.Transcript = transcription.Text
	result.Provider = transcription.Provider
	if err := e.store.SaveTranscript(ctx, task.RecordingID, transcription.Text); err != nil {
		return fmt.Errorf("persisting transcript: %w", err)
	}
	return nil
}

// audioFilename builds recording_<safe_patient_name>_<dd-mm-yy>_<HH-MM-SS>_<8-char-rand>.mp3.
// The random suffix is generated per call, not seeded from the task, so
// two concurrent writes for the same patient never collide.
func audioFilename(patientName string) (string, error) {
	safe := sanitizePatientName(patientName)
	now := time.Now()
	suffix, err := randomHex(4)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("recording_%s_%s_%s_%s.mp3",
		safe, now.Format("02-01-06"), now.Format("15-04-05"), suffix), nil
}

func sanitizePatientName(name string) string {
	cleaned := patientNameSanitizer.ReplaceAllString(name, "")
	cleaned = strings.TrimSpace(cleaned)
	if cleaned == "" {
		cleaned = "unknown"
	}
	if len(cleaned) > 50 {
		cleaned = cleaned[:50]
	}
	return cleaned
}

func randomHex(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generating random suffix: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

package executor

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dictation-core/processor/internal/generate"
	"github.com/dictation-core/processor/internal/queue"
	"github.com/dictation-core/processor/internal/store"
	"github.com/dictation-core/processor/internal/stt"
)

type stubProvider struct {
	name string
	text string
}

func (s *stubProvider) Name() string              { return s.name }
func (s *stubProvider) IsConfigured() bool        { return true }
func (s *stubProvider) SupportsDiarization() bool { return false }
func (s *stubProvider) RequiresAPIKey() bool      { return false }
func (s *stubProvider) TestConnection(ctx context.Context) bool { return true }
func (s *stubProvider) Transcribe(ctx context.Context, audio []byte) (string, error) {
	return s.text, nil
}
func (s *stubProvider) TranscribeWithResult(ctx context.Context, audio []byte) (*stt.TranscriptionResult, error) {
	return &stt.TranscriptionResult{Success: true, Text: s.text, Provider: s.name}, nil
}

type fakeAudioWriter struct {
	written map[string][]byte
}

func (w *fakeAudioWriter) Write(filename string, data []byte) (string, error) {
	if w.written == nil {
		w.written = make(map[string][]byte)
	}
	w.written[filename] = data
	return "/tmp/" + filename, nil
}

func newTestStore(t *testing.T) (*store.Store, sqlmock.Sqlmock) {
	t.Helper()
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	mock.MatchExpectationsInOrder(false)
	t.Cleanup(func() { sqlDB.Close() })
	return store.New(sqlDB), mock
}

func TestRunTranscribesAndGeneratesAllArtifacts(t *testing.T) {
	st, mock := newTestStore(t)
	mock.ExpectExec("UPDATE recordings SET processing_status").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE recordings SET audio_path").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE recordings SET transcript").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE recordings SET soap_note").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE recordings SET referral").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE recordings SET letter").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE recordings SET processing_status").WillReturnResult(sqlmock.NewResult(0, 1))

	provider := &stubProvider{name: "primary", text: "Hello doctor"}
	failover := stt.NewFailoverManager(stt.DefaultFailoverManagerConfig(), []stt.Provider{provider})
	gen := &generate.StaticGenerator{SOAP: "S: ...", Referral: "R: ...", Letter: "L: ..."}
	audio := &fakeAudioWriter{}

	exec := New(st, failover, gen, audio)

	task := &queue.Task{
		TaskID:      "t1",
		RecordingID: 42,
		AudioData:   []byte{0x01, 0x02},
		PatientName: "Alice Example",
		Options:     queue.ProcessOptions{GenerateSOAP: true, GenerateReferral: true, GenerateLetter: true},
	}

	result, err := exec.Run(context.Background(), task)
	require.NoError(t, err)
	assert.Equal(t, "Hello doctor", result.Transcript)
	assert.Equal(t, "S: ...", result.SOAPNote)
	assert.Equal(t, "R: ...", result.Referral)
	assert.Equal(t, "L: ...", result.Letter)
	assert.Equal(t, "primary", result.Provider)
	assert.Len(t, audio.written, 1)
}

func TestRunSkipsStepsAfterCancellation(t *testing.T) {
	st, _ := newTestStore(t)

	provider := &stubProvider{name: "primary", text: "should not be reached"}
	failover := stt.NewFailoverManager(stt.DefaultFailoverManagerConfig(), []stt.Provider{provider})
	gen := &generate.StaticGenerator{SOAP: "S: ..."}

	exec := New(st, failover, gen, &fakeAudioWriter{})

	task := &queue.Task{
		TaskID:      "t2",
		RecordingID: 7,
		Transcript:  "already transcribed",
		Options:     queue.ProcessOptions{GenerateSOAP: true},
	}
	task.Cancel()

	result, err := exec.Run(context.Background(), task)
	require.NoError(t, err)
	assert.Empty(t, result.SOAPNote)
}

func TestSanitizePatientNameStripsDisallowedCharsAndTruncates(t *testing.T) {
	long := ""
	for i := 0; i < 80; i++ {
		long += "a"
	}
	sanitized := sanitizePatientName("Jane*Doe!! " + long)
	assert.LessOrEqual(t, len(sanitized), 50)
	assert.NotContains(t, sanitized, "*")
	assert.NotContains(t, sanitized, "!")
}

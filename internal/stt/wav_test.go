package stt

import (
	"encoding/binary"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// buildWAV constructs a minimal canonical RIFF/WAVE header plus dataSize
// bytes of silent PCM data, enough for wavDuration to parse.
func buildWAV(sampleRate uint32, channels, bitsPerSample uint16, dataSize uint32) []byte {
	blockAlign := channels * (bitsPerSample / 8)
	byteRate := sampleRate * uint32(blockAlign)

	buf := make([]byte, 44+dataSize)
	copy(buf[0:4], "RIFF")
	binary.LittleEndian.PutUint32(buf[4:8], 36+dataSize)
	copy(buf[8:12], "WAVE")
	copy(buf[12:16], "fmt ")
	binary.LittleEndian.PutUint32(buf[16:20], 16)
	binary.LittleEndian.PutUint16(buf[20:22], 1) // PCM
	binary.LittleEndian.PutUint16(buf[22:24], channels)
	binary.LittleEndian.PutUint32(buf[24:28], sampleRate)
	binary.LittleEndian.PutUint32(buf[28:32], byteRate)
	binary.LittleEndian.PutUint16(buf[32:34], blockAlign)
	binary.LittleEndian.PutUint16(buf[34:36], bitsPerSample)
	copy(buf[36:40], "data")
	binary.LittleEndian.PutUint32(buf[40:44], dataSize)
	return buf
}

func TestWAVDurationParsesCanonicalHeader(t *testing.T) {
	// 16kHz, mono, 16-bit, 2 seconds of audio.
	sampleRate := uint32(16000)
	dataSize := sampleRate * 2 * 2 // 2 bytes/sample * 2 seconds
	audio := buildWAV(sampleRate, 1, 16, dataSize)

	dur, ok := wavDuration(audio)
	require.True(t, ok)
	assert.InDelta(t, 2*time.Second, dur, float64(50*time.Millisecond))
}

func TestWAVDurationRejectsNonWAV(t *testing.T) {
	_, ok := wavDuration([]byte("not a wav file"))
	assert.False(t, ok)
}

func TestLooksTruncatedFlagsShortTranscriptOnLongAudio(t *testing.T) {
	assert.True(t, looksTruncated("too short", 30*time.Second))
	assert.False(t, looksTruncated("a transcript with plenty of words to satisfy the heuristic check, running well past ninety characters", 30*time.Second))
}

func TestLooksTruncatedIgnoresShortAudio(t *testing.T) {
	assert.False(t, looksTruncated("", 5*time.Second), "clips under 10s are never flagged")
}

func TestTempWAVFileRoundTrips(t *testing.T) {
	audio := buildWAV(16000, 1, 16, 320)
	path, cleanup, err := tempWAVFile(audio)
	require.NoError(t, err)
	defer cleanup()

	written, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, audio, written)
}

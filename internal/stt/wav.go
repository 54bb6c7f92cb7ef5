package stt

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"time"
)

// newWAVReader exports audio to an in-memory WAV buffer for the API call.
// Audio is already accepted as WAV-encoded bytes at the queue boundary, so
// this wraps it in a reusable io.Reader rather than re-encoding.
func newWAVReader(audio []byte) io.Reader {
	return bytes.NewReader(audio)
}

// wavDuration parses a canonical RIFF/WAVE header and reports the audio's
// playback duration. It reports ok=false for anything it can't parse,
// which callers treat as "duration unknown" rather than an error.
func wavDuration(audio []byte) (dur time.Duration, ok bool) {
	if len(audio) < 44 || string(audio[0:4]) != "RIFF" || string(audio[8:12]) != "WAVE" {
		return 0, false
	}

	var sampleRate, byteRate uint32
	var blockAlign, bitsPerSample uint16
	var dataSize uint32
	haveFmt, haveData := false, false

	offset := 12
	for offset+8 <= len(audio) {
		chunkID := string(audio[offset : offset+4])
		chunkSize := binary.LittleEndian.Uint32(audio[offset+4 : offset+8])
		body := offset + 8

		switch chunkID {
		case "fmt ":
			if body+16 > len(audio) {
				return 0, false
			}
			sampleRate = binary.LittleEndian.Uint32(audio[body+4 : body+8])
			byteRate = binary.LittleEndian.Uint32(audio[body+8 : body+12])
			blockAlign = binary.LittleEndian.Uint16(audio[body+12 : body+14])
			bitsPerSample = binary.LittleEndian.Uint16(audio[body+14 : body+16])
			haveFmt = true
		case "data":
			dataSize = chunkSize
			haveData = true
		}

		advance := int(chunkSize)
		if advance%2 == 1 {
			advance++
		}
		offset = body + advance
		if haveFmt && haveData {
			break
		}
	}

	if !haveFmt || !haveData || sampleRate == 0 || bitsPerSample == 0 || blockAlign == 0 {
		return 0, false
	}

	if byteRate == 0 {
		byteRate = sampleRate * uint32(blockAlign)
	}
	if byteRate == 0 {
		return 0, false
	}

	seconds := float64(dataSize) / float64(byteRate)
	return time.Duration(seconds * float64(time.Second)), true
}

// looksTruncated applies the conservative "at least 3 characters of
// transcript per second of speech" heuristic, and only fires for audio
// longer than 10 seconds to avoid flagging short clips with naturally
// sparse speech.
func looksTruncated(transcript string, duration time.Duration) bool {
	seconds := duration.Seconds()
	if seconds <= 10 {
		return false
	}
	expectedMinChars := seconds * 3
	return float64(len(transcript)) < expectedMinChars
}

// tempWAVFile writes audio to a temp file on disk and returns its path
// alongside a cleanup func the caller must run once done with it. Some
// providers produce a truncated transcript from an in-memory multipart
// body; re-issuing the request from a real file on disk is the documented
// workaround.
func tempWAVFile(audio []byte) (path string, cleanup func(), err error) {
	f, err := os.CreateTemp("", "stt-retry-*.wav")
	if err != nil {
		return "", nil, fmt.Errorf("creating temp wav file: %w", err)
	}
	path = f.Name()
	cleanup = func() { os.Remove(path) }

	if _, err := f.Write(audio); err != nil {
		f.Close()
		cleanup()
		return "", nil, fmt.Errorf("writing temp wav file: %w", err)
	}
	if err := f.Close(); err != nil {
		cleanup()
		return "", nil, fmt.Errorf("closing temp wav file: %w", err)
	}
	return path, cleanup, nil
}

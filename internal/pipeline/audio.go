package pipeline

import (
	"bytes"
	"encoding/binary"
	"math"
	"net/http"
	"time"
)

// audioFormat sniffs the container of rendered audio.
func audioFormat(data []byte) (ext, contentType string) {
	switch {
	case len(data) >= 12 && bytes.Equal(data[0:4], []byte("RIFF")) && bytes.Equal(data[8:12], []byte("WAVE")):
		return "wav", "audio/wav"
	case bytes.HasPrefix(data, []byte("ID3")),
		len(data) >= 2 && data[0] == 0xFF && data[1]&0xE0 == 0xE0:
		return "mp3", "audio/mpeg"
	case bytes.HasPrefix(data, []byte("OggS")):
		return "ogg", "audio/ogg"
	}
	ct := http.DetectContentType(data)
	switch ct {
	case "audio/wave":
		return "wav", "audio/wav"
	case "audio/mpeg":
		return "mp3", ct
	}
	return "bin", ct
}

// wavDuration reads the duration from a PCM WAV header. It walks the chunk
// list so files with extra chunks before "data" still parse.
func wavDuration(data []byte) (time.Duration, bool) {
	if len(data) < 12 || !bytes.Equal(data[0:4], []byte("RIFF")) || !bytes.Equal(data[8:12], []byte("WAVE")) {
		return 0, false
	}
	var byteRate uint32
	off := 12
	for off+8 <= len(data) {
		id := string(data[off : off+4])
		size := binary.LittleEndian.Uint32(data[off+4 : off+8])
		body := off + 8
		switch id {
		case "fmt ":
			if body+12 > len(data) {
				return 0, false
			}
			byteRate = binary.LittleEndian.Uint32(data[body+8 : body+12])
		case "data":
			if byteRate == 0 {
				return 0, false
			}
			n := int64(size)
			if avail := int64(len(data) - body); n > avail || n == 0 {
				// streamed WAVs carry a placeholder size
				n = avail
			}
			if n <= 0 {
				return 0, false
			}
			return time.Duration(float64(n) / float64(byteRate) * float64(time.Second)), true
		}
		off = body + int(size) + int(size&1)
	}
	return 0, false
}

// estimateDuration assumes a steady speaking rate.
func estimateDuration(words, wpm int) time.Duration {
	if wpm <= 0 {
		wpm = 150
	}
	if words <= 0 {
		return 0
	}
	secs := math.Ceil(float64(words) * 60 / float64(wpm))
	return time.Duration(secs) * time.Second
}

package pipeline

import (
	"encoding/binary"
	"fmt"
	"strings"
)

// fallbackBitrate is assumed for compressed formats whose duration cannot be
// read from a header, giving a size-based estimate.
const fallbackBitrate = 128_000 // bits per second

// probeDuration determines the playable length of an audio payload in
// seconds. WAV files are read exactly from the RIFF header; other formats are
// estimated from the byte size at a nominal bitrate.
func probeDuration(filename string, data []byte) (float64, error) {
	if len(data) == 0 {
		return 0, fmt.Errorf("audio payload is empty")
	}

	if isWAV(data) {
		return wavDuration(data)
	}

	ext := strings.ToLower(filename)
	if strings.HasSuffix(ext, ".wav") {
		return 0, fmt.Errorf("file %s has a .wav extension but no RIFF header", filename)
	}

	return float64(len(data)) * 8 / fallbackBitrate, nil
}

func isWAV(data []byte) bool {
	return len(data) >= 12 &&
		string(data[0:4]) == "RIFF" &&
		string(data[8:12]) == "WAVE"
}

// wavDuration walks the RIFF chunk list for the fmt byte rate and the data
// chunk size.
func wavDuration(data []byte) (float64, error) {
	var byteRate uint32
	var dataSize uint32

	offset := 12
	for offset+8 <= len(data) {
		chunkID := string(data[offset : offset+4])
		chunkSize := binary.LittleEndian.Uint32(data[offset+4 : offset+8])
		body := offset + 8

		switch chunkID {
		case "fmt ":
			if body+16 > len(data) {
				return 0, fmt.Errorf("truncated fmt chunk")
			}
			byteRate = binary.LittleEndian.Uint32(data[body+8 : body+12])
		case "data":
			dataSize = chunkSize
			if remaining := len(data) - body; dataSize > uint32(remaining) {
				dataSize = uint32(remaining)
			}
		}

		// Chunks are word-aligned.
		offset = body + int(chunkSize)
		if chunkSize%2 == 1 {
			offset++
		}
	}

	if byteRate == 0 {
		return 0, fmt.Errorf("wav header missing byte rate")
	}
	if dataSize == 0 {
		return 0, fmt.Errorf("wav file has no audio data")
	}

	return float64(dataSize) / float64(byteRate), nil
}

// audioBody returns the raw sample bytes of a WAV payload, or the whole
// payload for other formats. Used to decide whether the recording is silent.
func audioBody(data []byte) []byte {
	if !isWAV(data) {
		return data
	}

	offset := 12
	for offset+8 <= len(data) {
		chunkID := string(data[offset : offset+4])
		chunkSize := binary.LittleEndian.Uint32(data[offset+4 : offset+8])
		body := offset + 8
		if chunkID == "data" {
			end := body + int(chunkSize)
			if end > len(data) {
				end = len(data)
			}
			return data[body:end]
		}
		offset = body + int(chunkSize)
		if chunkSize%2 == 1 {
			offset++
		}
	}
	return nil
}

package capture

import (
	"encoding/binary"
	"errors"
)

const wavHeaderSize = 44

// ErrInvalidWAV is returned when a buffer does not carry a PCM RIFF/WAVE header.
var ErrInvalidWAV = errors.New("invalid wav data")

// EncodeWAV wraps little-endian 16-bit PCM in a canonical 44-byte WAV header.
func EncodeWAV(pcm []byte, sampleRate, channels int) []byte {
	const bitsPerSample = 16
	byteRate := sampleRate * channels * bitsPerSample / 8
	blockAlign := channels * bitsPerSample / 8

	wav := make([]byte, wavHeaderSize+len(pcm))
	copy(wav[0:4], "RIFF")
	binary.LittleEndian.PutUint32(wav[4:8], uint32(36+len(pcm)))
	copy(wav[8:12], "WAVE")
	copy(wav[12:16], "fmt ")
	binary.LittleEndian.PutUint32(wav[16:20], 16)
	binary.LittleEndian.PutUint16(wav[20:22], 1)
	binary.LittleEndian.PutUint16(wav[22:24], uint16(channels))
	binary.LittleEndian.PutUint32(wav[24:28], uint32(sampleRate))
	binary.LittleEndian.PutUint32(wav[28:32], uint32(byteRate))
	binary.LittleEndian.PutUint16(wav[32:34], uint16(blockAlign))
	binary.LittleEndian.PutUint16(wav[34:36], bitsPerSample)
	copy(wav[36:40], "data")
	binary.LittleEndian.PutUint32(wav[40:44], uint32(len(pcm)))
	copy(wav[wavHeaderSize:], pcm)
	return wav
}

// DecodeWAV walks the RIFF chunks and returns the PCM payload and its format.
// Only 16-bit PCM is accepted.
func DecodeWAV(data []byte) (pcm []byte, format Format, err error) {
	if len(data) < 12 || string(data[0:4]) != "RIFF" || string(data[8:12]) != "WAVE" {
		return nil, Format{}, ErrInvalidWAV
	}
	off := 12
	var haveFmt bool
	for off+8 <= len(data) {
		id := string(data[off : off+4])
		size := int(binary.LittleEndian.Uint32(data[off+4 : off+8]))
		body := off + 8
		if body+size > len(data) {
			size = len(data) - body
		}
		switch id {
		case "fmt ":
			if size < 16 {
				return nil, Format{}, ErrInvalidWAV
			}
			if binary.LittleEndian.Uint16(data[body:body+2]) != 1 || binary.LittleEndian.Uint16(data[body+14:body+16]) != 16 {
				return nil, Format{}, ErrInvalidWAV
			}
			format.Channels = int(binary.LittleEndian.Uint16(data[body+2 : body+4]))
			format.SampleRate = int(binary.LittleEndian.Uint32(data[body+4 : body+8]))
			haveFmt = true
		case "data":
			if !haveFmt {
				return nil, Format{}, ErrInvalidWAV
			}
			return data[body : body+size], format, nil
		}
		off = body + size + size%2
	}
	return nil, Format{}, ErrInvalidWAV
}

package audio

import "encoding/binary"

// WAVFromPCM wraps raw 16-bit little-endian PCM in a minimal RIFF/WAVE
// container. Transcription HTTP APIs generally require a container even
// for raw PCM payloads.
func WAVFromPCM(pcm []byte, sampleRateHz int, channels int) []byte {
	if channels <= 0 {
		channels = 1
	}

	const headerLen = 44
	byteRate := sampleRateHz * channels * BytesPerSample
	blockAlign := channels * BytesPerSample

	out := make([]byte, headerLen+len(pcm))
	copy(out[0:4], "RIFF")
	binary.LittleEndian.PutUint32(out[4:8], uint32(36+len(pcm)))
	copy(out[8:12], "WAVE")
	copy(out[12:16], "fmt ")
	binary.LittleEndian.PutUint32(out[16:20], 16) // PCM fmt chunk size
	binary.LittleEndian.PutUint16(out[20:22], 1)  // audio format: PCM
	binary.LittleEndian.PutUint16(out[22:24], uint16(channels))
	binary.LittleEndian.PutUint32(out[24:28], uint32(sampleRateHz))
	binary.LittleEndian.PutUint32(out[28:32], uint32(byteRate))
	binary.LittleEndian.PutUint16(out[32:34], uint16(blockAlign))
	binary.LittleEndian.PutUint16(out[34:36], 16) // bits per sample
	copy(out[36:40], "data")
	binary.LittleEndian.PutUint32(out[40:44], uint32(len(pcm)))
	copy(out[headerLen:], pcm)
	return out
}

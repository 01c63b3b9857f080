// Package audio assembles synthesized chunk buffers and estimates playback
// generation progress for polling clients.
package audio

import "bytes"

// Assemble concatenates chunk buffers in order into one MP3 byte stream.
// Plain concatenation is valid here: each chunk is itself a sequence of
// independent MP3 frames and consumers read the stream sequentially.
func Assemble(chunks [][]byte) []byte {
	var total int
	for _, c := range chunks {
		total += len(c)
	}

	buf := bytes.NewBuffer(make([]byte, 0, total))
	for _, c := range chunks {
		buf.Write(c)
	}

	return buf.Bytes()
}

package transport

import (
	"encoding/base64"
	"strings"
)

// encodeChunked base64-encodes data in aligned chunks. Encoding the whole
// buffer through a single call builds one giant intermediate, and the
// string conversion of a multi-megabyte video can stall the caller for
// long stretches; chunking bounds each step.
func encodeChunked(data []byte, chunkSize int) string {
	if chunkSize <= 0 {
		chunkSize = 48 * 1024
	}
	// Round down to a multiple of 3 so each chunk encodes without padding.
	if rem := chunkSize % 3; rem != 0 {
		chunkSize -= rem
	}

	var sb strings.Builder
	sb.Grow(base64.StdEncoding.EncodedLen(len(data)))
	for len(data) > 0 {
		n := chunkSize
		if n > len(data) {
			n = len(data)
		}
		sb.WriteString(base64.StdEncoding.EncodeToString(data[:n]))
		data = data[n:]
	}
	return sb.String()
}

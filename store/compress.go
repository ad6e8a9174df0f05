package store

import (
	"bytes"

	"github.com/klauspost/compress/zstd"
)

const compressionThreshold = 1024 // only compress files > 1KB

var zstdMagic = []byte{0x28, 0xb5, 0x2f, 0xfd}

var (
	encoder, _ = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	decoder, _ = zstd.NewReader(nil)
)

// compress returns data zstd-compressed when that makes it smaller.
func compress(data []byte) []byte {
	if len(data) <= compressionThreshold {
		return data
	}
	compressed := encoder.EncodeAll(data, make([]byte, 0, len(data)/2))
	if len(compressed) >= len(data) {
		return data
	}
	return compressed
}

// decompress reverses compress. Plain data passes through.
func decompress(data []byte) ([]byte, error) {
	if !bytes.HasPrefix(data, zstdMagic) {
		return data, nil
	}
	return decoder.DecodeAll(data, nil)
}

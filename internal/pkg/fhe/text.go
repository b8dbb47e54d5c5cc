package fhe

import (
	"bytes"
	"encoding/binary"
)

// TextWordSize 每个密文分片承载的字节数 (euint64)
const TextWordSize = 8

// PackText 将 UTF-8 文本按 8 字节大端切分，末片补零
func PackText(s string) []uint64 {
	b := []byte(s)
	words := make([]uint64, 0, (len(b)+TextWordSize-1)/TextWordSize)
	for i := 0; i < len(b); i += TextWordSize {
		var chunk [TextWordSize]byte
		copy(chunk[:], b[i:])
		words = append(words, binary.BigEndian.Uint64(chunk[:]))
	}
	return words
}

// UnpackText PackText 的逆过程，去掉补零
func UnpackText(words []uint64) string {
	buf := make([]byte, len(words)*TextWordSize)
	for i, w := range words {
		binary.BigEndian.PutUint64(buf[i*TextWordSize:], w)
	}
	return string(bytes.TrimRight(buf, "\x00"))
}

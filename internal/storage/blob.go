package storage

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/klauspost/compress/zstd"
)

// MagicHeader prefixes every encoded AST blob.
var MagicHeader = []byte("RAST")

// maxBlobSize bounds the decompressed size of a single AST.
const maxBlobSize = 16 << 20

// BlobCodec compresses serialized ASTs for storage.
// Blob layout: MagicHeader, raw length (uint32 little endian), zstd frame.
// A BlobCodec is safe for concurrent use.
type BlobCodec struct {
	encoder *zstd.Encoder
	decoder *zstd.Decoder
}

// NewBlobCodec creates a codec with default zstd settings.
func NewBlobCodec() (*BlobCodec, error) {
	enc, err := zstd.NewWriter(nil)
	if err != nil {
		return nil, err
	}
	dec, err := zstd.NewReader(nil, zstd.WithDecoderMaxMemory(maxBlobSize))
	if err != nil {
		enc.Close()
		return nil, err
	}
	return &BlobCodec{encoder: enc, decoder: dec}, nil
}

// Encode compresses raw and prepends the blob header.
func (c *BlobCodec) Encode(raw []byte) []byte {
	out := make([]byte, len(MagicHeader)+4, len(MagicHeader)+4+len(raw)/2)
	copy(out, MagicHeader)
	binary.LittleEndian.PutUint32(out[len(MagicHeader):], uint32(len(raw)))
	return c.encoder.EncodeAll(raw, out)
}

// Decode validates the blob header and returns the decompressed payload.
func (c *BlobCodec) Decode(blob []byte) ([]byte, error) {
	hdr := len(MagicHeader) + 4
	if len(blob) < hdr || !bytes.Equal(blob[:len(MagicHeader)], MagicHeader) {
		return nil, ErrInvalidHeader
	}
	size := binary.LittleEndian.Uint32(blob[len(MagicHeader):hdr])
	if size > maxBlobSize {
		return nil, fmt.Errorf("ast blob of %d bytes exceeds limit", size)
	}

	raw, err := c.decoder.DecodeAll(blob[hdr:], make([]byte, 0, size))
	if err != nil {
		return nil, fmt.Errorf("decompress ast: %w", err)
	}
	if uint32(len(raw)) != size {
		return nil, fmt.Errorf("ast blob length %d, header says %d", len(raw), size)
	}
	return raw, nil
}

// Close releases the encoder and decoder.
func (c *BlobCodec) Close() {
	c.encoder.Close()
	c.decoder.Close()
}

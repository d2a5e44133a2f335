package exact

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"sync"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// CompressionType defines the snapshot block compression algorithm.
type CompressionType uint8

const (
	// CompressionNone stores snapshot blocks uncompressed.
	CompressionNone CompressionType = 0
	// CompressionLZ4 is fast with a moderate ratio.
	CompressionLZ4 CompressionType = 1
	// CompressionZSTD trades a little speed for a better ratio; the
	// default since snapshots are written once per rebuild.
	CompressionZSTD CompressionType = 2
)

var (
	zstdEncoderPool sync.Pool
	zstdDecoderPool sync.Pool
)

func getZstdEncoder() *zstd.Encoder {
	if v := zstdEncoderPool.Get(); v != nil {
		return v.(*zstd.Encoder)
	}
	enc, _ := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	return enc
}

func putZstdEncoder(enc *zstd.Encoder) {
	zstdEncoderPool.Put(enc)
}

func getZstdDecoder() *zstd.Decoder {
	if v := zstdDecoderPool.Get(); v != nil {
		return v.(*zstd.Decoder)
	}
	dec, _ := zstd.NewReader(nil)
	return dec
}

func putZstdDecoder(dec *zstd.Decoder) {
	zstdDecoderPool.Put(dec)
}

// Block format: [UncompressedSize uint32][CompressedSize uint32][Data...].
// CompressedSize == 0 marks an uncompressed block.
const blockHeaderSize = 8

// compressBlock frames data as one block, falling back to uncompressed
// storage when compression does not pay (ratio > 0.9).
func compressBlock(data []byte, compressionType CompressionType) ([]byte, error) {
	var compressed []byte
	var err error

	switch compressionType {
	case CompressionLZ4:
		compressed, err = compressBlockLZ4(data)
	case CompressionZSTD:
		compressed, err = compressBlockZSTD(data)
	}
	if err != nil {
		return nil, err
	}

	if len(compressed) == 0 || float64(len(compressed)) > float64(len(data))*0.9 {
		result := make([]byte, blockHeaderSize+len(data))
		binary.LittleEndian.PutUint32(result[0:], uint32(len(data)))
		binary.LittleEndian.PutUint32(result[4:], 0)
		copy(result[blockHeaderSize:], data)
		return result, nil
	}

	result := make([]byte, blockHeaderSize+len(compressed))
	binary.LittleEndian.PutUint32(result[0:], uint32(len(data)))
	binary.LittleEndian.PutUint32(result[4:], uint32(len(compressed)))
	copy(result[blockHeaderSize:], compressed)
	return result, nil
}

func compressBlockLZ4(data []byte) ([]byte, error) {
	compressed := make([]byte, lz4.CompressBlockBound(len(data)))

	n, err := lz4.CompressBlock(data, compressed, nil)
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, nil // incompressible
	}
	return compressed[:n], nil
}

func compressBlockZSTD(data []byte) ([]byte, error) {
	enc := getZstdEncoder()
	defer putZstdEncoder(enc)

	return enc.EncodeAll(data, nil), nil
}

// blockWriter buffers writes into fixed-size blocks and compresses each on
// flush.
type blockWriter struct {
	w               io.Writer
	compressionType CompressionType
	blockSize       int
	buffer          *bytes.Buffer
}

func newBlockWriter(w io.Writer, compressionType CompressionType, blockSize int) *blockWriter {
	if blockSize <= 0 {
		blockSize = 256 * 1024
	}
	return &blockWriter{
		w:               w,
		compressionType: compressionType,
		blockSize:       blockSize,
		buffer:          bytes.NewBuffer(make([]byte, 0, blockSize)),
	}
}

func (c *blockWriter) Write(p []byte) (int, error) {
	total := 0
	for len(p) > 0 {
		space := c.blockSize - c.buffer.Len()
		if space <= 0 {
			if err := c.Flush(); err != nil {
				return total, err
			}
			space = c.blockSize
		}

		toWrite := len(p)
		if toWrite > space {
			toWrite = space
		}

		n, err := c.buffer.Write(p[:toWrite])
		if err != nil {
			return total, err
		}
		total += n
		p = p[n:]
	}
	return total, nil
}

// Flush compresses and writes the current block.
func (c *blockWriter) Flush() error {
	if c.buffer.Len() == 0 {
		return nil
	}

	compressed, err := compressBlock(c.buffer.Bytes(), c.compressionType)
	if err != nil {
		return err
	}

	if _, err := c.w.Write(compressed); err != nil {
		return err
	}
	c.buffer.Reset()
	return nil
}

// decompressAll walks the block stream starting at startOffset and returns
// the concatenated payload.
func decompressAll(data []byte, startOffset int64, compressionType CompressionType) ([]byte, error) {
	var result []byte
	offset := startOffset

	for int(offset)+blockHeaderSize <= len(data) {
		uncompressedSize := binary.LittleEndian.Uint32(data[offset:])
		compressedSize := binary.LittleEndian.Uint32(data[offset+4:])

		if compressedSize == 0 {
			end := offset + blockHeaderSize + int64(uncompressedSize)
			if int(end) > len(data) {
				return nil, errors.New("block extends beyond data")
			}
			result = append(result, data[offset+blockHeaderSize:end]...)
			offset = end
			continue
		}

		end := offset + blockHeaderSize + int64(compressedSize)
		if int(end) > len(data) {
			return nil, errors.New("compressed block extends beyond data")
		}
		compressedData := data[offset+blockHeaderSize : end]
		block := make([]byte, uncompressedSize)

		switch compressionType {
		case CompressionZSTD:
			dec := getZstdDecoder()
			decoded, err := dec.DecodeAll(compressedData, block[:0])
			putZstdDecoder(dec)
			if err != nil {
				return nil, err
			}
			if uint32(len(decoded)) != uncompressedSize {
				return nil, errors.New("decompressed size mismatch")
			}
			result = append(result, decoded...)

		default: // LZ4 or unknown, LZ4 kept as fallback for older files
			n, err := lz4.UncompressBlock(compressedData, block)
			if err != nil {
				return nil, err
			}
			if uint32(n) != uncompressedSize {
				return nil, errors.New("decompressed size mismatch")
			}
			result = append(result, block[:n]...)
		}

		offset = end
	}

	return result, nil
}

package wiremessage

import (
	"bytes"
	"fmt"
	"io"

	"github.com/golang/snappy"
	"github.com/klauspost/compress/zstd"
	"github.com/klauspost/compress/zlib"
)

// CompressorID identifies a negotiated wire compressor.
type CompressorID uint8

// Compressor ids, per the wire protocol.
const (
	CompressorNoOp CompressorID = iota
	CompressorSnappy
	CompressorZLib
	CompressorZstd
)

// CompressorIDFromString maps a compressor name to its wire id.
func CompressorIDFromString(name string) (CompressorID, bool) {
	switch name {
	case "snappy":
		return CompressorSnappy, true
	case "zlib":
		return CompressorZLib, true
	case "zstd":
		return CompressorZstd, true
	}
	return CompressorNoOp, false
}

// String implements the fmt.Stringer interface.
func (id CompressorID) String() string {
	switch id {
	case CompressorSnappy:
		return "snappy"
	case CompressorZLib:
		return "zlib"
	case CompressorZstd:
		return "zstd"
	default:
		return "noop"
	}
}

// uncompressibleCommands lists commands that the driver MUST NOT compress,
//: the initial handshake, getnonce, authenticate, saslStart,
// saslContinue, createUser, updateUser, copydbSaslStart.
var uncompressibleCommands = map[string]struct{}{
	"ismaster":       {},
	"isMaster":       {},
	"hello":          {},
	"getnonce":       {},
	"authenticate":   {},
	"saslStart":      {},
	"saslContinue":   {},
	"createUser":     {},
	"updateUser":     {},
	"copydbSaslStart": {},
}

// IsCompressibleCommand reports whether the named command may be wrapped in
// an OP_COMPRESSED envelope.
func IsCompressibleCommand(commandName string) bool {
	_, blocked := uncompressibleCommands[commandName]
	return !blocked
}

// CompressOpts controls how a message body is compressed for OP_COMPRESSED.
type CompressOpts struct {
	Compressor       CompressorID
	ZlibLevel        int
	ZstdLevel        int
	UncompressedSize int32
}

// CompressMessage wraps originalOpCode/body in an OP_COMPRESSED payload:
// int32 originalOpcode, int32 uncompressedSize, uint8 compressorID, payload.
func CompressMessage(originalOpCode OpCode, body []byte, opts CompressOpts) ([]byte, error) {
	compressed, err := compressBytes(body, opts)
	if err != nil {
		return nil, err
	}

	dst := make([]byte, 0, len(compressed)+9)
	dst = appendi32(dst, int32(originalOpCode))
	dst = appendi32(dst, int32(len(body)))
	dst = append(dst, byte(opts.Compressor))
	dst = append(dst, compressed...)
	return dst, nil
}

// DecompressMessage reverses CompressMessage, returning the original opcode and body.
func DecompressMessage(payload []byte) (OpCode, []byte, error) {
	if len(payload) < 9 {
		return 0, nil, fmt.Errorf("compressed message too short: %d bytes", len(payload))
	}
	originalOpCode := OpCode(readi32(payload[0:4]))
	uncompressedSize := readi32(payload[4:8])
	compressorID := CompressorID(payload[8])
	compressed := payload[9:]

	body, err := decompressBytes(compressed, compressorID, uncompressedSize)
	if err != nil {
		return 0, nil, err
	}
	return originalOpCode, body, nil
}

func compressBytes(body []byte, opts CompressOpts) ([]byte, error) {
	switch opts.Compressor {
	case CompressorSnappy:
		return snappy.Encode(nil, body), nil
	case CompressorZLib:
		var buf bytes.Buffer
		level := opts.ZlibLevel
		if level == 0 {
			level = zlib.DefaultCompression
		}
		w, err := zlib.NewWriterLevel(&buf, level)
		if err != nil {
			return nil, err
		}
		if _, err := w.Write(body); err != nil {
			return nil, err
		}
		if err := w.Close(); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	case CompressorZstd:
		enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstdLevel(opts.ZstdLevel)))
		if err != nil {
			return nil, err
		}
		defer enc.Close()
		return enc.EncodeAll(body, nil), nil
	default:
		return nil, fmt.Errorf("unknown compressor id %d", opts.Compressor)
	}
}

func zstdLevel(level int) zstd.EncoderLevel {
	switch {
	case level <= 0:
		return zstd.SpeedDefault
	case level == 1:
		return zstd.SpeedFastest
	case level <= 3:
		return zstd.SpeedDefault
	case level <= 6:
		return zstd.SpeedBetterCompression
	default:
		return zstd.SpeedBestCompression
	}
}

func decompressBytes(compressed []byte, id CompressorID, uncompressedSize int32) ([]byte, error) {
	switch id {
	case CompressorSnappy:
		return snappy.Decode(nil, compressed)
	case CompressorZLib:
		r, err := zlib.NewReader(bytes.NewReader(compressed))
		if err != nil {
			return nil, err
		}
		defer r.Close()
		out := make([]byte, 0, uncompressedSize)
		buf := bytes.NewBuffer(out)
		if _, err := io.Copy(buf, r); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	case CompressorZstd:
		dec, err := zstd.NewReader(nil)
		if err != nil {
			return nil, err
		}
		defer dec.Close()
		return dec.DecodeAll(compressed, make([]byte, 0, uncompressedSize))
	default:
		return nil, fmt.Errorf("unknown compressor id %d", id)
	}
}

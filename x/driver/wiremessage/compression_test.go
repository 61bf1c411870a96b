package wiremessage

import (
	"bytes"
	"testing"
)

func TestCompressRoundTrip(t *testing.T) {
	body := bytes.Repeat([]byte("the quick brown fox "), 100)

	for _, id := range []CompressorID{CompressorSnappy, CompressorZLib, CompressorZstd} {
		t.Run(id.String(), func(t *testing.T) {
			payload, err := CompressMessage(OpMsg, body, CompressOpts{Compressor: id})
			if err != nil {
				t.Fatalf("CompressMessage error: %v", err)
			}

			opcode, decompressed, err := DecompressMessage(payload)
			if err != nil {
				t.Fatalf("DecompressMessage error: %v", err)
			}
			if opcode != OpMsg {
				t.Errorf("original opcode: want %s, got %s", OpMsg, opcode)
			}
			if !bytes.Equal(body, decompressed) {
				t.Errorf("round trip mismatch: %d bytes in, %d bytes out", len(body), len(decompressed))
			}
		})
	}
}

func TestCompressZlibLevels(t *testing.T) {
	body := bytes.Repeat([]byte("aaaa bbbb cccc "), 200)
	for _, level := range []int{1, 6, 9} {
		payload, err := CompressMessage(OpQuery, body, CompressOpts{Compressor: CompressorZLib, ZlibLevel: level})
		if err != nil {
			t.Fatalf("level %d: %v", level, err)
		}
		opcode, out, err := DecompressMessage(payload)
		if err != nil {
			t.Fatalf("level %d: %v", level, err)
		}
		if opcode != OpQuery || !bytes.Equal(body, out) {
			t.Errorf("level %d: round trip mismatch", level)
		}
	}
}

func TestDecompressTruncated(t *testing.T) {
	if _, _, err := DecompressMessage([]byte{1, 2, 3}); err == nil {
		t.Error("expected error for truncated compressed payload")
	}
}

// The handshake and auth commands must never travel compressed.
func TestUncompressibleCommands(t *testing.T) {
	for _, name := range []string{
		"ismaster", "isMaster", "hello", "getnonce", "authenticate",
		"saslStart", "saslContinue", "createUser", "updateUser", "copydbSaslStart",
	} {
		if IsCompressibleCommand(name) {
			t.Errorf("%s must not be compressible", name)
		}
	}
	for _, name := range []string{"insert", "find", "update", "delete", "getMore"} {
		if !IsCompressibleCommand(name) {
			t.Errorf("%s should be compressible", name)
		}
	}
}

func TestHeaderRoundTrip(t *testing.T) {
	dst := AppendHeader(nil, 0, 42, 7, OpMsg)
	dst = append(dst, 0xde, 0xad)
	dst = UpdateLength(dst, 0, int32(len(dst)))

	header, rest, err := ReadHeader(dst)
	if err != nil {
		t.Fatalf("ReadHeader error: %v", err)
	}
	if header.Length != int32(len(dst)) || header.RequestID != 42 || header.ResponseTo != 7 || header.OpCode != OpMsg {
		t.Errorf("header mismatch: %+v", header)
	}
	if len(rest) != 2 {
		t.Errorf("remainder: want 2 bytes, got %d", len(rest))
	}
}

func TestCompressorIDFromString(t *testing.T) {
	for name, want := range map[string]CompressorID{
		"snappy": CompressorSnappy,
		"zlib":   CompressorZLib,
		"zstd":   CompressorZstd,
	} {
		got, ok := CompressorIDFromString(name)
		if !ok || got != want {
			t.Errorf("%s: got (%v, %v)", name, got, ok)
		}
	}
	if _, ok := CompressorIDFromString("lz4"); ok {
		t.Error("unknown compressor accepted")
	}
}

package coord

import (
	"bytes"
	"encoding/json"
	"io"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Codec selects the compression used when persisting a metadata
// snapshot, mirroring kgo's per-producer compression codec choice.
type Codec int

const (
	CodecZstd Codec = iota
	CodecLZ4
)

// SnapshotWriter JSON-encodes a value (such as an UpdateMetadata broadcast
// payload) and compresses it with the configured codec; Decode reverses
// that. It does not itself write the result to any path.
type SnapshotWriter struct {
	codec Codec
}

func NewSnapshotWriter(codec Codec) *SnapshotWriter {
	return &SnapshotWriter{codec: codec}
}

// Encode marshals v to JSON and compresses it with the configured codec.
func (w *SnapshotWriter) Encode(v interface{}) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	switch w.codec {
	case CodecLZ4:
		zw := lz4.NewWriter(&buf)
		if _, err := zw.Write(raw); err != nil {
			return nil, err
		}
		if err := zw.Close(); err != nil {
			return nil, err
		}
	default:
		zw, err := zstd.NewWriter(&buf)
		if err != nil {
			return nil, err
		}
		if _, err := zw.Write(raw); err != nil {
			return nil, err
		}
		if err := zw.Close(); err != nil {
			return nil, err
		}
	}
	return buf.Bytes(), nil
}

// Decode reverses Encode into v.
func (w *SnapshotWriter) Decode(compressed []byte, v interface{}) error {
	var r io.Reader
	switch w.codec {
	case CodecLZ4:
		r = lz4.NewReader(bytes.NewReader(compressed))
	default:
		zr, err := zstd.NewReader(bytes.NewReader(compressed))
		if err != nil {
			return err
		}
		defer zr.Close()
		r = zr
	}
	raw, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, v)
}

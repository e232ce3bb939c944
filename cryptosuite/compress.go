package cryptosuite

import (
	"bytes"
	"compress/flate"
	"io"
)

// flateCompressor maps the wire protocol's 0..11 compression levels onto
// compress/flate's 0..9 range (clamping 10/11 to 9), the stdlib stand-in
// for tinc's zlib-based compression (spec §4.5, §6 Compression option).
type flateCompressor struct{}

func (flateCompressor) Compress(level int, data []byte) ([]byte, error) {
	if level <= 0 {
		return data, nil
	}
	if level > 9 {
		level = 9
	}
	var buf bytes.Buffer
	w, err := flate.NewWriter(&buf, level)
	if err != nil {
		return nil, err
	}
	if _, err := w.Write(data); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (flateCompressor) Decompress(data []byte) ([]byte, error) {
	r := flate.NewReader(bytes.NewReader(data))
	defer r.Close()
	return io.ReadAll(r)
}

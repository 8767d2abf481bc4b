package store

import (
	"bytes"
	"compress/zlib"
	"io"

	"github.com/rotisserie/eris"
)

// zlibMagic is the two-byte preamble zlib emits at default compression.
// Blobs written before compression was enabled are plain JSON; the read path
// sniffs this prefix to handle both.
var zlibMagic = []byte{0x78, 0x9c}

// compressBlob deflates data when compression is enabled. On any compression
// failure the plaintext is stored instead; decompressBlob accepts either.
func compressBlob(data []byte, enabled bool) []byte {
	if !enabled || len(data) == 0 {
		return data
	}

	var buf bytes.Buffer
	w := zlib.NewWriter(&buf)
	if _, err := w.Write(data); err != nil {
		w.Close()
		return data
	}
	if err := w.Close(); err != nil {
		return data
	}
	return buf.Bytes()
}

// decompressBlob inflates a stored blob, passing legacy plaintext blobs
// through untouched.
func decompressBlob(blob []byte) ([]byte, error) {
	if len(blob) < 2 || !bytes.HasPrefix(blob, zlibMagic) {
		return blob, nil
	}

	r, err := zlib.NewReader(bytes.NewReader(blob))
	if err != nil {
		return nil, eris.Wrap(err, "blob: open zlib reader")
	}
	defer r.Close()

	out, err := io.ReadAll(r)
	if err != nil {
		return nil, eris.Wrap(err, "blob: inflate")
	}
	return out, nil
}

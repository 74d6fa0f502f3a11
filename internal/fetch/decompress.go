package fetch

import (
	"bytes"
	"compress/flate"
	"compress/gzip"
	"compress/zlib"
	"fmt"
	"io"
	"strings"

	"github.com/andybalholm/brotli"
)

// DecompressBytes decodes a body according to its Content-Encoding so the
// rewriter can work on plain text. Multiple encodings ("gzip, br") are
// undone right-to-left. The limit guards against decompression bombs.
func DecompressBytes(raw []byte, encoding string, limit int) ([]byte, error) {
	encodings := splitEncodings(encoding)
	if len(encodings) == 0 {
		return raw, nil
	}

	out := raw
	for i := len(encodings) - 1; i >= 0; i-- {
		var err error
		out, err = decodeOne(out, encodings[i], limit)
		if err != nil {
			return nil, err
		}
	}
	return out, nil
}

func splitEncodings(encoding string) []string {
	var out []string
	for _, e := range strings.Split(encoding, ",") {
		e = strings.ToLower(strings.TrimSpace(e))
		if e == "" || e == "identity" {
			continue
		}
		out = append(out, e)
	}
	return out
}

func decodeOne(raw []byte, encoding string, limit int) ([]byte, error) {
	var r io.Reader
	switch encoding {
	case "gzip":
		gr, err := gzip.NewReader(bytes.NewReader(raw))
		if err != nil {
			return nil, err
		}
		defer gr.Close()
		r = gr
	case "deflate":
		// Some servers send zlib-wrapped deflate, some send raw.
		if zr, err := zlib.NewReader(bytes.NewReader(raw)); err == nil {
			defer zr.Close()
			r = zr
		} else {
			fr := flate.NewReader(bytes.NewReader(raw))
			defer fr.Close()
			r = fr
		}
	case "br", "brotli":
		r = brotli.NewReader(bytes.NewReader(raw))
	default:
		return nil, fmt.Errorf("unsupported content-encoding: %s", encoding)
	}

	limited := io.LimitReader(r, int64(limit)+1)
	out, err := io.ReadAll(limited)
	if err != nil {
		return nil, err
	}
	if len(out) > limit {
		return nil, fmt.Errorf("decompressed body too large")
	}
	return out, nil
}

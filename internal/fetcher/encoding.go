package fetcher

import (
	"bytes"
	"unicode/utf8"

	"github.com/rotisserie/eris"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

var (
	bomUTF8    = []byte{0xEF, 0xBB, 0xBF}
	bomUTF16LE = []byte{0xFF, 0xFE}
	bomUTF16BE = []byte{0xFE, 0xFF}
)

// DecodeText detects the encoding of data, strips any BOM and returns UTF-8
// bytes along with the detected encoding name. Text that is neither marked
// UTF-16 nor valid UTF-8 is decoded as Windows-1252, the default export
// encoding of spreadsheet tools on Windows.
func DecodeText(data []byte) ([]byte, string, error) {
	switch {
	case len(data) == 0:
		return data, "utf-8", nil
	case bytes.HasPrefix(data, bomUTF8):
		return data[len(bomUTF8):], "utf-8-bom", nil
	case bytes.HasPrefix(data, bomUTF16LE):
		out, err := decodeWith(data, unicode.UTF16(unicode.LittleEndian, unicode.ExpectBOM).NewDecoder())
		return out, "utf-16le", err
	case bytes.HasPrefix(data, bomUTF16BE):
		out, err := decodeWith(data, unicode.UTF16(unicode.BigEndian, unicode.ExpectBOM).NewDecoder())
		return out, "utf-16be", err
	case utf8.Valid(data):
		return data, "utf-8", nil
	default:
		out, err := decodeWith(data, charmap.Windows1252.NewDecoder())
		return out, "windows-1252", err
	}
}

func decodeWith(data []byte, t transform.Transformer) ([]byte, error) {
	out, _, err := transform.Bytes(t, data)
	if err != nil {
		return nil, eris.Wrap(err, "fetcher: decode text")
	}
	return out, nil
}

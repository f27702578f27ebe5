package statement

import (
	"strings"

	"github.com/dvloznov/finance-ledger/internal/domain"
	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/unicode"
)

func decoderFor(name string) (encoding.Encoding, bool) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "utf-8", "utf8":
		return nil, true
	case "latin1", "latin-1", "iso-8859-1", "iso8859-1":
		return charmap.ISO8859_1, true
	case "iso-8859-15", "latin9":
		return charmap.ISO8859_15, true
	case "windows-1252", "cp1252":
		return charmap.Windows1252, true
	case "utf-16", "utf16":
		return unicode.UTF16(unicode.LittleEndian, unicode.UseBOM), true
	}
	return nil, false
}

// Decode converts content from the named encoding to UTF-8 and strips a
// leading byte order mark.
func Decode(content, name string) (string, error) {
	enc, ok := decoderFor(name)
	if !ok {
		return "", domain.Invalid("unsupported encoding %q", name)
	}
	if enc != nil {
		out, err := enc.NewDecoder().String(content)
		if err != nil {
			return "", domain.Invalid("decode %s: %v", name, err)
		}
		content = out
	}
	return strings.TrimPrefix(content, "\ufeff"), nil
}

// Package util holds small text helpers shared by the console packages.
package util

import (
	"bytes"
	"io"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/transform"
)

// LegacyEncodings are tried in order on console output that is not valid
// UTF-8. Appliance banners and object descriptions are usually typed on
// Windows hosts, hence Windows-1252 first.
var LegacyEncodings = []encoding.Encoding{
	charmap.Windows1252,
	charmap.ISO8859_1,
}

// EnsureUTF8Bytes returns b as a UTF-8 string, decoding it with the first
// legacy encoding that yields valid UTF-8. Bytes nothing can decode are
// replaced with U+FFFD.
func EnsureUTF8Bytes(b []byte) string {
	if len(b) == 0 {
		return ""
	}
	if utf8.Valid(b) {
		return string(b)
	}
	for _, enc := range LegacyEncodings {
		if s, ok := tryDecode(enc, b); ok {
			return s
		}
	}
	return strings.ToValidUTF8(string(b), "�")
}

// EnsureUTF8 is EnsureUTF8Bytes for strings.
func EnsureUTF8(s string) string {
	if utf8.ValidString(s) {
		return s
	}
	return EnsureUTF8Bytes([]byte(s))
}

func tryDecode(enc encoding.Encoding, b []byte) (string, bool) {
	reader := transform.NewReader(bytes.NewReader(b), enc.NewDecoder())
	decoded, err := io.ReadAll(reader)
	if err != nil {
		return "", false
	}
	if utf8.Valid(decoded) {
		return string(decoded), true
	}
	return "", false
}

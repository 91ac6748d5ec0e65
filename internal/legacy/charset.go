package legacy

import (
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/simplifiedchinese"
)

// Inspection station databases are written by Windows software and store
// text in the system code page rather than UTF-8.
func textDecoder(charset string) encoding.Encoding {
	switch strings.ToLower(charset) {
	case "gbk", "cp936":
		return simplifiedchinese.GBK
	case "windows-1252", "win1252", "cp1252":
		return charmap.Windows1252
	case "utf-8", "utf8", "none":
		return nil
	default:
		return simplifiedchinese.GB18030
	}
}

// toUTF8 converts raw column bytes to a UTF-8 string.
// Data that is already valid UTF-8 is returned as is.
func toUTF8(b []byte, charset string) string {
	if len(b) == 0 {
		return ""
	}
	if utf8.Valid(b) {
		return string(b)
	}
	enc := textDecoder(charset)
	if enc == nil {
		return string(b)
	}
	decoded, err := enc.NewDecoder().Bytes(b)
	if err != nil {
		return string(b)
	}
	return string(decoded)
}

package parse

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"unicode"
)

// ErrInvalidBarcode is returned for input that is not a usable barcode.
var ErrInvalidBarcode = errors.New("invalid barcode")

var barcodeRe = regexp.MustCompile(`^[A-Z0-9][A-Z0-9\-_]{2,63}$`)

// Barcode cleans up a value typed or scanned at the station. Scanners append
// control characters and operators paste full-width text, so both are removed
// and letters are upper-cased.
func Barcode(raw string) (string, error) {
	var b strings.Builder
	for _, r := range raw {
		switch {
		case r >= '！' && r <= '～':
			// 全角 -> 半角
			r -= 0xFEE0
		case unicode.IsSpace(r) || unicode.IsControl(r):
			continue
		}
		b.WriteRune(unicode.ToUpper(r))
	}
	code := b.String()

	if code == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidBarcode)
	}
	if !barcodeRe.MatchString(code) {
		return "", fmt.Errorf("%w: %q", ErrInvalidBarcode, raw)
	}
	return code, nil
}

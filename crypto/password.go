package crypto

import (
	"path"
	"regexp"
	"strings"
)

// dateTokenPattern matches a filename date token: YYYY-MM-DD or the
// compact YYYYMMDD form, either optionally followed by -HHMMSS.
var dateTokenPattern = regexp.MustCompile(`^(\d{4}-\d{2}-\d{2}|\d{8})(-\d{6})?$`)

// PasswordFromFilename derives the per-file password from a file name.
//
// The base name is split on '_'; the first token matching a date form
// becomes the leading segment, the remaining tokens follow in reverse
// order, the date token's time portion (-HHMMSS) is re-appended after
// the last segment, and the extension is kept:
//
//	T0_T1_..._Tn_2025-01-02-130500.csv.enc
//	  -> 2025-01-02_Tn_..._T1_T0-130500.csv.enc
//
// A name with no date token derives unchanged (the base name itself);
// decryption with such a password fails downstream with BadCredentials.
func PasswordFromFilename(name string) string {
	base := path.Base(name)

	stem := base
	ext := ""
	if dot := strings.Index(base, "."); dot >= 0 {
		stem, ext = base[:dot], base[dot:]
	}

	tokens := strings.Split(stem, "_")
	dateIdx := -1
	var datePart, timePart string
	for i, tok := range tokens {
		if m := dateTokenPattern.FindStringSubmatch(tok); m != nil {
			dateIdx = i
			datePart = m[1]
			timePart = m[2]
			break
		}
	}
	if dateIdx < 0 {
		return base
	}

	rest := make([]string, 0, len(tokens)-1)
	for i := len(tokens) - 1; i >= 0; i-- {
		if i == dateIdx {
			continue
		}
		rest = append(rest, tokens[i])
	}

	segments := append([]string{datePart}, rest...)
	return strings.Join(segments, "_") + timePart + ext
}

// DateTokenFromFilename extracts the first date token's date portion
// from a file name, or "" when the name carries none.
func DateTokenFromFilename(name string) string {
	base := path.Base(name)
	stem := base
	if dot := strings.Index(base, "."); dot >= 0 {
		stem = base[:dot]
	}
	for _, tok := range strings.Split(stem, "_") {
		if m := dateTokenPattern.FindStringSubmatch(tok); m != nil {
			return m[1]
		}
	}
	return ""
}

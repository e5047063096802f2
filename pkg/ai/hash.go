package ai

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"unicode/utf16"
)

// PromptHash returns a short correlation key for a request body. It is a 32-bit
// polynomial hash over the compact JSON encoding, without HTML escaping, and
// collides freely; never use it for integrity.
func PromptHash(body any) string {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(body); err != nil {
		return hashString(fmt.Sprint(body))
	}
	return hashString(string(bytes.TrimSuffix(buf.Bytes(), []byte("\n"))))
}

// hashString computes h = h*31 + c over UTF-16 code units with int32 wraparound.
func hashString(s string) string {
	var h int32
	for _, u := range utf16.Encode([]rune(s)) {
		h = h*31 + int32(u)
	}
	abs := int64(h)
	if abs < 0 {
		abs = -abs
	}
	return strconv.FormatInt(abs, 16)
}

// Package encoding recovers text from HTTP response bodies whose declared
// charset may be missing or wrong.
package encoding

import (
	"mime"
	"strings"
	"unicode/utf8"

	"github.com/saintfish/chardet"
	"golang.org/x/net/html/charset"
	"golang.org/x/text/encoding"
	"golang.org/x/text/transform"
)

// Source records which step of the resolution chose the encoding.
type Source string

// Resolution steps, in the order they are tried.
const (
	SourceHeader   Source = "header"
	SourceDetected Source = "detected"
	SourceDefault  Source = "default"
	SourceFallback Source = "fallback"
)

// utf8Name is the canonical label used for UTF-8 results.
const utf8Name = "utf-8"

// Result is decoded text plus the encoding that produced it.
type Result struct {
	Text     string
	Encoding string
	Source   Source
}

// Resolve decodes raw using the charset declared in contentType, else a
// statistical guess, else UTF-8. Undecodable bytes become U+FFFD. It never fails.
func Resolve(raw []byte, contentType string) Result {
	if name := headerCharset(contentType); name != "" {
		if enc, canonical := charset.Lookup(name); enc != nil {
			return decode(raw, enc, canonical, SourceHeader)
		}
	}
	if name := detect(raw); name != "" {
		if enc, canonical := charset.Lookup(name); enc != nil {
			return decode(raw, enc, canonical, SourceDetected)
		}
	}
	return Result{Text: lossyUTF8(raw), Encoding: utf8Name, Source: SourceDefault}
}

func headerCharset(contentType string) string {
	if strings.TrimSpace(contentType) == "" {
		return ""
	}
	_, params, err := mime.ParseMediaType(contentType)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(params["charset"])
}

// detect returns the best chardet guess. Pure ASCII input is reported as UTF-8
// so that detector confidence ties never change the outcome.
func detect(raw []byte) string {
	if len(raw) == 0 {
		return ""
	}
	if utf8.Valid(raw) {
		return utf8Name
	}
	res, err := chardet.NewTextDetector().DetectBest(raw)
	if err != nil || res == nil {
		return ""
	}
	return res.Charset
}

func decode(raw []byte, enc encoding.Encoding, name string, src Source) Result {
	if strings.EqualFold(name, utf8Name) {
		return Result{Text: lossyUTF8(raw), Encoding: utf8Name, Source: src}
	}
	out, _, err := transform.Bytes(enc.NewDecoder(), raw)
	if err != nil {
		return Result{Text: lossyUTF8(raw), Encoding: utf8Name, Source: SourceFallback}
	}
	return Result{Text: lossyUTF8(out), Encoding: name, Source: src}
}

func lossyUTF8(raw []byte) string {
	return strings.ToValidUTF8(string(raw), "�")
}

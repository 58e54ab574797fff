package attachments

import (
	"mime"
	"net/http"
	"net/url"
	"path"
	"strings"
	"unicode"
)

func isNameRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r) || r == ' ' || r == '_' || r == '-'
}

// DocumentName returns the file name of a downloaded document, preferring the
// Content-Disposition filename over the last URL path segment.
func DocumentName(h http.Header, rawURL string) string {
	if h != nil {
		if cd := h.Get("Content-Disposition"); cd != "" {
			if _, params, err := mime.ParseMediaType(cd); err == nil {
				if name := strings.TrimSpace(params["filename"]); name != "" {
					return path.Base(name)
				}
			}
		}
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return "document.pdf"
	}
	p := u.Path
	if unescaped, err := url.PathUnescape(p); err == nil {
		p = unescaped
	}
	name := path.Base(p)
	if name == "." || name == "/" || name == "" {
		return "document.pdf"
	}
	return name
}

// Package textract turns message bodies and attachments into normalized
// plain text for classification.
package textract

import (
	"errors"
	"fmt"
	"mime"
	"path/filepath"
	"regexp"
	"strings"
	"unicode/utf8"
)

// ErrUnsupported is returned for attachment types that carry no extractable
// text (images, archives, calendar invites, ...).
var ErrUnsupported = errors.New("unsupported attachment type")

var (
	spaceRun   = regexp.MustCompile(`[ \t\f\v\r\x{00a0}]+`)
	newlineRun = regexp.MustCompile(`\n{3,}`)
)

// Normalize collapses runs of horizontal whitespace, trims every line and
// keeps at most one blank line between paragraphs. Invalid UTF-8 is dropped.
func Normalize(s string) string {
	if !utf8.ValidString(s) {
		s = strings.ToValidUTF8(s, "")
	}
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = spaceRun.ReplaceAllString(s, " ")

	lines := strings.Split(s, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimSpace(line)
	}
	s = strings.Join(lines, "\n")
	s = newlineRun.ReplaceAllString(s, "\n\n")

	return strings.TrimSpace(s)
}

// Body picks the best plain-text rendering of a message body. The text part
// wins when it has content; otherwise the HTML part is converted.
func Body(text, html string) string {
	if strings.TrimSpace(text) != "" {
		return Normalize(text)
	}
	if strings.TrimSpace(html) != "" {
		return HTMLToText(html)
	}
	return ""
}

// Extract returns normalized text for an attachment. The MIME type decides
// the extractor; the filename extension is used when the type is missing or
// generic.
func Extract(mimeType, filename string, data []byte) (string, error) {
	kind := classify(mimeType, filename)
	switch kind {
	case "text":
		return Normalize(string(data)), nil
	case "html":
		return HTMLToText(string(data)), nil
	case "pdf":
		text, err := PDFToText(data)
		if err != nil {
			return "", fmt.Errorf("extracting %s: %w", filename, err)
		}
		return text, nil
	default:
		return "", fmt.Errorf("%s (%s): %w", filename, mimeType, ErrUnsupported)
	}
}

func classify(mimeType, filename string) string {
	mt, _, err := mime.ParseMediaType(mimeType)
	if err != nil {
		mt = strings.ToLower(strings.TrimSpace(mimeType))
	}

	switch {
	case mt == "application/pdf":
		return "pdf"
	case mt == "text/html" || mt == "application/xhtml+xml":
		return "html"
	case strings.HasPrefix(mt, "text/"):
		return "text"
	}

	if mt == "" || mt == "application/octet-stream" {
		switch strings.ToLower(filepath.Ext(filename)) {
		case ".pdf":
			return "pdf"
		case ".html", ".htm":
			return "html"
		case ".txt", ".csv", ".md", ".log":
			return "text"
		}
	}
	return ""
}

// Package csvio reads and writes the delimited files processed by dedupe jobs.
package csvio

import (
	"encoding/csv"
	"fmt"
	"io"
	"mime"
	"strings"

	"github.com/JonMunkholm/dedupe/internal/dedupe"
)

// Supported content types.
const (
	ContentTypeCSV = "text/csv"
	ContentTypeTSV = "text/tab-separated-values"
)

// Format describes how a content type is parsed and stored.
type Format struct {
	ContentType string
	Delimiter   rune
	Extension   string
}

var formats = map[string]Format{
	ContentTypeCSV: {ContentType: ContentTypeCSV, Delimiter: ',', Extension: "csv"},
	ContentTypeTSV: {ContentType: ContentTypeTSV, Delimiter: '\t', Extension: "txt"},
}

// FormatFor returns the format for a Content-Type header value.
// Parameters such as charset are ignored.
func FormatFor(contentType string) (Format, error) {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		mediaType = strings.ToLower(strings.TrimSpace(contentType))
	}
	if f, ok := formats[mediaType]; ok {
		return f, nil
	}
	return Format{}, dedupe.ConfigError(dedupe.CodeUnsupportedType,
		"Unsupported content type",
		fmt.Sprintf("Content-Type %q is not supported. Use %q or %q", contentType, ContentTypeCSV, ContentTypeTSV))
}

// FormatForExtension maps a file extension to a format. Used by the CLI,
// where there is no Content-Type header.
func FormatForExtension(ext string) (Format, error) {
	switch strings.ToLower(strings.TrimPrefix(ext, ".")) {
	case "csv":
		return formats[ContentTypeCSV], nil
	case "tsv", "tab", "txt":
		return formats[ContentTypeTSV], nil
	}
	return Format{}, dedupe.ConfigError(dedupe.CodeUnsupportedType,
		"Unsupported file type",
		fmt.Sprintf("Files ending in %q are not supported. Use .csv or .tsv", ext))
}

// NewReader returns a csv.Reader for already wrapped input. Rows may differ
// in width and stray quotes are tolerated.
func NewReader(r io.Reader, delim rune) *csv.Reader {
	cr := csv.NewReader(r)
	cr.Comma = delim
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true
	return cr
}

// ReadHeader returns the first row of r, or a CFG006 error if there is none.
func ReadHeader(r io.Reader, delim rune) (dedupe.Header, error) {
	row, err := NewReader(r, delim).Read()
	if err == io.EOF {
		return nil, dedupe.ConfigError(dedupe.CodeEmptyInput, "Empty file", "The input has no header row")
	}
	if err != nil {
		return nil, dedupe.IOError(dedupe.CodeReadInput, "Could not read input header", err, nil)
	}
	return dedupe.Header(row), nil
}

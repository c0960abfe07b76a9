package extract

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"unicode"

	"github.com/ledongthuc/pdf"
)

// ExtractionError marks input the engine cannot turn into text. It is a
// business failure, not an internal fault: callers report it to the client
// instead of failing the request.
type ExtractionError struct {
	Filename string
	Reason   string
	Err      error
}

func (e *ExtractionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("extract %s: %s: %v", e.Filename, e.Reason, e.Err)
	}
	return fmt.Sprintf("extract %s: %s", e.Filename, e.Reason)
}

func (e *ExtractionError) Unwrap() error { return e.Err }

// Section is a labeled span of the extracted text, in byte offsets.
type Section struct {
	Label string
	Start int
	End   int
}

// NormalizedText is the extractor output. Text is the full extracted text;
// Body is the portion left for fingerprinting after skip patterns removed
// their sections. Sections and Skipped are retained for audit.
type NormalizedText struct {
	Text     string
	Body     string
	Sections []Section
	Skipped  []Section
}

// SectionVocabulary lists the heading labels the extractor recognizes.
// Skip patterns are matched against this set; anything else is ignored.
var SectionVocabulary = []string{
	"aim",
	"abstract",
	"introduction",
	"objective",
	"code",
	"references",
	"conclusion",
	"appendix",
}

// Extract converts a document into normalized text. Supported types are
// decided by the filename extension: .pdf, .docx, .doc and .txt. Identical
// bytes always produce identical output.
func Extract(raw []byte, filename string, skipPatterns []string) (*NormalizedText, error) {
	if len(raw) == 0 {
		return nil, &ExtractionError{Filename: filename, Reason: "empty file"}
	}

	ext := strings.ToLower(filepath.Ext(filename))
	var text string
	var err error
	switch ext {
	case ".pdf":
		text, err = parsePDF(raw)
	case ".docx":
		text, err = parseDOCX(raw)
	case ".doc":
		// Many ".doc" uploads are mislabeled DOCX containers; try that
		// first, then salvage printable text from the binary format.
		text, err = parseDOCX(raw)
		if err != nil {
			text, err = parseDocBinary(raw)
		}
	case ".txt":
		text = string(raw)
	default:
		return nil, &ExtractionError{Filename: filename, Reason: fmt.Sprintf("unsupported file type %q", ext)}
	}
	if err != nil {
		return nil, &ExtractionError{Filename: filename, Reason: "unreadable document", Err: err}
	}

	text = normalizeWhitespace(text)
	if text == "" {
		return nil, &ExtractionError{Filename: filename, Reason: "no extractable text"}
	}

	sections := detectSections(text)
	skipped := selectSkipped(sections, skipPatterns)
	return &NormalizedText{
		Text:     text,
		Body:     removeSpans(text, skipped),
		Sections: sections,
		Skipped:  skipped,
	}, nil
}

func parsePDF(raw []byte) (string, error) {
	r, err := pdf.NewReader(bytes.NewReader(raw), int64(len(raw)))
	if err != nil {
		return "", fmt.Errorf("open pdf: %w", err)
	}

	var b strings.Builder
	total := r.NumPage()
	for i := 1; i <= total; i++ {
		p := r.Page(i)
		if p.V.IsNull() {
			continue
		}
		content, pageErr := p.GetPlainText(nil)
		if pageErr != nil {
			continue
		}
		b.WriteString(content)
		b.WriteString("\n")
	}
	if b.Len() == 0 {
		return "", fmt.Errorf("no extractable text found in pdf")
	}
	return b.String(), nil
}

func parseDOCX(raw []byte) (string, error) {
	zr, err := zip.NewReader(bytes.NewReader(raw), int64(len(raw)))
	if err != nil {
		return "", fmt.Errorf("open docx zip: %w", err)
	}

	var xmlData []byte
	for _, f := range zr.File {
		if f.Name == "word/document.xml" {
			rc, openErr := f.Open()
			if openErr != nil {
				return "", fmt.Errorf("open document.xml: %w", openErr)
			}
			defer rc.Close()
			xmlData, err = io.ReadAll(rc)
			if err != nil {
				return "", fmt.Errorf("read document.xml: %w", err)
			}
			break
		}
	}
	if len(xmlData) == 0 {
		return "", fmt.Errorf("word/document.xml not found")
	}

	decoder := xml.NewDecoder(bytes.NewReader(xmlData))
	var b strings.Builder
	inText := false
	for {
		tok, tokenErr := decoder.Token()
		if tokenErr == io.EOF {
			break
		}
		if tokenErr != nil {
			return "", fmt.Errorf("decode document.xml: %w", tokenErr)
		}

		switch t := tok.(type) {
		case xml.StartElement:
			if t.Name.Local == "t" {
				inText = true
			}
			if t.Name.Local == "p" {
				if b.Len() > 0 {
					b.WriteString("\n")
				}
			}
		case xml.EndElement:
			if t.Name.Local == "t" {
				inText = false
			}
		case xml.CharData:
			if inText {
				b.WriteString(string(t))
			}
		}
	}
	return b.String(), nil
}

// parseDocBinary salvages printable runs from a legacy DOC file. The word
// stream in the OLE container stores visible text as runs of printable
// characters; short runs are format noise and dropped.
func parseDocBinary(raw []byte) (string, error) {
	var b strings.Builder
	var run []rune
	flush := func() {
		if len(run) >= 4 {
			b.WriteString(string(run))
			b.WriteString("\n")
		}
		run = run[:0]
	}
	for _, r := range string(raw) {
		if r == unicode.ReplacementChar {
			flush()
			continue
		}
		if unicode.IsPrint(r) || r == ' ' || r == '\t' {
			run = append(run, r)
			continue
		}
		flush()
	}
	flush()

	text := b.String()
	letters := 0
	for _, r := range text {
		if unicode.IsLetter(r) {
			letters++
		}
	}
	if letters < 50 {
		return "", fmt.Errorf("no extractable text found in doc")
	}
	return text, nil
}

func normalizeWhitespace(text string) string {
	lines := strings.Split(text, "\n")
	out := make([]string, 0, len(lines))
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		out = append(out, strings.Join(strings.Fields(line), " "))
	}
	return strings.Join(out, "\n")
}

// detectSections scans for heading lines. A heading is a short line whose
// leading word, after optional numbering like "1." or "2)", matches the
// vocabulary. A section runs until the next heading or end of text.
func detectSections(text string) []Section {
	var sections []Section
	offset := 0
	for _, line := range strings.Split(text, "\n") {
		if label, ok := headingLabel(line); ok {
			if n := len(sections); n > 0 {
				sections[n-1].End = offset
			}
			sections = append(sections, Section{Label: label, Start: offset})
		}
		offset += len(line) + 1
	}
	if n := len(sections); n > 0 {
		sections[n-1].End = len(text)
	}
	return sections
}

func headingLabel(line string) (string, bool) {
	fields := strings.Fields(line)
	if len(fields) == 0 || len(fields) > 4 {
		return "", false
	}
	first := strings.ToLower(strings.TrimRight(fields[0], ".:)"))
	if allDigits(first) && len(fields) > 1 {
		first = strings.ToLower(strings.TrimRight(fields[1], ".:"))
	}
	for _, label := range SectionVocabulary {
		if first == label {
			return label, true
		}
	}
	return "", false
}

func allDigits(word string) bool {
	for _, r := range word {
		if !unicode.IsDigit(r) {
			return false
		}
	}
	return len(word) > 0
}

func selectSkipped(sections []Section, skipPatterns []string) []Section {
	if len(skipPatterns) == 0 || len(sections) == 0 {
		return nil
	}
	wanted := map[string]struct{}{}
	for _, p := range skipPatterns {
		for _, part := range strings.Split(p, ",") {
			part = strings.ToLower(strings.TrimSpace(part))
			if part == "" {
				continue
			}
			for _, label := range SectionVocabulary {
				if part == label {
					wanted[label] = struct{}{}
				}
			}
		}
	}
	var skipped []Section
	for _, s := range sections {
		if _, ok := wanted[s.Label]; ok {
			skipped = append(skipped, s)
		}
	}
	return skipped
}

func removeSpans(text string, spans []Section) string {
	if len(spans) == 0 {
		return text
	}
	var b strings.Builder
	prev := 0
	for _, s := range spans {
		if s.Start > prev {
			b.WriteString(text[prev:s.Start])
		}
		if s.End > prev {
			prev = s.End
		}
	}
	if prev < len(text) {
		b.WriteString(text[prev:])
	}
	return b.String()
}

package report

import (
	"archive/zip"
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-pdf/fpdf"
	"github.com/pdfcpu/pdfcpu/pkg/api"

	"cheqmate/internal/corpus"
)

// Summary is the per-analysis result rendered into the report page.
type Summary struct {
	PlagiarismScore float64
	AIProbability   *float64
	Matches         []corpus.MatchDetail
}

// Append rewrites the analyzed file in place with a report page added at
// the end. The host detects the rewrite by file size change and re-ingests
// the file. Unsupported types are skipped silently; a report is a courtesy,
// never a requirement.
func Append(path string, sum Summary) error {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".pdf":
		return appendToPDF(path, sum)
	case ".docx":
		return appendToDOCX(path, sum)
	default:
		return nil
	}
}

func reportLines(sum Summary) []string {
	lines := []string{
		"CheqMate Analysis Report",
		"--------------------------------------------------",
		fmt.Sprintf("Plagiarism Score: %.2f%%", sum.PlagiarismScore),
	}
	if sum.AIProbability != nil {
		lines = append(lines, fmt.Sprintf("AI Probability:   %.2f%%", *sum.AIProbability))
	} else {
		lines = append(lines, "AI Probability:   unavailable")
	}
	lines = append(lines, "", "Matches found:")
	if len(sum.Matches) == 0 {
		lines = append(lines, " - No significant matches found.")
		return lines
	}
	for _, m := range sum.Matches {
		switch m.SourceType {
		case "global":
			lines = append(lines, fmt.Sprintf(" - Global source: %s (Similarity: %.2f%%)", m.Filename, m.Score))
		default:
			lines = append(lines, fmt.Sprintf(" - Submission ID: %d (Similarity: %.2f%%)", m.SubmissionID, m.Score))
		}
	}
	return lines
}

func appendToPDF(path string, sum Summary) error {
	doc := fpdf.New("P", "mm", "A4", "")
	doc.SetMargins(15, 15, 15)
	doc.AddPage()
	doc.SetFont("Helvetica", "B", 14)
	doc.CellFormat(0, 10, "CheqMate Analysis Report", "", 1, "L", false, 0, "")
	doc.SetFont("Helvetica", "", 11)
	for _, line := range reportLines(sum)[1:] {
		doc.CellFormat(0, 7, line, "", 1, "L", false, 0, "")
	}

	reportPath := path + ".report.pdf"
	if err := doc.OutputFileAndClose(reportPath); err != nil {
		return fmt.Errorf("write report page: %w", err)
	}
	defer os.Remove(reportPath)

	mergedPath := path + ".merged.pdf"
	if err := api.MergeAppendFile([]string{path, reportPath}, mergedPath, false, nil); err != nil {
		os.Remove(mergedPath)
		return fmt.Errorf("merge report page: %w", err)
	}
	if err := os.Rename(mergedPath, path); err != nil {
		os.Remove(mergedPath)
		return fmt.Errorf("replace pdf: %w", err)
	}
	return nil
}

// appendToDOCX rewrites the docx container, inserting report paragraphs
// just before the closing body tag of word/document.xml.
func appendToDOCX(path string, sum Summary) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read docx: %w", err)
	}
	zr, err := zip.NewReader(bytes.NewReader(raw), int64(len(raw)))
	if err != nil {
		return fmt.Errorf("open docx zip: %w", err)
	}

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	found := false
	for _, f := range zr.File {
		rc, err := f.Open()
		if err != nil {
			return fmt.Errorf("open %s: %w", f.Name, err)
		}
		data, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			return fmt.Errorf("read %s: %w", f.Name, err)
		}

		if f.Name == "word/document.xml" {
			data, err = insertParagraphs(data, reportLines(sum))
			if err != nil {
				return err
			}
			found = true
		}

		w, err := zw.Create(f.Name)
		if err != nil {
			return fmt.Errorf("create %s: %w", f.Name, err)
		}
		if _, err := w.Write(data); err != nil {
			return fmt.Errorf("write %s: %w", f.Name, err)
		}
	}
	if !found {
		return fmt.Errorf("word/document.xml not found")
	}
	if err := zw.Close(); err != nil {
		return fmt.Errorf("close docx zip: %w", err)
	}

	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("write docx: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("replace docx: %w", err)
	}
	return nil
}

func insertParagraphs(doc []byte, lines []string) ([]byte, error) {
	const closeBody = "</w:body>"
	idx := bytes.LastIndex(doc, []byte(closeBody))
	if idx < 0 {
		return nil, fmt.Errorf("document body close tag not found")
	}

	var b strings.Builder
	for _, line := range lines {
		b.WriteString(`<w:p><w:r><w:t xml:space="preserve">`)
		b.WriteString(escapeXML(line))
		b.WriteString(`</w:t></w:r></w:p>`)
	}

	out := make([]byte, 0, len(doc)+b.Len())
	out = append(out, doc[:idx]...)
	out = append(out, []byte(b.String())...)
	out = append(out, doc[idx:]...)
	return out, nil
}

func escapeXML(s string) string {
	s = strings.ReplaceAll(s, "&", "&amp;")
	s = strings.ReplaceAll(s, "<", "&lt;")
	s = strings.ReplaceAll(s, ">", "&gt;")
	return s
}

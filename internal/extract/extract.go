// Package extract pulls plain text out of uploaded contract documents.
package extract

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/ledongthuc/pdf"
	"github.com/nguyenthenguyen/docx"
)

// Format is a supported document format.
type Format string

const (
	FormatPDF  Format = "pdf"
	FormatDOCX Format = "docx"
)

const (
	mimePDF  = "application/pdf"
	mimeDOCX = "application/vnd.openxmlformats-officedocument.wordprocessingml.document"

	docxBody = "word/document.xml"
)

var (
	// ErrUnsupportedFormat is matched by every *UnsupportedFormatError.
	ErrUnsupportedFormat = errors.New("unsupported file type")
	// ErrEmptyDocument is returned for zero-length uploads.
	ErrEmptyDocument = errors.New("empty document")
)

// UnsupportedFormatError reports an upload that is neither PDF nor DOCX.
type UnsupportedFormatError struct {
	FileName string
	MimeType string
}

func (e *UnsupportedFormatError) Error() string {
	kind := e.MimeType
	if kind == "" {
		kind = filepath.Ext(e.FileName)
	}
	if kind == "" {
		kind = "unknown"
	}
	return fmt.Sprintf("Unsupported file type: %s. Please upload a PDF or DOCX file.", kind)
}

func (e *UnsupportedFormatError) Is(target error) bool { return target == ErrUnsupportedFormat }

// SupportedExtension reports whether the file name ends in .pdf or .docx.
func SupportedExtension(fileName string) bool {
	switch strings.ToLower(filepath.Ext(fileName)) {
	case ".pdf", ".docx":
		return true
	}
	return false
}

// Detect resolves the document format from the file name, the declared mime
// type and finally the payload itself.
func Detect(data []byte, fileName, mimeType string) (Format, bool) {
	switch strings.ToLower(filepath.Ext(fileName)) {
	case ".pdf":
		return FormatPDF, true
	case ".docx":
		return FormatDOCX, true
	}

	clean := strings.ToLower(strings.TrimSpace(strings.Split(mimeType, ";")[0]))
	switch {
	case strings.Contains(clean, "pdf"):
		return FormatPDF, true
	case strings.Contains(clean, "wordprocessingml"):
		return FormatDOCX, true
	case clean == "", clean == "application/zip", clean == "application/octet-stream":
		if bytes.HasPrefix(data, []byte("%PDF-")) {
			return FormatPDF, true
		}
		if zipHasDocxBody(data) {
			return FormatDOCX, true
		}
	}
	return "", false
}

// Extract returns the plain text of a PDF or DOCX payload.
func Extract(ctx context.Context, data []byte, fileName, mimeType string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	format, ok := Detect(data, fileName, mimeType)
	if !ok {
		return "", &UnsupportedFormatError{FileName: fileName, MimeType: mimeType}
	}
	if len(data) == 0 {
		return "", ErrEmptyDocument
	}

	switch format {
	case FormatPDF:
		text, err := extractPDF(data)
		if err != nil {
			return "", fmt.Errorf("extract pdf %s: %w", fileName, err)
		}
		return text, nil
	default:
		text, err := extractDOCX(data)
		if err != nil {
			return "", fmt.Errorf("extract docx %s: %w", fileName, err)
		}
		return text, nil
	}
}

// extractPDF joins the non-empty text of every page with a blank line.
func extractPDF(data []byte) (text string, err error) {
	// the pdf reader panics on some malformed cross-reference tables
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("malformed pdf: %v", r)
		}
	}()

	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("open pdf: %w", err)
	}

	parts := make([]string, 0, reader.NumPage())
	for i := 1; i <= reader.NumPage(); i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		pageText, err := page.GetPlainText(nil)
		if err != nil {
			return "", fmt.Errorf("read page %d: %w", i, err)
		}
		if pageText != "" {
			parts = append(parts, pageText)
		}
	}
	return strings.Join(parts, "\n\n"), nil
}

func extractDOCX(data []byte) (string, error) {
	body, err := docxDocumentXML(data)
	if err != nil {
		return "", err
	}
	return documentText(body)
}

// docxDocumentXML returns the raw word/document.xml part. Packages the docx
// reader rejects (missing relationship parts) are read straight from the zip.
func docxDocumentXML(data []byte) (string, error) {
	r, err := docx.ReadDocxFromMemory(bytes.NewReader(data), int64(len(data)))
	if err == nil {
		defer r.Close()
		return r.Editable().GetContent(), nil
	}

	zr, zerr := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if zerr != nil {
		return "", fmt.Errorf("open docx: %w", zerr)
	}
	for _, f := range zr.File {
		if strings.ReplaceAll(f.Name, "\\", "/") != docxBody {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return "", fmt.Errorf("open %s: %w", docxBody, err)
		}
		defer rc.Close()
		raw, err := io.ReadAll(rc)
		if err != nil {
			return "", fmt.Errorf("read %s: %w", docxBody, err)
		}
		return string(raw), nil
	}
	return "", fmt.Errorf("open docx: %w", err)
}

func zipHasDocxBody(data []byte) bool {
	if len(data) == 0 {
		return false
	}
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return false
	}
	for _, f := range zr.File {
		if strings.ReplaceAll(f.Name, "\\", "/") == docxBody {
			return true
		}
	}
	return false
}

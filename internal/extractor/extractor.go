package extractor

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/Chandra1295/multi-modal-rag/internal/pkg/pdfextract"
)

const (
	// MaxFileSize bounds accepted uploads to 50 MB.
	MaxFileSize = 50 << 20

	DefaultChunkSize    = 800
	DefaultChunkOverlap = 100
)

var (
	// ErrValidation marks user-correctable upload problems (extension, size).
	ErrValidation = errors.New("invalid upload")
	// ErrExtraction marks a PDF the partitioner could not process.
	ErrExtraction = errors.New("pdf extraction failed")
)

// Extractor turns a PDF file on disk into an ordered sequence of text chunks.
type Extractor struct {
	splitter *Splitter
}

func New() *Extractor {
	return &Extractor{splitter: NewSplitter(DefaultChunkSize, DefaultChunkOverlap)}
}

// Validate applies the upload acceptance rule: .pdf suffix, at most
// MaxFileSize bytes. The same rule runs again inside Extract, covering
// callers that hand over a path instead of the original upload.
func Validate(filename string, size int64) error {
	if strings.ToLower(filepath.Ext(filename)) != ".pdf" {
		return fmt.Errorf("%w: only PDF files are supported", ErrValidation)
	}
	if size > MaxFileSize {
		return fmt.Errorf("%w: file exceeds %d MB limit", ErrValidation, MaxFileSize>>20)
	}
	return nil
}

// Extract validates the file at path, pulls its plain text and splits it into
// chunks. A PDF with no extractable text yields (nil, nil): an empty result is
// a user-visible "no content" condition, not a failure.
func (e *Extractor) Extract(path string) ([]string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}
	if err := Validate(path, info.Size()); err != nil {
		return nil, err
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrExtraction, err)
	}
	defer f.Close()

	text, err := pdfextract.ExtractText(f)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrExtraction, err)
	}
	if strings.TrimSpace(text) == "" {
		return nil, nil
	}
	return e.splitter.Split(text), nil
}

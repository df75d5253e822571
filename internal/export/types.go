// Package export renders a proposal's decision record as PDF or DOCX.
package export

import "errors"

// Format is the export output format.
type Format string

const (
	FormatPDF  Format = "pdf"
	FormatDOCX Format = "docx"
)

// Request describes one export operation.
type Request struct {
	ProposalID string
	Format     Format
	// IncludeReviews adds per-reviewer results, decline reasons and
	// messages under each step.
	IncludeReviews bool
}

// Result is the rendered export.
type Result struct {
	Data     []byte
	Filename string
	MimeType string
}

var (
	// ErrPDFDependencyMissing indicates PDF export runtime dependencies are unavailable.
	ErrPDFDependencyMissing = errors.New("export pdf dependency missing")
	// ErrDOCXDependencyMissing indicates DOCX export runtime dependencies are unavailable.
	ErrDOCXDependencyMissing = errors.New("export docx dependency missing")
)

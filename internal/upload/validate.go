package upload

import (
	"bytes"
	"fmt"
	"io"
	"strings"

	"github.com/ledongthuc/pdf"
)

const (
	MediaTypePDF   = "application/pdf"
	DefaultMaxSize = 10 << 20
)

// Rules decide which files of a batch may be uploaded.
type Rules struct {
	AllowedTypes []string
	MaxSize      int64
	// VerifyPDF additionally requires PDFs to parse, recording their page count.
	VerifyPDF bool
}

// DefaultRules accept PDFs up to DefaultMaxSize.
func DefaultRules() Rules {
	return Rules{AllowedTypes: []string{MediaTypePDF}, MaxSize: DefaultMaxSize}
}

// Rejection explains why a file was excluded from a batch.
type Rejection struct {
	File   File
	Reason string
}

// Validate partitions files into those that pass every rule and those that
// do not. Each file is judged on its own, so the partition does not depend
// on the order of files. Input order is kept within both results.
func Validate(files []File, rules Rules) (valid []File, rejected []Rejection) {
	for _, f := range files {
		checked, reason := check(f, rules)
		if reason != "" {
			rejected = append(rejected, Rejection{File: f, Reason: reason})
			continue
		}
		valid = append(valid, checked)
	}
	return valid, rejected
}

func check(f File, rules Rules) (File, string) {
	if !typeAllowed(f.MediaType(), rules.AllowedTypes) {
		return f, fmt.Sprintf("%s: unsupported file type %q (allowed: %s)",
			f.Name(), f.MediaType(), strings.Join(rules.AllowedTypes, ", "))
	}
	if rules.MaxSize > 0 && f.Size() > rules.MaxSize {
		return f, fmt.Sprintf("%s: file is %s, larger than the %s limit",
			f.Name(), formatSize(f.Size()), formatSize(rules.MaxSize))
	}
	if rules.VerifyPDF && f.MediaType() == MediaTypePDF {
		pages, err := countPages(f)
		if err != nil {
			return f, fmt.Sprintf("%s: not a readable PDF (%v)", f.Name(), err)
		}
		f.pages = pages
	}
	return f, ""
}

func typeAllowed(mediaType string, allowed []string) bool {
	for _, a := range allowed {
		if strings.EqualFold(strings.TrimSpace(a), mediaType) {
			return true
		}
	}
	return false
}

// countPages parses the whole document. The pdf parser panics on some
// malformed input, so a panic is reported as an error.
func countPages(f File) (pages int, err error) {
	rc, err := f.Open()
	if err != nil {
		return 0, err
	}
	data, err := io.ReadAll(rc)
	rc.Close()
	if err != nil {
		return 0, err
	}

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("malformed pdf: %v", r)
		}
	}()
	r, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return 0, err
	}
	n := r.NumPage()
	if n == 0 {
		return 0, fmt.Errorf("document has no pages")
	}
	return n, nil
}

func formatSize(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(n)/float64(div), "KMGT"[exp])
}

package constants

import (
	"bytes"
	"strings"
)

// PDFMagic is the header every PDF document starts with.
var PDFMagic = []byte("%PDF-")

// AllowedExtensions holds the upload extensions accepted by the service.
var AllowedExtensions = map[string]struct{}{
	"pdf": {},
}

// NormalizeExt lowercases and trims the dot from a file extension.
func NormalizeExt(ext string) string {
	return strings.ToLower(strings.TrimPrefix(ext, "."))
}

// IsAllowedExt reports whether ext (with or without the dot) may be uploaded.
func IsAllowedExt(ext string) bool {
	_, ok := AllowedExtensions[NormalizeExt(ext)]
	return ok
}

// LooksLikePDF checks the leading bytes of a payload.
func LooksLikePDF(head []byte) bool {
	return bytes.HasPrefix(head, PDFMagic)
}

// OutputFileName is the artifact name for a job.
func OutputFileName(jobID string) string {
	return "questions_" + jobID + ".xlsx"
}

// XLSXContentType is used when serving or publishing artifacts.
const XLSXContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

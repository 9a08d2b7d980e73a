package model

import "time"

// DefaultUploader is recorded when no uploader label is supplied.
const DefaultUploader = "Admin"

// Paper represents an uploaded previous-year question paper and the locator of its PDF in object storage.
// It carries JSON tags only; persistence mapping lives in the repository.
type Paper struct {
	ID         string `json:"id"`
	Subject    string `json:"subject"`
	Department string `json:"department"`
	Semester   int    `json:"semester"`
	Year       int    `json:"year"`
	// Locator is the URL of the binary asset. It is opaque except for pattern-based rewriting at download time.
	Locator    string `json:"locator"`
	StorageKey string `json:"storage_key"`
	UploadedBy string `json:"uploaded_by"`
	// DownloadCount is persisted but never incremented.
	DownloadCount int       `json:"download_count"`
	CreatedAt     time.Time `json:"created_at"`
}

// PaperFilter narrows paper listings. Zero values mean "any".
type PaperFilter struct {
	Department string
	Semester   int
	Year       int
	// Subject is matched case-insensitively as a substring.
	Subject string
}

// IsEmpty reports whether the filter matches every record.
func (f PaperFilter) IsEmpty() bool {
	return f.Department == "" && f.Semester == 0 && f.Year == 0 && f.Subject == ""
}

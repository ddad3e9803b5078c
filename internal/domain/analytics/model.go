// Package analytics stores lab result files uploaded for a patient and hands
// each one to the processing queue.
package analytics

import (
	"errors"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/healz/reports/internal/domain/processing"
)

var (
	ErrNotFound  = errors.New("analytics not found")
	ErrEmptyFile = errors.New("file is empty")
)

type Analytics struct {
	ID          uuid.UUID `db:"id" json:"id"`
	PatientID   uuid.UUID `db:"patient_id" json:"patient_id"`
	FileName    string    `db:"file_name" json:"file_name"`
	MimeType    string    `db:"mime_type" json:"mime_type"`
	SizeBytes   int64     `db:"size_bytes" json:"size_bytes"`
	StoragePath string    `db:"storage_path" json:"storage_path"`
	URL         string    `db:"url" json:"url"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
}

// Upload is the result of accepting a lab file.
type Upload struct {
	Analytics *Analytics      `json:"analytics"`
	Job       *processing.Job `json:"job"`
}

// ObjectPath is where a lab file is stored. The upload id keeps repeated
// file names apart.
func ObjectPath(patientID, uploadID uuid.UUID, fileName string) string {
	name := strings.NewReplacer("/", "_", "\\", "_", "..", "_").Replace(strings.TrimSpace(fileName))
	if name == "" {
		name = "file"
	}
	return path.Join("analytics", patientID.String(), uploadID.String()+"-"+name)
}

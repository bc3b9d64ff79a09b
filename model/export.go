package model

import "time"

// ExportState is the lifecycle state of a server-side export job.
type ExportState string

const (
	// ExportCreated is the local state before the job is submitted.
	ExportCreated ExportState = "CREATED"
	// ExportReady means the remote side accepted the job and queued it.
	ExportReady ExportState = "READY"
	// ExportRunning means the remote side is processing the job.
	ExportRunning ExportState = "RUNNING"
	// ExportCompleted is the successful terminal state.
	ExportCompleted ExportState = "COMPLETED"
	// ExportFailed is the unsuccessful terminal state. Failed exports are
	// surfaced to the operator and never resubmitted automatically.
	ExportFailed ExportState = "FAILED"
)

// Terminal reports whether the state ends the job's lifecycle.
func (s ExportState) Terminal() bool {
	return s == ExportCompleted || s == ExportFailed
}

// Known reports whether the state is one the controller understands.
// Unknown states from the remote side are kept as-is and treated as
// non-terminal.
func (s ExportState) Known() bool {
	switch s {
	case ExportCreated, ExportReady, ExportRunning, ExportCompleted, ExportFailed:
		return true
	}
	return false
}

// ExportJob is the local record of one server-side export.
type ExportJob struct {
	// Handle is the remote identifier returned at submission.
	Handle string
	// Name is the export's output name, extension excluded.
	Name string
	// Image is the catalog identifier of the image being exported.
	Image string
	// Region is the export extent in its zone projection.
	Region PlanarRectangle
	// Folder is the remote destination folder.
	Folder string

	State ExportState
	// Message carries the remote failure description for FAILED jobs.
	Message string

	SubmittedAt time.Time
	// UpdatedAt records the last observed state transition.
	UpdatedAt time.Time
}

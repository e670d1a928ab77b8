package domain

// JobStatus enumerates the lifecycle states of a single image job.
type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusProcessing JobStatus = "processing"
	JobStatusDone       JobStatus = "done"
	JobStatusError      JobStatus = "error"
)

// Payload is an opaque binary image tagged with its media type. Filename is
// the name supplied by the uploader, if any.
type Payload struct {
	Data     []byte
	MIMEType string
	Filename string
}

// IsZero reports whether the payload carries no bytes. A nil payload is
// zero, so optional inputs such as the background can be checked directly.
func (p *Payload) IsZero() bool {
	return p == nil || len(p.Data) == 0
}

// MediaType returns the payload's media type, defaulting to image/png.
func (p *Payload) MediaType() string {
	if p == nil || p.MIMEType == "" {
		return "image/png"
	}
	return p.MIMEType
}

package ingest

import (
	"bytes"
	"encoding/json"
	"fmt"

	docqaerrors "github.com/Aman-CERP/docqa/internal/errors"
	"github.com/Aman-CERP/docqa/internal/index"
)

// Job is the queue payload: {"document_id": 1, "content": "...", "metadata": {...}}.
type Job struct {
	DocumentID int64          `json:"document_id"`
	Content    string         `json:"content"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// Request converts the job into an index request.
func (j *Job) Request() index.Request {
	return index.Request{DocumentID: j.DocumentID, Content: j.Content, Metadata: j.Metadata}
}

// DecodeJob parses a queue payload. Any payload that cannot become a valid
// index request fails with ErrCodeMalformedJob.
func DecodeJob(body []byte) (*Job, error) {
	if len(bytes.TrimSpace(body)) == 0 {
		return nil, malformed("empty payload", nil)
	}

	var raw struct {
		DocumentID *int64          `json:"document_id"`
		Content    *string         `json:"content"`
		Metadata   json.RawMessage `json:"metadata"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, malformed("payload is not a job object", err)
	}
	if raw.DocumentID == nil {
		return nil, malformed("document_id is required", nil)
	}
	if *raw.DocumentID <= 0 {
		return nil, malformed(fmt.Sprintf("document_id must be positive, got %d", *raw.DocumentID), nil)
	}

	job := &Job{DocumentID: *raw.DocumentID}
	if raw.Content != nil {
		job.Content = *raw.Content
	}
	if len(raw.Metadata) > 0 && !bytes.Equal(raw.Metadata, []byte("null")) {
		if err := json.Unmarshal(raw.Metadata, &job.Metadata); err != nil {
			return nil, malformed("metadata must be an object", err)
		}
	}
	return job, nil
}

// EncodeJob serializes a job for publishing.
func EncodeJob(job Job) ([]byte, error) {
	if job.DocumentID <= 0 {
		return nil, malformed(fmt.Sprintf("document_id must be positive, got %d", job.DocumentID), nil)
	}
	return json.Marshal(job)
}

func malformed(message string, cause error) error {
	return docqaerrors.New(docqaerrors.ErrCodeMalformedJob, message, cause)
}

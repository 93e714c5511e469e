// SPDX-License-Identifier: MIT

package ppubs

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/mwrenn/ppubsd/internal/log"
	"github.com/mwrenn/ppubsd/internal/metrics"
)

const (
	printSubmitPath = "/api/print/imageviewer"
	printPollPath   = "/api/print/print-process"
	printFetchPath  = "/api/internal/print/save/"
)

// Poll statuses reported by the upstream, case-sensitive.
const (
	pollStatusPending   = "pending"
	pollStatusCompleted = "completed"
	pollStatusFailed    = "failed"
)

var pdfMagic = []byte("%PDF")

// JobState is the lifecycle position of a print job.
type JobState string

const (
	JobSubmitted JobState = "submitted"
	JobPending   JobState = "pending"
	JobCompleted JobState = "completed"
	JobFailed    JobState = "failed"
)

// PrintJob tracks one PDF generation job through the pipeline.
type PrintJob struct {
	ID            string
	GUID          string
	State         JobState
	ArtifactName  string
	FailureReason string
	SubmittedAt   time.Time
	LastPolledAt  time.Time
}

// JobRecorder persists job transitions. Recording failures are logged, not
// propagated; history is best-effort.
type JobRecorder interface {
	Record(ctx context.Context, job PrintJob) error
}

// PollStatus is one entry of the batch poll response, positionally matching
// the polled job IDs.
type PollStatus struct {
	Status       string `json:"status"`
	ArtifactName string `json:"artifactName,omitempty"`
}

type printSubmitRequest struct {
	CaseID      string   `json:"caseId"`
	PageKeys    []string `json:"pageKeys"`
	PatentGUID  string   `json:"patentGuid"`
	SaveOrPrint string   `json:"saveOrPrint"`
	Source      string   `json:"source"`
}

// pageKeys derives the per-page image keys the generator expects.
func pageKeys(imageLocation string, pageCount int) []string {
	keys := make([]string, 0, pageCount)
	for i := 1; i <= pageCount; i++ {
		keys = append(keys, fmt.Sprintf("%s/%08d.tif", imageLocation, i))
	}
	return keys
}

// SubmitPrintJob asks the upstream to generate a PDF for the document. The
// call is not idempotent (each accepted request enqueues a new job), so it
// is never retried; transient failures surface to the caller.
func (c *Client) SubmitPrintJob(ctx context.Context, guid, imageLocation string, pageCount int, source string) (*PrintJob, error) {
	if guid == "" || imageLocation == "" || pageCount <= 0 {
		return nil, fmt.Errorf("submit print job: guid, imageLocation and pageCount are required")
	}
	if source == "" {
		source = SourceGrantedPatents
	}

	res, err := c.invoke(ctx, "print.submit", 1, func(ctx context.Context, sess Session) (*http.Request, error) {
		return c.newJSONRequest(ctx, sess, http.MethodPost, printSubmitPath, printSubmitRequest{
			CaseID:      sess.CaseID,
			PageKeys:    pageKeys(imageLocation, pageCount),
			PatentGUID:  guid,
			SaveOrPrint: "save",
			Source:      source,
		})
	})
	if err != nil {
		return nil, err
	}

	id := strings.TrimSpace(strings.Trim(strings.TrimSpace(string(res.Body)), `"`))
	if id == "" {
		return nil, &Error{Sentinel: ErrBadResponse, Operation: "print.submit", Status: res.Status, Body: "empty job id"}
	}

	job := &PrintJob{
		ID:          id,
		GUID:        guid,
		State:       JobSubmitted,
		SubmittedAt: time.Now(),
	}
	c.record(ctx, job)

	logger := log.WithContext(ctx, c.logger)
	logger.Info().
		Str(log.FieldEvent, "print.submitted").
		Str(log.FieldJobID, id).
		Str(log.FieldGUID, guid).
		Int("pages", pageCount).
		Msg("print job submitted")
	return job, nil
}

// PollPrintJobs reports the status of the given jobs in one batch call. The
// response array matches ids positionally; a length mismatch is a malformed
// response.
func (c *Client) PollPrintJobs(ctx context.Context, ids []string) ([]PollStatus, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	res, err := c.invoke(ctx, "print.poll", c.attempts, func(ctx context.Context, sess Session) (*http.Request, error) {
		return c.newJSONRequest(ctx, sess, http.MethodPost, printPollPath, ids)
	})
	if err != nil {
		return nil, err
	}

	var statuses []PollStatus
	if err := json.Unmarshal(res.Body, &statuses); err != nil {
		return nil, &Error{Sentinel: ErrBadResponse, Operation: "print.poll", Status: res.Status, Err: err}
	}
	if len(statuses) != len(ids) {
		return nil, &Error{
			Sentinel:  ErrBadResponse,
			Operation: "print.poll",
			Status:    res.Status,
			Body:      fmt.Sprintf("polled %d jobs, got %d statuses", len(ids), len(statuses)),
		}
	}
	return statuses, nil
}

// FetchPDF downloads a completed job's artifact. The bytes are verified to
// look like a PDF before they are returned.
func (c *Client) FetchPDF(ctx context.Context, artifactName string) ([]byte, error) {
	if artifactName == "" {
		return nil, fmt.Errorf("fetch pdf: empty artifact name")
	}

	res, err := c.invoke(ctx, "print.fetch", c.attempts, func(ctx context.Context, sess Session) (*http.Request, error) {
		req, err := c.newRequest(ctx, http.MethodGet, printFetchPath+url.PathEscape(artifactName), nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set(accessTokenHeader, sess.AccessToken)
		return req, nil
	})
	if err != nil {
		return nil, err
	}
	if !bytes.HasPrefix(res.Body, pdfMagic) {
		return nil, &Error{Sentinel: ErrBadResponse, Operation: "print.fetch", Status: res.Status, Body: "artifact is not a PDF"}
	}
	return res.Body, nil
}

// DownloadPDF runs the full pipeline for one document: submit, poll until a
// terminal state or the poll budget runs out, then fetch the artifact exactly
// once. The returned job is non-nil whenever submission succeeded, so callers
// can surface the job ID even on failure.
func (c *Client) DownloadPDF(ctx context.Context, guid, imageLocation string, pageCount int, source string) ([]byte, *PrintJob, error) {
	job, err := c.SubmitPrintJob(ctx, guid, imageLocation, pageCount, source)
	if err != nil {
		metrics.RecordPrintJob("submit_failed", 0)
		return nil, nil, err
	}

	deadline := time.Now().Add(c.pollBudget)
	logger := log.WithContext(log.ContextWithJobID(ctx, job.ID), c.logger)

	cycles := 0
	unknownSeen := false
	for {
		if err := c.exec.sleep(ctx, c.backoff.Jitter(c.pollInterval)); err != nil {
			metrics.RecordPrintJob("abandoned", cycles)
			return nil, job, err
		}

		statuses, err := c.PollPrintJobs(ctx, []string{job.ID})
		if err != nil {
			c.finishJob(ctx, job, JobFailed, "", err.Error())
			metrics.RecordPrintJob("poll_failed", cycles)
			return nil, job, err
		}
		cycles++
		job.LastPolledAt = time.Now()
		st := statuses[0]

		switch st.Status {
		case pollStatusCompleted:
			if st.ArtifactName == "" {
				err := &Error{Sentinel: ErrBadResponse, Operation: "print.poll", Body: "completed status without artifact name"}
				c.finishJob(ctx, job, JobFailed, "", err.Error())
				metrics.RecordPrintJob("malformed", cycles)
				return nil, job, err
			}
			pdf, err := c.FetchPDF(ctx, st.ArtifactName)
			if err != nil {
				c.finishJob(ctx, job, JobFailed, st.ArtifactName, err.Error())
				metrics.RecordPrintJob("fetch_failed", cycles)
				return nil, job, err
			}
			c.finishJob(ctx, job, JobCompleted, st.ArtifactName, "")
			metrics.RecordPrintJob("completed", cycles)
			logger.Info().
				Str(log.FieldEvent, "print.completed").
				Int("poll_cycles", cycles).
				Int("bytes", len(pdf)).
				Msg("print job completed")
			return pdf, job, nil

		case pollStatusFailed:
			c.finishJob(ctx, job, JobFailed, "", "reported failed by upstream")
			metrics.RecordPrintJob("failed", cycles)
			return nil, job, &Error{Sentinel: ErrJobFailed, Operation: "print.poll", Body: fmt.Sprintf("job %s failed upstream", job.ID)}

		case pollStatusPending:
			unknownSeen = false
			if job.State != JobPending {
				job.State = JobPending
				c.record(ctx, job)
			}

		default:
			// An unknown status is treated as pending for one cycle in case
			// the upstream grew a new transitional state; a repeat is a
			// contract violation.
			if unknownSeen {
				err := &Error{Sentinel: ErrBadResponse, Operation: "print.poll", Body: fmt.Sprintf("unrecognized status %q", st.Status)}
				c.finishJob(ctx, job, JobFailed, "", err.Error())
				metrics.RecordPrintJob("malformed", cycles)
				return nil, job, err
			}
			unknownSeen = true
			logger.Warn().
				Str(log.FieldEvent, "print.unknown_status").
				Str("status", st.Status).
				Msg("unrecognized poll status, treating as pending")
		}

		if time.Now().After(deadline) {
			c.record(ctx, job)
			metrics.RecordPrintJob("timeout", cycles)
			return nil, job, &Error{
				Sentinel:  ErrJobTimeout,
				Operation: "print.poll",
				Body:      fmt.Sprintf("job %s still running after %s", job.ID, c.pollBudget),
			}
		}
	}
}

func (c *Client) finishJob(ctx context.Context, job *PrintJob, state JobState, artifact, reason string) {
	job.State = state
	job.ArtifactName = artifact
	job.FailureReason = reason
	c.record(ctx, job)
}

func (c *Client) record(ctx context.Context, job *PrintJob) {
	if c.recorder == nil {
		return
	}
	if err := c.recorder.Record(ctx, *job); err != nil {
		c.logger.Warn().Err(err).
			Str(log.FieldEvent, "print.record_failed").
			Str(log.FieldJobID, job.ID).
			Msg("failed to persist job state")
	}
}

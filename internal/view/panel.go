// Package view holds the display state of a transcription submission: what the
// upload page (and the CLI) shows before, during and after one request.
package view

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

const Placeholder = "---"

type Color string

const (
	ColorNone   Color = ""
	ColorOrange Color = "orange"
	ColorGreen  Color = "green"
	ColorRed    Color = "red"
)

const (
	StatusInFlight = "Uploading and processing... Please wait."
	StatusComplete = "Processing complete!"
)

type Panel struct {
	Status      string
	StatusColor Color

	SubmitDisabled bool
	ResultsVisible bool

	Transcription string

	ProcessingInfoVisible bool
	TimeTaken             string
	ChunkCount            string

	PostProcessedVisible bool
	PostProcessed        string

	PyannoteVisible bool
	PyannoteStatus  string
	PyannoteJobID   string
}

// response mirrors the /transcribe body loosely; every field may be missing
// or of an unexpected JSON type.
type response struct {
	Transcription              json.RawMessage `json:"transcription"`
	ProcessingTime             json.RawMessage `json:"processing_time"`
	ChunksCreated              json.RawMessage `json:"chunks_created"`
	PostProcessedTranscription json.RawMessage `json:"post_processed_transcription"`
	PyannoteStatus             json.RawMessage `json:"pyannote_status"`
	PyannoteJobID              json.RawMessage `json:"pyannote_job_id"`
	Error                      json.RawMessage `json:"error"`
}

// Reset puts the panel into the in-flight state shown while a request runs.
func (p *Panel) Reset() {
	*p = Panel{
		Status:         StatusInFlight,
		StatusColor:    ColorOrange,
		SubmitDisabled: true,
		Transcription:  Placeholder,
		TimeTaken:      Placeholder,
		ChunkCount:     Placeholder,
		PostProcessed:  Placeholder,
		PyannoteStatus: Placeholder,
		PyannoteJobID:  Placeholder,
	}
}

// ApplyResponse renders an HTTP response. A body that is not a JSON object is
// treated like a client-side failure, as reading fields off it would throw in
// the browser.
func (p *Panel) ApplyResponse(statusCode int, body []byte) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		p.ApplyNetworkError(errors.New("invalid JSON response: expected an object"))
		return
	}
	var r response
	if err := json.Unmarshal(trimmed, &r); err != nil {
		p.ApplyNetworkError(fmt.Errorf("invalid JSON response: %w", err))
		return
	}

	if statusCode < 200 || statusCode > 299 {
		msg := text(r.Error)
		if msg == "" {
			msg = "Unknown server error"
		}
		p.Status = "Error: " + msg
		p.StatusColor = ColorRed
		p.ResultsVisible = false
		return
	}

	p.ResultsVisible = true
	p.Status = StatusComplete
	p.StatusColor = ColorGreen

	p.Transcription = orDefault(text(r.Transcription), "(Transcription was empty)")
	p.TimeTaken = orDefault(text(r.ProcessingTime), "N/A")
	p.ChunkCount = orDefault(text(r.ChunksCreated), "N/A")
	p.ProcessingInfoVisible = true

	if present(r.PostProcessedTranscription) {
		p.PostProcessed = orDefault(text(r.PostProcessedTranscription), "(Post-processing resulted in empty text)")
		p.PostProcessedVisible = true
	} else {
		p.PostProcessed = Placeholder
		p.PostProcessedVisible = false
	}

	if status := text(r.PyannoteStatus); status != "" {
		p.PyannoteStatus, p.PyannoteJobID = PyannoteDisplay(status, text(r.PyannoteJobID))
		p.PyannoteVisible = true
	} else {
		p.PyannoteVisible = false
	}
}

// ApplyNetworkError renders a failure to reach the server or read its reply.
func (p *Panel) ApplyNetworkError(err error) {
	p.Status = "Network or client-side error: " + err.Error()
	p.StatusColor = ColorRed
	p.ResultsVisible = false
}

// Finish re-enables submission; called whatever the outcome.
func (p *Panel) Finish() {
	p.SubmitDisabled = false
}

// PyannoteDisplay maps a diarization status and job id to display strings.
func PyannoteDisplay(status, jobID string) (string, string) {
	switch {
	case status == "skipped_config", status == "skipped_no_key":
		return "Skipped (API Key Missing)", "N/A"
	case strings.HasPrefix(status, "error:"):
		return fmt.Sprintf("Error (%s)", strings.TrimSpace(strings.TrimPrefix(status, "error:"))), "N/A"
	default:
		return status, orDefault(jobID, "N/A")
	}
}

func orDefault(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}

func present(raw json.RawMessage) bool {
	return len(raw) > 0 && string(raw) != "null"
}

// text renders a JSON scalar the way string interpolation would; falsy
// values (null, "", 0, false) render as "".
func text(raw json.RawMessage) string {
	if !present(raw) {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var n float64
	if err := json.Unmarshal(raw, &n); err == nil {
		if n == 0 {
			return ""
		}
		return strconv.FormatFloat(n, 'f', -1, 64)
	}
	var b bool
	if err := json.Unmarshal(raw, &b); err == nil {
		if !b {
			return ""
		}
		return "true"
	}
	return string(raw)
}

package diarization

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"voxscribe/internal/jobstore"
	"voxscribe/internal/upstream/pyannote"
)

type fakeClient struct {
	configured bool
	uploadErr  error
	diarizeErr error
	job        pyannote.Job
	request    pyannote.DiarizeRequest
	uploaded   string
}

func (f *fakeClient) Configured() bool { return f.configured }

func (f *fakeClient) UploadFile(_ context.Context, path, ext string) (string, error) {
	f.uploaded = path
	if f.uploadErr != nil {
		return "", f.uploadErr
	}
	return "media://id/conversation." + ext, nil
}

func (f *fakeClient) Diarize(_ context.Context, in pyannote.DiarizeRequest) (pyannote.Job, error) {
	f.request = in
	return f.job, f.diarizeErr
}

func newTestService(t *testing.T, client Client, webhook string) (*Service, *jobstore.MemoryStore) {
	t.Helper()
	store := jobstore.NewMemoryStore(time.Hour)
	t.Cleanup(func() { _ = store.Close() })
	svc := New(client, store, Options{WebhookURL: webhook, Timeout: time.Second}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	return svc, store
}

func TestSubmitSkipsWithoutAPIKey(t *testing.T) {
	var seen string
	store := jobstore.NewMemoryStore(time.Hour)
	defer store.Close()
	svc := New(&fakeClient{}, store, Options{WebhookURL: "https://x/webhook/pyannote", OnOutcome: func(s string) { seen = s }}, nil)

	out := svc.Submit(context.Background(), Request{Path: "a.wav", Ext: "wav"})
	if out.Status != StatusSkippedConfig || out.JobID != "" || out.WebhookURL != "" {
		t.Fatalf("unexpected outcome: %+v", out)
	}
	if seen != StatusSkippedConfig {
		t.Fatalf("observer not called: %q", seen)
	}
}

func TestSubmitSkipsWithoutWebhookBase(t *testing.T) {
	svc, _ := newTestService(t, &fakeClient{configured: true}, "")
	out := svc.Submit(context.Background(), Request{Path: "a.wav", Ext: "wav"})
	if out.Status != StatusSkippedNoWebhook {
		t.Fatalf("unexpected outcome: %+v", out)
	}
}

func TestSubmitReportsErrorsAsStatus(t *testing.T) {
	client := &fakeClient{configured: true, diarizeErr: errors.New("bad auth")}
	svc, _ := newTestService(t, client, "https://x/webhook/pyannote")

	out := svc.Submit(context.Background(), Request{Path: "a.wav", Ext: "wav"})
	if out.Status != "error: bad auth" {
		t.Fatalf("unexpected status: %q", out.Status)
	}
	if out.JobID != "" || out.WebhookURL != "https://x/webhook/pyannote" {
		t.Fatalf("unexpected outcome: %+v", out)
	}
}

func TestSubmitStartsJobAndRecordsIt(t *testing.T) {
	client := &fakeClient{configured: true, job: pyannote.Job{JobID: "job-9", Status: "pending"}}
	svc, store := newTestService(t, client, "https://x/webhook/pyannote")

	out := svc.Submit(context.Background(), Request{Path: "/tmp/a.m4a", Ext: "m4a"})
	if out.JobID != "job-9" || out.Status != "pending" {
		t.Fatalf("unexpected outcome: %+v", out)
	}
	if client.request.URL != "media://id/conversation.m4a" || client.request.Webhook != "https://x/webhook/pyannote" {
		t.Fatalf("unexpected diarize request: %+v", client.request)
	}
	job, err := store.Get(context.Background(), "job-9")
	if err != nil {
		t.Fatalf("job not recorded: %v", err)
	}
	if job.Status != "pending" {
		t.Fatalf("unexpected stored job: %+v", job)
	}
}

func TestHandleWebhookUpdatesJob(t *testing.T) {
	client := &fakeClient{configured: true, job: pyannote.Job{JobID: "job-1", Status: "pending"}}
	svc, _ := newTestService(t, client, "https://x/webhook/pyannote")
	svc.Submit(context.Background(), Request{Path: "a.wav", Ext: "wav"})

	output := json.RawMessage(`{"diarization":[{"speaker":"SPEAKER_00","start":0.1,"end":2.5}]}`)
	if err := svc.HandleWebhook(context.Background(), WebhookPayload{JobID: "job-1", Status: "succeeded", Output: output}); err != nil {
		t.Fatalf("HandleWebhook() error = %v", err)
	}
	job, err := svc.Job(context.Background(), "job-1")
	if err != nil {
		t.Fatalf("Job() error = %v", err)
	}
	if job.Status != "succeeded" || string(job.Output) != string(output) || job.WebhookURL == "" {
		t.Fatalf("unexpected job: %+v", job)
	}
}

func TestHandleWebhookRejectsMissingFields(t *testing.T) {
	svc, _ := newTestService(t, &fakeClient{}, "")
	err := svc.HandleWebhook(context.Background(), WebhookPayload{JobID: " ", Status: "succeeded"})
	if !errors.Is(err, ErrInvalidWebhook) {
		t.Fatalf("expected ErrInvalidWebhook, got %v", err)
	}
}

func TestStatusClass(t *testing.T) {
	cases := map[string]string{
		"":                       "none",
		"skipped_config":         "skipped",
		"skipped_no_webhook_url": "skipped",
		"error: boom":            "error",
		"pending":                "submitted",
	}
	for in, want := range cases {
		if got := StatusClass(in); got != want {
			t.Fatalf("StatusClass(%q): got %q want %q", in, got, want)
		}
	}
}

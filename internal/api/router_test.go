package api

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/video-stream/transcriber/internal/job"
	"github.com/video-stream/transcriber/internal/storage"
)

// stubExtractor writes a placeholder audio file, optionally after gate is closed.
type stubExtractor struct {
	err  error
	gate chan struct{}
}

func (e *stubExtractor) ExtractAudio(ctx context.Context, videoPath, audioPath string) error {
	if e.gate != nil {
		<-e.gate
	}
	if e.err != nil {
		return e.err
	}
	return os.WriteFile(audioPath, []byte("audio of "+filepath.Base(videoPath)), 0644)
}

// stubTranscriber echoes the audio file contents as the transcript.
type stubTranscriber struct{}

func (stubTranscriber) Transcribe(ctx context.Context, audioPath, transcriptPath string, progress func(string)) (string, error) {
	data, err := os.ReadFile(audioPath)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

type testServer struct {
	*httptest.Server
	manager *job.Manager
}

func newTestServer(t *testing.T, ex job.Extractor, opts Options) *testServer {
	t.Helper()
	root := t.TempDir()
	layout := storage.NewLayout(filepath.Join(root, "uploads"), filepath.Join(root, "audios"), filepath.Join(root, "transcripts"))
	if err := layout.EnsureDirs(); err != nil {
		t.Fatal(err)
	}

	store := job.NewStore()
	pipeline := job.NewPipeline(store, ex, stubTranscriber{}, zerolog.Nop())
	manager := job.NewManager(store, layout, pipeline, 4, zerolog.Nop())

	if opts.StreamKeepAlive == 0 {
		opts.StreamKeepAlive = time.Second
	}
	srv := httptest.NewServer(NewRouter(manager, opts, zerolog.Nop()))
	t.Cleanup(func() {
		srv.Close()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		manager.Close()
		manager.Wait(ctx)
	})
	return &testServer{Server: srv, manager: manager}
}

func multipartBody(t *testing.T, field, filename, contentType, data string) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name=%q; filename=%q`, field, filename))
	if contentType != "" {
		h.Set("Content-Type", contentType)
	}
	part, err := mw.CreatePart(h)
	if err != nil {
		t.Fatal(err)
	}
	io.WriteString(part, data)
	mw.WriteField("language", "en")
	mw.Close()
	return &buf, mw.FormDataContentType()
}

func (s *testServer) upload(t *testing.T, path, filename, contentType, data string) *http.Response {
	t.Helper()
	body, ct := multipartBody(t, "file", filename, contentType, data)
	resp, err := http.Post(s.URL+path, ct, body)
	if err != nil {
		t.Fatal(err)
	}
	return resp
}

func (s *testServer) createJob(t *testing.T, filename string) string {
	t.Helper()
	resp := s.upload(t, "/api/jobs", filename, "video/mp4", "fake video "+filename)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		b, _ := io.ReadAll(resp.Body)
		t.Fatalf("POST /api/jobs = %d: %s", resp.StatusCode, b)
	}
	var out struct {
		JobID  string `json:"job_id"`
		Status string `json:"status"`
	}
	decode(t, resp.Body, &out)
	if out.JobID == "" || out.Status != string(job.StatusReady) {
		t.Fatalf("create response = %+v", out)
	}
	return out.JobID
}

func (s *testServer) get(t *testing.T, path string) *http.Response {
	t.Helper()
	resp, err := http.Get(s.URL + path)
	if err != nil {
		t.Fatal(err)
	}
	return resp
}

func (s *testServer) getJob(t *testing.T, id string) job.Job {
	t.Helper()
	resp := s.get(t, "/api/jobs/"+id)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("GET job = %d", resp.StatusCode)
	}
	var j job.Job
	decode(t, resp.Body, &j)
	return j
}

func decode(t *testing.T, r io.Reader, v interface{}) {
	t.Helper()
	if err := json.NewDecoder(r).Decode(v); err != nil {
		t.Fatalf("decode: %v", err)
	}
}

func wantError(t *testing.T, resp *http.Response, status int, msg string) {
	t.Helper()
	defer resp.Body.Close()
	if resp.StatusCode != status {
		t.Fatalf("status = %d, want %d", resp.StatusCode, status)
	}
	var out map[string]string
	decode(t, resp.Body, &out)
	if msg != "" && out["error"] != msg {
		t.Fatalf("error = %q, want %q", out["error"], msg)
	}
	if out["error"] == "" {
		t.Fatal("missing error field")
	}
}

type sseEvent struct {
	id, event, data string
}

// nextEvent reads one SSE event, skipping comments. ok is false at end of stream.
func nextEvent(sc *bufio.Scanner) (ev sseEvent, ok bool) {
	var data []string
	seen := false
	for sc.Scan() {
		line := sc.Text()
		if line == "" {
			if seen {
				ev.data = strings.Join(data, "\n")
				return ev, true
			}
			continue
		}
		if strings.HasPrefix(line, ":") {
			continue
		}
		field, value, _ := strings.Cut(line, ":")
		value = strings.TrimPrefix(value, " ")
		seen = true
		switch field {
		case "id":
			ev.id = value
		case "event":
			ev.event = value
		case "data":
			data = append(data, value)
		}
	}
	return ev, false
}

func readEvents(t *testing.T, r io.Reader) []sseEvent {
	t.Helper()
	sc := bufio.NewScanner(r)
	var events []sseEvent
	for {
		ev, ok := nextEvent(sc)
		if !ok {
			return events
		}
		events = append(events, ev)
	}
}

// progressTexts checks the framing of a finished stream and returns the
// progress payloads in order.
func progressTexts(t *testing.T, events []sseEvent) []string {
	t.Helper()
	if len(events) == 0 {
		t.Fatal("no events")
	}
	last := events[len(events)-1]
	if last.event != "done" || last.data != "[DONE]" {
		t.Fatalf("last event = %+v, want done sentinel", last)
	}
	var texts []string
	for i, ev := range events[:len(events)-1] {
		if ev.event != "progress" {
			t.Fatalf("event %d = %+v, sentinel must be last and unique", i, ev)
		}
		if ev.id != fmt.Sprint(i+1) {
			t.Fatalf("event %d has id %q", i, ev.id)
		}
		texts = append(texts, ev.data)
	}
	return texts
}

func (s *testServer) stream(t *testing.T, id string) []string {
	t.Helper()
	resp := s.get(t, "/api/jobs/"+id+"/stream")
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("stream = %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("content type = %q", ct)
	}
	return progressTexts(t, readEvents(t, resp.Body))
}

func TestUploadTranscribeScenario(t *testing.T) {
	s := newTestServer(t, &stubExtractor{}, Options{})
	id := s.createJob(t, "clip.mp4")

	got := s.stream(t, id)
	want := []string{
		job.MsgExtracting,
		job.MsgExtracted,
		job.MsgTranscribing,
		job.MsgTranscribed,
		"audio of " + id + "-clip.mp4",
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("stream = %q, want %q", got, want)
	}

	j := s.getJob(t, id)
	if j.Status != job.StatusCompleted || j.Result != want[4] || j.Error != "" {
		t.Fatalf("job = %+v", j)
	}
	wantSteps := []string{"created", "ready", "extracting", "transcribing", "completed"}
	if !reflect.DeepEqual(j.Steps, wantSteps) {
		t.Fatalf("steps = %v", j.Steps)
	}

	resp := s.get(t, "/api/jobs/"+id+"/transcript")
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK || string(body) != want[4] {
		t.Fatalf("transcript = %d %q", resp.StatusCode, body)
	}
	if !strings.HasPrefix(resp.Header.Get("Content-Type"), "text/plain") {
		t.Fatalf("transcript content type = %q", resp.Header.Get("Content-Type"))
	}

	// A second consumer sees the same history.
	if again := s.stream(t, id); !reflect.DeepEqual(again, want) {
		t.Fatalf("replayed stream = %q", again)
	}
}

func TestUploadRejectsNonVideo(t *testing.T) {
	s := newTestServer(t, &stubExtractor{}, Options{})

	wantError(t, s.upload(t, "/api/jobs", "notes.txt", "text/plain", "hello"), http.StatusBadRequest, "Only video files are allowed")
	wantError(t, s.upload(t, "/api/jobs", "clip.mp4", "", "hello"), http.StatusBadRequest, "Only video files are allowed")

	resp := s.get(t, "/api/jobs")
	defer resp.Body.Close()
	var jobs []job.Job
	decode(t, resp.Body, &jobs)
	if len(jobs) != 0 {
		t.Fatalf("rejected uploads created %d jobs", len(jobs))
	}
}

func TestUploadMissingFile(t *testing.T) {
	s := newTestServer(t, &stubExtractor{}, Options{})

	body, ct := multipartBody(t, "video", "clip.mp4", "video/mp4", "data")
	resp, err := http.Post(s.URL+"/api/jobs", ct, body)
	if err != nil {
		t.Fatal(err)
	}
	wantError(t, resp, http.StatusBadRequest, "No file uploaded")

	resp, err = http.Post(s.URL+"/api/jobs", "application/json", strings.NewReader(`{}`))
	if err != nil {
		t.Fatal(err)
	}
	wantError(t, resp, http.StatusBadRequest, "")
}

func TestUploadTooLarge(t *testing.T) {
	s := newTestServer(t, &stubExtractor{}, Options{MaxUploadBytes: 512})

	resp := s.upload(t, "/api/jobs", "big.mp4", "video/mp4", strings.Repeat("x", 4096))
	wantError(t, resp, http.StatusRequestEntityTooLarge, "")
	if n := len(s.manager.List()); n != 0 {
		t.Fatalf("oversized upload created %d jobs", n)
	}
}

func TestUploadDuringShutdown(t *testing.T) {
	s := newTestServer(t, &stubExtractor{}, Options{})
	s.manager.Close()

	resp := s.upload(t, "/api/jobs", "late.mp4", "video/mp4", "fake video")
	wantError(t, resp, http.StatusServiceUnavailable, "server is shutting down")
	if n := len(s.manager.List()); n != 0 {
		t.Fatalf("upload during shutdown created %d jobs", n)
	}
}

func TestExtractionFailureScenario(t *testing.T) {
	s := newTestServer(t, &stubExtractor{err: errors.New("audio extraction failed: moov atom not found")}, Options{})
	id := s.createJob(t, "corrupt.mp4")

	got := s.stream(t, id)
	want := []string{job.MsgExtracting, "ERROR: audio extraction failed: moov atom not found"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("stream = %q, want %q", got, want)
	}

	j := s.getJob(t, id)
	if j.Status != job.StatusFailed || j.Error != "audio extraction failed: moov atom not found" || j.Result != "" {
		t.Fatalf("job = %+v", j)
	}

	wantError(t, s.get(t, "/api/jobs/"+id+"/transcript"), http.StatusConflict, "")
}

func TestUnknownJob(t *testing.T) {
	s := newTestServer(t, &stubExtractor{}, Options{})
	for _, path := range []string{"/api/jobs/nope", "/api/jobs/nope/stream", "/api/jobs/nope/transcript"} {
		t.Run(path, func(t *testing.T) {
			wantError(t, s.get(t, path), http.StatusNotFound, "Job not found")
		})
	}
}

func TestStreamIsLive(t *testing.T) {
	gate := make(chan struct{})
	s := newTestServer(t, &stubExtractor{gate: gate}, Options{StreamKeepAlive: 20 * time.Millisecond})
	id := s.createJob(t, "live.mp4")

	resp := s.get(t, "/api/jobs/"+id+"/stream")
	defer resp.Body.Close()
	br := bufio.NewReader(resp.Body)
	sc := bufio.NewScanner(br)

	// The first message arrives while extraction is still blocked.
	ev, ok := nextEvent(sc)
	if !ok || ev.data != job.MsgExtracting {
		t.Fatalf("first event = %+v, %v", ev, ok)
	}
	if j := s.getJob(t, id); j.Status != job.StatusExtracting {
		t.Fatalf("status = %s while extraction is blocked", j.Status)
	}

	close(gate)
	var rest []sseEvent
	for {
		ev, ok := nextEvent(sc)
		if !ok {
			break
		}
		rest = append(rest, ev)
	}
	if len(rest) != 5 || rest[len(rest)-1].event != "done" {
		t.Fatalf("remaining events = %+v", rest)
	}
}

func TestStreamKeepAlive(t *testing.T) {
	gate := make(chan struct{})
	s := newTestServer(t, &stubExtractor{gate: gate}, Options{StreamKeepAlive: 10 * time.Millisecond})
	id := s.createJob(t, "slow.mp4")

	resp := s.get(t, "/api/jobs/"+id+"/stream")
	defer resp.Body.Close()
	sc := bufio.NewScanner(resp.Body)
	for sc.Scan() {
		if sc.Text() == ": keepalive" {
			break
		}
	}
	close(gate)
	io.Copy(io.Discard, resp.Body)
	if sc.Err() != nil {
		t.Fatal(sc.Err())
	}
}

func TestConcurrentJobsAreIndependent(t *testing.T) {
	gate := make(chan struct{})
	s := newTestServer(t, &stubExtractor{gate: gate}, Options{})

	ids := []string{s.createJob(t, "a.mp4"), s.createJob(t, "b.mp4")}
	names := []string{"a.mp4", "b.mp4"}

	streams := make([][]string, len(ids))
	var wg sync.WaitGroup
	for i, id := range ids {
		wg.Add(1)
		go func(i int, id string) {
			defer wg.Done()
			resp, err := http.Get(s.URL + "/api/jobs/" + id + "/stream")
			if err != nil {
				t.Error(err)
				return
			}
			defer resp.Body.Close()
			for _, ev := range readEvents(t, resp.Body) {
				if ev.event == "progress" {
					streams[i] = append(streams[i], ev.data)
				}
			}
		}(i, id)
	}
	close(gate)
	wg.Wait()

	for i, id := range ids {
		want := []string{job.MsgExtracting, job.MsgExtracted, job.MsgTranscribing, job.MsgTranscribed, "audio of " + id + "-" + names[i]}
		if !reflect.DeepEqual(streams[i], want) {
			t.Fatalf("job %s stream = %q, want %q", id, streams[i], want)
		}
	}

	a, b := s.getJob(t, ids[0]), s.getJob(t, ids[1])
	for _, pair := range [][2]string{{a.VideoPath, b.VideoPath}, {a.AudioPath, b.AudioPath}, {a.TranscriptPath, b.TranscriptPath}} {
		if pair[0] == pair[1] {
			t.Fatalf("jobs share path %s", pair[0])
		}
	}

	resp := s.get(t, "/api/jobs")
	defer resp.Body.Close()
	var jobs []job.Job
	decode(t, resp.Body, &jobs)
	if len(jobs) != 2 || jobs[0].ID != ids[1] || jobs[1].ID != ids[0] {
		t.Fatalf("list order = %v", jobs)
	}
}

func TestTranscribeVideo(t *testing.T) {
	s := newTestServer(t, &stubExtractor{}, Options{})

	resp := s.upload(t, "/api/transcribe-video", "talk.mp4", "video/mp4", "talk")
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var out struct {
		Success    bool   `json:"success"`
		Message    string `json:"message"`
		JobID      string `json:"job_id"`
		Transcript string `json:"transcript"`
	}
	decode(t, resp.Body, &out)
	if !out.Success || out.Message != "video transcribed successfully" || out.Transcript != "audio of "+out.JobID+"-talk.mp4" {
		t.Fatalf("response = %+v", out)
	}
}

func TestTranscribeVideoFailure(t *testing.T) {
	s := newTestServer(t, &stubExtractor{err: errors.New("audio extraction failed: exit status 1")}, Options{})

	resp := s.upload(t, "/api/transcribe-video", "talk.mp4", "video/mp4", "talk")
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusInternalServerError {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var out map[string]string
	decode(t, resp.Body, &out)
	if out["error"] != "audio extraction failed: exit status 1" || out["job_id"] == "" {
		t.Fatalf("response = %v", out)
	}
}

func TestStreamTranscribe(t *testing.T) {
	s := newTestServer(t, &stubExtractor{}, Options{})

	resp := s.upload(t, "/api/stream-transcribe", "talk.mp4", "video/mp4", "talk")
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK || !strings.HasPrefix(resp.Header.Get("Content-Type"), "text/plain") {
		t.Fatalf("status = %d, content type %q", resp.StatusCode, resp.Header.Get("Content-Type"))
	}
	id := resp.Header.Get("X-Job-Id")
	body, _ := io.ReadAll(resp.Body)
	got := strings.Split(strings.TrimSuffix(string(body), "\n"), "\n")
	want := []string{job.MsgExtracting, job.MsgExtracted, job.MsgTranscribing, job.MsgTranscribed, "audio of " + id + "-talk.mp4"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("body = %q, want %q", got, want)
	}
}

func TestHealth(t *testing.T) {
	s := newTestServer(t, &stubExtractor{}, Options{})
	resp := s.get(t, "/api/health")
	defer resp.Body.Close()
	var out map[string]string
	decode(t, resp.Body, &out)
	if resp.StatusCode != http.StatusOK || out["status"] != "ok" {
		t.Fatalf("health = %d %v", resp.StatusCode, out)
	}
}

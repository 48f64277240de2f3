package workbench

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/go-cmp/cmp"
	"github.com/google/uuid"

	"github.com/yourusername/combine-pdf/internal/export"
	"github.com/yourusername/combine-pdf/internal/pdf"
)

// stubUploader はファイル名ごとのページ数を fakeLibrary に登録しながら保存します。
type stubUploader struct {
	lib   *fakeLibrary
	pages map[string]int
}

func (u *stubUploader) StoreUpload(ctx context.Context, fh *multipart.FileHeader, dir string) (*pdf.StoredFile, error) {
	if !strings.HasSuffix(fh.Filename, ".pdf") {
		return nil, pdf.NewError(pdf.CodeInvalidInput, fh.Filename+" はPDFファイルではありません。", nil)
	}
	path := filepath.Join(dir, uuid.NewString()+".pdf")
	if err := os.WriteFile(path, []byte("%PDF-"), 0o640); err != nil {
		return nil, err
	}
	u.lib.mu.Lock()
	u.lib.pages[path] = u.pages[fh.Filename]
	u.lib.mu.Unlock()
	return &pdf.StoredFile{Path: path, OriginalName: strings.TrimSuffix(fh.Filename, ".pdf"), Size: 5}, nil
}

type stubScheduler struct {
	owner   string
	sources []pdf.ComposeSource
	pages   []pdf.JobPage
}

func (s *stubScheduler) ScheduleCompose(ctx context.Context, owner string, sources []pdf.ComposeSource, pages []pdf.JobPage, preset pdf.OptimizePreset) (string, error) {
	s.owner, s.sources, s.pages = owner, sources, pages
	return "job-1", nil
}

type recordingWriter struct {
	calls []string
	data  []byte
}

func (w *recordingWriter) WriteFile(ctx context.Context, path string, data []byte) (string, error) {
	w.calls = append(w.calls, path)
	w.data = data
	return "/out/" + path, nil
}

type httpFixture struct {
	router  *gin.Engine
	lib     *fakeLibrary
	session string
}

func newHTTPFixture(t *testing.T, opts HandlerOptions) *httpFixture {
	t.Helper()
	gin.SetMode(gin.TestMode)
	lib := newFakeLibrary()
	hub := NewHub(t.TempDir(), lib, Limits{}, discardLogger())
	t.Cleanup(hub.CloseAll)

	session := uuid.NewString()
	opts.SessionID = func(c *gin.Context) string { return session }
	opts.Logger = discardLogger()
	uploader := &stubUploader{lib: lib, pages: map[string]int{"A.pdf": 3, "B.pdf": 2, "empty.pdf": 0}}

	router := gin.New()
	NewHandlers(hub, uploader, opts).Register(router.Group("/api"))
	return &httpFixture{router: router, lib: lib, session: session}
}

func (f *httpFixture) do(t *testing.T, method, target string, body *bytes.Buffer, contentType string) *httptest.ResponseRecorder {
	t.Helper()
	if body == nil {
		body = &bytes.Buffer{}
	}
	req := httptest.NewRequest(method, target, body)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func (f *httpFixture) form(t *testing.T, method, target, values string) *httptest.ResponseRecorder {
	t.Helper()
	return f.do(t, method, target, bytes.NewBufferString(values), "application/x-www-form-urlencoded")
}

func (f *httpFixture) upload(t *testing.T, names ...string) *httptest.ResponseRecorder {
	t.Helper()
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	for _, name := range names {
		fw, err := writer.CreateFormFile("files[]", name)
		if err != nil {
			t.Fatalf("failed to create form file: %v", err)
		}
		if _, err := fw.Write([]byte("%PDF-")); err != nil {
			t.Fatalf("failed to write form file: %v", err)
		}
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("failed to close writer: %v", err)
	}
	return f.do(t, http.MethodPost, "/api/workbench/documents", body, writer.FormDataContentType())
}

func decodeSnapshot(t *testing.T, rec *httptest.ResponseRecorder) Snapshot {
	t.Helper()
	var snap Snapshot
	if err := json.Unmarshal(rec.Body.Bytes(), &snap); err != nil {
		t.Fatalf("failed to decode snapshot: %v: %s", err, rec.Body.String())
	}
	return snap
}

// decodeMutation は更新系エンドポイントの応答から workbench を取り出します。
func decodeMutation(t *testing.T, rec *httptest.ResponseRecorder) Snapshot {
	t.Helper()
	var payload struct {
		Workbench *Snapshot `json:"workbench"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("failed to decode response: %v: %s", err, rec.Body.String())
	}
	if payload.Workbench == nil {
		t.Fatalf("response has no workbench: %s", rec.Body.String())
	}
	return *payload.Workbench
}

func pageLabels(snap Snapshot) []string {
	labels := make([]string, len(snap.Pages))
	for i, p := range snap.Pages {
		labels[i] = p.DocumentName + string(rune('0'+p.Index))
	}
	return labels
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var payload struct {
		Code string `json:"code"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("failed to decode error: %v: %s", err, rec.Body.String())
	}
	return payload.Code
}

func TestParseOrderJSON(t *testing.T) {
	gin.SetMode(gin.TestMode)
	ctx, _ := gin.CreateTestContext(httptest.NewRecorder())
	ctx.Request = httptest.NewRequest(http.MethodPost, "/", bytes.NewBufferString("order=%5B0%2C2%2C1%5D"))
	ctx.Request.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	order, err := parseOrder(ctx)
	if err != nil {
		t.Fatalf("parseOrder returned error: %v", err)
	}
	if diff := cmp.Diff([]int{0, 2, 1}, order); diff != "" {
		t.Fatalf("order mismatch (-want +got):\n%s", diff)
	}
}

func TestParseOrderArray(t *testing.T) {
	gin.SetMode(gin.TestMode)
	ctx, _ := gin.CreateTestContext(httptest.NewRecorder())
	ctx.Request = httptest.NewRequest(http.MethodPost, "/", bytes.NewBufferString("order[]=0&order[]=1"))
	ctx.Request.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	order, err := parseOrder(ctx)
	if err != nil {
		t.Fatalf("parseOrder returned error: %v", err)
	}
	if diff := cmp.Diff([]int{0, 1}, order); diff != "" {
		t.Fatalf("order mismatch (-want +got):\n%s", diff)
	}
}

func TestParseOrderInvalid(t *testing.T) {
	gin.SetMode(gin.TestMode)
	ctx, _ := gin.CreateTestContext(httptest.NewRecorder())
	ctx.Request = httptest.NewRequest(http.MethodPost, "/", bytes.NewBufferString("order=not-json"))
	ctx.Request.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	if _, err := parseOrder(ctx); err == nil {
		t.Fatal("expected error for invalid order")
	}
}

func TestUploadAndEditFlow(t *testing.T) {
	f := newHTTPFixture(t, HandlerOptions{})

	rec := f.upload(t, "A.pdf", "notes.txt", "B.pdf", "empty.pdf")
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status: %d body=%s", rec.Code, rec.Body.String())
	}
	var uploaded struct {
		Results []struct {
			Name       string `json:"name"`
			DocumentID string `json:"documentId"`
			Error      *struct {
				Code string `json:"code"`
			} `json:"error"`
		} `json:"results"`
		Workbench Snapshot `json:"workbench"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &uploaded); err != nil {
		t.Fatalf("failed to decode upload response: %v", err)
	}
	if len(uploaded.Results) != 4 {
		t.Fatalf("expected 4 results, got %d", len(uploaded.Results))
	}
	if uploaded.Results[0].DocumentID != "doc_0" || uploaded.Results[2].DocumentID != "doc_1" {
		t.Fatalf("unexpected document ids: %+v", uploaded.Results)
	}
	if uploaded.Results[1].Error == nil || uploaded.Results[1].Error.Code != pdf.CodeInvalidInput {
		t.Fatalf("notes.txt should be rejected: %+v", uploaded.Results[1])
	}
	if uploaded.Results[3].Error == nil || uploaded.Results[3].Error.Code != pdf.CodeOpenFailed {
		t.Fatalf("empty.pdf should fail to open: %+v", uploaded.Results[3])
	}
	if diff := cmp.Diff([]string{"A0", "A1", "A2", "B0", "B1"}, pageLabels(uploaded.Workbench)); diff != "" {
		t.Fatalf("pages mismatch (-want +got):\n%s", diff)
	}

	rec = f.do(t, http.MethodDelete, "/api/workbench/pages/3", nil, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("remove failed: %d %s", rec.Code, rec.Body.String())
	}

	rec = f.do(t, http.MethodPost, "/api/workbench/pages/move", bytes.NewBufferString(`{"from":3,"to":0}`), "application/json")
	if rec.Code != http.StatusOK {
		t.Fatalf("move failed: %d %s", rec.Code, rec.Body.String())
	}
	if diff := cmp.Diff([]string{"B1", "A0", "A1", "A2"}, pageLabels(decodeMutation(t, rec))); diff != "" {
		t.Fatalf("pages mismatch (-want +got):\n%s", diff)
	}

	rec = f.form(t, http.MethodPost, "/api/workbench/pages/reorder", "order=%5B3%2C2%2C1%2C0%5D")
	if rec.Code != http.StatusOK {
		t.Fatalf("reorder failed: %d %s", rec.Code, rec.Body.String())
	}
	snap := decodeMutation(t, rec)
	if diff := cmp.Diff([]string{"A2", "A1", "A0", "B1"}, pageLabels(snap)); diff != "" {
		t.Fatalf("pages mismatch (-want +got):\n%s", diff)
	}
	if snap.Documents[1].References != 1 {
		t.Fatalf("B should have one reference left: %+v", snap.Documents)
	}

	rec = f.do(t, http.MethodPost, "/api/workbench/documents/doc_1/pages", nil, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("re-add failed: %d %s", rec.Code, rec.Body.String())
	}
	var readded struct {
		Added     int      `json:"added"`
		Workbench Snapshot `json:"workbench"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &readded); err != nil {
		t.Fatalf("failed to decode re-add response: %v", err)
	}
	if readded.Added != 2 || len(readded.Workbench.Pages) != 6 {
		t.Fatalf("re-add: added=%d pages=%d, want 2 and 6", readded.Added, len(readded.Workbench.Pages))
	}

	rec = f.do(t, http.MethodGet, "/api/workbench", nil, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("snapshot failed: %d %s", rec.Code, rec.Body.String())
	}
	if diff := cmp.Diff([]string{"A2", "A1", "A0", "B1", "B0", "B1"}, pageLabels(decodeSnapshot(t, rec))); diff != "" {
		t.Fatalf("pages mismatch (-want +got):\n%s", diff)
	}
}

func TestRemoveOutOfRangeReturnsError(t *testing.T) {
	f := newHTTPFixture(t, HandlerOptions{})
	f.upload(t, "B.pdf")

	rec := f.do(t, http.MethodDelete, "/api/workbench/pages/2", nil, "")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("unexpected status: %d", rec.Code)
	}
	if code := decodeError(t, rec); code != pdf.CodeOutOfRange {
		t.Fatalf("unexpected code: %s", code)
	}

	rec = f.do(t, http.MethodDelete, "/api/workbench/pages/abc", nil, "")
	if code := decodeError(t, rec); code != pdf.CodeInvalidInput {
		t.Fatalf("unexpected code: %s", code)
	}
}

func TestMergePreviewAndShare(t *testing.T) {
	writer := &recordingWriter{}
	f := newHTTPFixture(t, HandlerOptions{Capability: export.CapabilityShare, Writer: writer})

	rec := f.do(t, http.MethodGet, "/api/workbench/output", nil, "")
	if rec.Code != http.StatusNotFound || decodeError(t, rec) != pdf.CodeOutputNotFound {
		t.Fatalf("expected OUTPUT_NOT_FOUND before merge, got %d %s", rec.Code, rec.Body.String())
	}

	rec = f.form(t, http.MethodPost, "/api/workbench/merge", "")
	if rec.Code != http.StatusBadRequest || decodeError(t, rec) != pdf.CodeEmptySelection {
		t.Fatalf("expected EMPTY_SELECTION, got %d %s", rec.Code, rec.Body.String())
	}

	f.upload(t, "A.pdf", "B.pdf")
	rec = f.form(t, http.MethodPost, "/api/workbench/merge", "preset=none")
	if rec.Code != http.StatusOK {
		t.Fatalf("merge failed: %d %s", rec.Code, rec.Body.String())
	}

	rec = f.do(t, http.MethodGet, "/api/workbench/output", nil, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("preview failed: %d", rec.Code)
	}
	if got := rec.Body.String(); got != "A0,A1,A2,B0,B1" {
		t.Fatalf("unexpected preview body %q", got)
	}
	if !strings.HasPrefix(rec.Header().Get("Content-Disposition"), "inline;") {
		t.Fatalf("preview should be inline: %s", rec.Header().Get("Content-Disposition"))
	}
	if rec.Header().Get("X-Output-Stale") != "false" {
		t.Fatalf("unexpected stale header %q", rec.Header().Get("X-Output-Stale"))
	}

	rec = f.form(t, http.MethodPost, "/api/workbench/output/save", "path=ignored.pdf")
	if rec.Code != http.StatusOK {
		t.Fatalf("share failed: %d %s", rec.Code, rec.Body.String())
	}
	if ct := rec.Header().Get("Content-Type"); ct != export.MIMETypePDF {
		t.Fatalf("unexpected content type %q", ct)
	}
	disposition := rec.Header().Get("Content-Disposition")
	if !strings.HasPrefix(disposition, "attachment;") || !strings.Contains(disposition, "combined_") {
		t.Fatalf("unexpected disposition %q", disposition)
	}
	if rec.Body.String() != "A0,A1,A2,B0,B1" {
		t.Fatalf("unexpected shared body %q", rec.Body.String())
	}
	if len(writer.calls) != 0 {
		t.Fatalf("share mode must not write files: %v", writer.calls)
	}
}

func TestSaveToFile(t *testing.T) {
	writer := &recordingWriter{}
	f := newHTTPFixture(t, HandlerOptions{Capability: export.CapabilityFileWrite, Writer: writer})
	f.upload(t, "B.pdf")
	if rec := f.form(t, http.MethodPost, "/api/workbench/merge", ""); rec.Code != http.StatusOK {
		t.Fatalf("merge failed: %d %s", rec.Code, rec.Body.String())
	}

	rec := f.form(t, http.MethodPost, "/api/workbench/output/save", "path=")
	if rec.Code != http.StatusOK {
		t.Fatalf("cancel failed: %d %s", rec.Code, rec.Body.String())
	}
	var outcome struct {
		Mode     string `json:"mode"`
		Canceled bool   `json:"canceled"`
		Path     string `json:"path"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &outcome); err != nil {
		t.Fatal(err)
	}
	if !outcome.Canceled || len(writer.calls) != 0 {
		t.Fatalf("empty path should cancel without writing: %+v %v", outcome, writer.calls)
	}

	rec = f.form(t, http.MethodPost, "/api/workbench/output/save", "path=reports%2Fmerged.pdf")
	if rec.Code != http.StatusOK {
		t.Fatalf("save failed: %d %s", rec.Code, rec.Body.String())
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &outcome); err != nil {
		t.Fatal(err)
	}
	if outcome.Mode != "file" || outcome.Canceled || outcome.Path != "/out/reports/merged.pdf" {
		t.Fatalf("unexpected outcome: %+v", outcome)
	}
	if string(writer.data) != "B0,B1" {
		t.Fatalf("unexpected written data %q", writer.data)
	}

	rec = f.form(t, http.MethodPost, "/api/workbench/output/save", "path=report.exe")
	if rec.Code != http.StatusBadRequest || decodeError(t, rec) != pdf.CodeInvalidInput {
		t.Fatalf("expected INVALID_INPUT for a non-pdf path, got %d %s", rec.Code, rec.Body.String())
	}
	if len(writer.calls) != 1 {
		t.Fatalf("non-pdf path must not be written: %v", writer.calls)
	}
}

func TestMergeGoesAsyncAboveThreshold(t *testing.T) {
	scheduler := &stubScheduler{}
	f := newHTTPFixture(t, HandlerOptions{Scheduler: scheduler, AsyncThresholdPages: 4})

	f.upload(t, "B.pdf")
	if rec := f.form(t, http.MethodPost, "/api/workbench/merge", ""); rec.Code != http.StatusOK {
		t.Fatalf("small merge should run synchronously: %d %s", rec.Code, rec.Body.String())
	}
	if scheduler.owner != "" {
		t.Fatal("scheduler should not be used below the threshold")
	}

	f.upload(t, "A.pdf")
	rec := f.form(t, http.MethodPost, "/api/workbench/merge", "")
	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d %s", rec.Code, rec.Body.String())
	}
	var payload map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatal(err)
	}
	if payload["jobId"] != "job-1" {
		t.Fatalf("unexpected payload %v", payload)
	}
	if scheduler.owner != f.session {
		t.Fatalf("job owner = %q, want session %q", scheduler.owner, f.session)
	}
	if len(scheduler.sources) != 2 || len(scheduler.pages) != 5 {
		t.Fatalf("unexpected job input: %d sources, %d pages", len(scheduler.sources), len(scheduler.pages))
	}
}

func TestThumbnailHandler(t *testing.T) {
	f := newHTTPFixture(t, HandlerOptions{ThumbnailWidth: 100, MaxThumbnailWidth: 300})
	f.upload(t, "A.pdf")

	rec := f.do(t, http.MethodGet, "/api/workbench/pages/1/thumbnail", nil, "")
	if rec.Code != http.StatusOK || rec.Body.String() != "png:A:1:100" {
		t.Fatalf("unexpected default thumbnail: %d %q", rec.Code, rec.Body.String())
	}
	if rec.Header().Get("Content-Type") != "image/png" {
		t.Fatalf("unexpected content type %q", rec.Header().Get("Content-Type"))
	}

	rec = f.do(t, http.MethodGet, "/api/workbench/pages/0/thumbnail?width=5000", nil, "")
	if rec.Body.String() != "png:A:0:300" {
		t.Fatalf("width should be clamped: %q", rec.Body.String())
	}

	rec = f.do(t, http.MethodGet, "/api/workbench/pages/0/thumbnail?width=-1", nil, "")
	if rec.Code != http.StatusBadRequest || decodeError(t, rec) != pdf.CodeInvalidInput {
		t.Fatalf("expected INVALID_INPUT, got %d %s", rec.Code, rec.Body.String())
	}
}

func TestResetHandler(t *testing.T) {
	f := newHTTPFixture(t, HandlerOptions{})
	f.upload(t, "A.pdf")

	rec := f.do(t, http.MethodDelete, "/api/workbench", nil, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("reset failed: %d", rec.Code)
	}
	snap := decodeMutation(t, rec)
	if len(snap.Documents) != 0 || len(snap.Pages) != 0 {
		t.Fatalf("workbench not empty: %+v", snap)
	}
}

func TestInvalidSessionIsUnauthorized(t *testing.T) {
	gin.SetMode(gin.TestMode)
	hub := NewHub(t.TempDir(), newFakeLibrary(), Limits{}, discardLogger())
	router := gin.New()
	NewHandlers(hub, &stubUploader{lib: newFakeLibrary()}, HandlerOptions{Logger: discardLogger()}).Register(router.Group("/api"))

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/workbench", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

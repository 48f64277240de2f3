package pdf

import (
	"context"
	"errors"
	"io"
	"io/fs"
	"os"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/yourusername/combine-pdf/internal/pdf/pdftest"
)

func TestComposeJobRoundTrip(t *testing.T) {
	svc := newTestService(t)
	svc.now = func() time.Time { return time.UnixMilli(1700000000123) }
	src := t.TempDir()
	a := pdftest.WriteFile(t, src, "a.pdf", 100, 101, 102)
	b := pdftest.WriteFile(t, src, "b.pdf", 200, 201)

	manifest, err := svc.PrepareComposeJob(context.Background(), "session-1",
		[]ComposeSource{{Path: a, Name: "a.pdf", Pages: 3}, {Path: b, Name: "b.pdf", Pages: 2}},
		[]JobPage{{File: 1, Index: 1}, {File: 0, Index: 0}, {File: 0, Index: 2}},
		"",
	)
	if err != nil {
		t.Fatalf("PrepareComposeJob returned error: %v", err)
	}
	if manifest.Operation != OperationCompose || manifest.Owner != "session-1" {
		t.Fatalf("unexpected manifest: %+v", manifest)
	}

	// 元ファイルを消してもジョブは複製から実行できる
	if err := os.Remove(a); err != nil {
		t.Fatal(err)
	}

	var stages []string
	var percents []int
	result, err := svc.RunJob(context.Background(), manifest.JobID, func(stage string, percent int) {
		stages = append(stages, stage)
		percents = append(percents, percent)
	})
	if err != nil {
		t.Fatalf("RunJob returned error: %v", err)
	}
	defer result.Cleanup()

	if result.OutputFilename != "combined_1700000000123.pdf" {
		t.Fatalf("OutputFilename = %q", result.OutputFilename)
	}
	if meta := result.Meta; meta == nil || meta.TotalPages != 3 {
		t.Fatalf("unexpected meta: %#v", result.Meta)
	}
	for i := 1; i < len(percents); i++ {
		if percents[i] < percents[i-1] {
			t.Fatalf("progress went backwards: %v", percents)
		}
	}
	if stages[len(stages)-1] != "completed" || percents[len(percents)-1] != 100 {
		t.Fatalf("last progress = %s/%d", stages[len(stages)-1], percents[len(percents)-1])
	}

	data, err := os.ReadFile(result.OutputPath)
	if err != nil {
		t.Fatalf("output missing: %v", err)
	}
	if diff := cmp.Diff([]float64{201, 100, 102}, pageWidths(t, svc.engine, data)); diff != "" {
		t.Fatalf("unexpected page order (-want +got):\n%s", diff)
	}

	opened, file, err := svc.OpenResultFile(manifest.JobID)
	if err != nil {
		t.Fatalf("OpenResultFile returned error: %v", err)
	}
	body, _ := io.ReadAll(file)
	file.Close()
	if opened.OutputSize != int64(len(data)) || len(body) != len(data) {
		t.Fatalf("OpenResultFile size = %d, want %d", opened.OutputSize, len(data))
	}
	if svc.JobOwner(manifest.JobID) != "session-1" {
		t.Fatalf("JobOwner = %q", svc.JobOwner(manifest.JobID))
	}
}

func TestPrepareComposeJobValidates(t *testing.T) {
	svc := newTestService(t)
	a := pdftest.WriteFile(t, t.TempDir(), "a.pdf", 100)
	sources := []ComposeSource{{Path: a, Name: "a.pdf", Pages: 1}}

	if _, err := svc.PrepareComposeJob(context.Background(), "", sources, nil, ""); !HasCode(err, CodeEmptySelection) {
		t.Fatalf("expected EMPTY_SELECTION, got %v", err)
	}
	if _, err := svc.PrepareComposeJob(context.Background(), "", sources, []JobPage{{File: 2}}, ""); err == nil {
		t.Fatal("expected error for unknown file reference")
	}
	if _, err := svc.PrepareComposeJob(context.Background(), "", sources, []JobPage{{File: 0, Index: 1}}, ""); err == nil {
		t.Fatal("expected error for out-of-range page")
	}

	entries, err := os.ReadDir(svc.root)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		t.Fatalf("failed preparations left %d workspaces behind", len(entries))
	}
}

func TestRunJobRemovesWorkspaceOnFailure(t *testing.T) {
	svc := newTestService(t)
	src := t.TempDir()
	broken := src + "/broken.pdf"
	if err := os.WriteFile(broken, []byte("%PDF-1.4 broken"), 0o640); err != nil {
		t.Fatal(err)
	}

	manifest, err := svc.PrepareComposeJob(context.Background(), "", []ComposeSource{{Path: broken, Name: "broken.pdf"}}, []JobPage{{File: 0}}, "")
	if err != nil {
		t.Fatalf("PrepareComposeJob returned error: %v", err)
	}

	if _, err := svc.RunJob(context.Background(), manifest.JobID, nil); !HasCode(err, CodeOpenFailed) {
		t.Fatalf("expected OPEN_FAILED, got %v", err)
	}
	if _, err := os.Stat(svc.workspaceFor(manifest.JobID).dir); !errors.Is(err, fs.ErrNotExist) {
		t.Fatalf("expected workspace to be removed, stat err=%v", err)
	}
}

func TestLazyDocumentsOpenOnce(t *testing.T) {
	svc := newTestService(t)
	path := pdftest.WriteFile(t, t.TempDir(), "a.pdf", 100)
	var opens []int
	docs := newLazyDocuments(svc.engine, []storedFile{{path: path, originalName: "a.pdf"}}, func(n int) {
		opens = append(opens, n)
	})

	first, err := docs.get(context.Background(), 0)
	if err != nil {
		t.Fatalf("get returned error: %v", err)
	}
	second, err := docs.get(context.Background(), 0)
	if err != nil {
		t.Fatalf("get returned error: %v", err)
	}
	if first != second {
		t.Fatal("expected the same document for repeated get")
	}
	if diff := cmp.Diff([]int{1}, opens); diff != "" {
		t.Fatalf("unexpected open callbacks (-want +got):\n%s", diff)
	}

	docs.closeAll()
	if !first.Closed() {
		t.Fatal("closeAll should close opened documents")
	}
}

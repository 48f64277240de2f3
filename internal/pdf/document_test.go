package pdf

import (
	"context"
	"io"
	"log"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/yourusername/combine-pdf/internal/pdf/pdftest"
)

func newTestEngine() *Engine {
	return NewEngine("gs", log.New(io.Discard, "", 0))
}

func pageWidths(t *testing.T, e *Engine, data []byte) []float64 {
	t.Helper()
	doc, err := e.OpenBytes(context.Background(), "out.pdf", data)
	if err != nil {
		t.Fatalf("failed to reopen output: %v", err)
	}
	defer doc.Close()
	widths := make([]float64, doc.PageCount())
	for i := range widths {
		size, err := doc.PageSize(i)
		if err != nil {
			t.Fatalf("PageSize(%d): %v", i, err)
		}
		widths[i] = size.Width
	}
	return widths
}

func TestOpenReadsPageSizes(t *testing.T) {
	e := newTestEngine()
	path := pdftest.WriteFile(t, t.TempDir(), "a.pdf", 100, 150, 200)

	doc, err := e.Open(context.Background(), "a.pdf", path)
	if err != nil {
		t.Fatalf("Open returned error: %v", err)
	}
	defer doc.Close()

	if doc.PageCount() != 3 {
		t.Fatalf("PageCount = %d, want 3", doc.PageCount())
	}
	size, err := doc.PageSize(1)
	if err != nil {
		t.Fatalf("PageSize returned error: %v", err)
	}
	if diff := cmp.Diff(PageSize{Width: 150, Height: pdftest.DefaultHeight}, size); diff != "" {
		t.Fatalf("unexpected page size (-want +got):\n%s", diff)
	}
	if doc.Path() != path || doc.Name() != "a.pdf" {
		t.Fatalf("unexpected name/path: %q %q", doc.Name(), doc.Path())
	}
	if _, err := doc.PageSize(3); !HasCode(err, CodeOutOfRange) {
		t.Fatalf("expected OUT_OF_RANGE, got %v", err)
	}
}

func TestOpenBytesRejectsGarbage(t *testing.T) {
	e := newTestEngine()
	_, err := e.OpenBytes(context.Background(), "broken.pdf", []byte("%PDF-1.4\nthis is not a pdf"))
	if !HasCode(err, CodeOpenFailed) {
		t.Fatalf("expected OPEN_FAILED, got %v", err)
	}
}

func TestOpenMissingFile(t *testing.T) {
	e := newTestEngine()
	_, err := e.Open(context.Background(), "missing.pdf", "/nonexistent/missing.pdf")
	if !HasCode(err, CodeOpenFailed) {
		t.Fatalf("expected OPEN_FAILED, got %v", err)
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	e := newTestEngine()
	doc, err := e.OpenBytes(context.Background(), "a.pdf", pdftest.Build(100))
	if err != nil {
		t.Fatalf("OpenBytes returned error: %v", err)
	}
	if err := doc.Close(); err != nil {
		t.Fatalf("first Close returned error: %v", err)
	}
	if err := doc.Close(); err != nil {
		t.Fatalf("second Close returned error: %v", err)
	}
	if !doc.Closed() {
		t.Fatal("expected document to be closed")
	}
}

package workbench

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"strings"
	"sync"
	"testing"

	"github.com/yourusername/combine-pdf/internal/pdf"
)

// fakeHandle はページ数だけを持つPDFです。ページ i の幅は 100*(i+1) です。
type fakeHandle struct {
	name   string
	pages  int
	mu     sync.Mutex
	closes int
}

func (h *fakeHandle) PageCount() int { return h.pages }

func (h *fakeHandle) PageSize(index int) (pdf.PageSize, error) {
	if index < 0 || index >= h.pages {
		return pdf.PageSize{}, pdf.NewError(pdf.CodeOutOfRange, "out of range", nil)
	}
	return pdf.PageSize{Width: float64(100 * (index + 1)), Height: 300}, nil
}

func (h *fakeHandle) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closes++
	return nil
}

func (h *fakeHandle) closeCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.closes
}

// fakeLibrary は path ごとのページ数を返す Library です。
// Compose は "A0,A1,B0" のように (名前, ページ番号) を並べたバイト列を返します。
type fakeLibrary struct {
	mu        sync.Mutex
	pages     map[string]int
	openErr   map[string]error
	opened    map[string]*fakeHandle
	composes  int
	renderErr error
}

func newFakeLibrary() *fakeLibrary {
	return &fakeLibrary{
		pages:   make(map[string]int),
		openErr: make(map[string]error),
		opened:  make(map[string]*fakeHandle),
	}
}

func (l *fakeLibrary) Open(ctx context.Context, name, path string) (Handle, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.openErr[path]; err != nil {
		return nil, err
	}
	n, ok := l.pages[path]
	if !ok {
		return nil, errors.New("no such file")
	}
	h := &fakeHandle{name: name, pages: n}
	l.opened[path] = h
	return h, nil
}

func (l *fakeLibrary) handle(path string) *fakeHandle {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.opened[path]
}

func (l *fakeLibrary) Compose(ctx context.Context, pages []SourcePage) ([]byte, error) {
	l.mu.Lock()
	l.composes++
	l.mu.Unlock()
	parts := make([]string, len(pages))
	for i, p := range pages {
		h := p.Handle.(*fakeHandle)
		parts[i] = fmt.Sprintf("%s%d", h.name, p.Index)
	}
	return []byte(strings.Join(parts, ",")), nil
}

func (l *fakeLibrary) Render(ctx context.Context, h Handle, index, width int) ([]byte, error) {
	if l.renderErr != nil {
		return nil, l.renderErr
	}
	return []byte(fmt.Sprintf("png:%s:%d:%d", h.(*fakeHandle).name, index, width)), nil
}

func (l *fakeLibrary) Optimize(ctx context.Context, data []byte, preset pdf.OptimizePreset) ([]byte, error) {
	if preset == pdf.OptimizePresetNone {
		return data, nil
	}
	return append([]byte(string(preset)+":"), data...), nil
}

func discardLogger() *log.Logger {
	return log.New(io.Discard, "", 0)
}

// assertRefCounts は全PDFの参照カウントが並びに現れる回数と一致し、参照ゼロのPDFが残っていないことを確認します。
func assertRefCounts(t *testing.T, r *Registry, l *PageList) {
	t.Helper()
	counts := make(map[DocumentID]int)
	for _, ref := range l.Pages() {
		counts[ref.DocumentID]++
	}
	for id, n := range counts {
		if got := r.RefCount(id); got != n {
			t.Fatalf("refcount of %s = %d, want %d", id, got, n)
		}
	}
	for _, info := range r.Documents() {
		if info.References == 0 {
			t.Fatalf("document %s is registered without references", info.ID)
		}
		if counts[info.ID] != info.References {
			t.Fatalf("document %s references = %d, pages in list = %d", info.ID, info.References, counts[info.ID])
		}
	}
}

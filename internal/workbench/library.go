package workbench

import (
	"context"
	"fmt"

	"github.com/yourusername/combine-pdf/internal/pdf"
)

// SourcePage は結合に渡す1ページです。
type SourcePage struct {
	Handle Handle
	Index  int
}

// Library はワークベンチが使うPDFライブラリの操作です。
type Library interface {
	Opener
	Compose(ctx context.Context, pages []SourcePage) ([]byte, error)
	Render(ctx context.Context, h Handle, index, width int) ([]byte, error)
	Optimize(ctx context.Context, data []byte, preset pdf.OptimizePreset) ([]byte, error)
}

// engineLibrary は pdf.Engine を Library として使うためのアダプターです。
type engineLibrary struct {
	engine *pdf.Engine
}

// NewLibrary は pdf.Engine を Library に変換します。
func NewLibrary(engine *pdf.Engine) Library {
	return &engineLibrary{engine: engine}
}

func (l *engineLibrary) Open(ctx context.Context, name, path string) (Handle, error) {
	doc, err := l.engine.Open(ctx, name, path)
	if err != nil {
		return nil, err
	}
	return doc, nil
}

func (l *engineLibrary) Compose(ctx context.Context, pages []SourcePage) ([]byte, error) {
	converted := make([]pdf.Page, len(pages))
	for i, p := range pages {
		doc, err := asDocument(p.Handle)
		if err != nil {
			return nil, pdf.NewError(pdf.CodeMergeFailed, "結合対象のPDFを解決できませんでした。", err)
		}
		converted[i] = pdf.Page{Document: doc, Index: p.Index}
	}
	return l.engine.Compose(ctx, converted)
}

func (l *engineLibrary) Render(ctx context.Context, h Handle, index, width int) ([]byte, error) {
	doc, err := asDocument(h)
	if err != nil {
		return nil, pdf.NewError(pdf.CodeRenderFailed, "サムネイル対象のPDFを解決できませんでした。", err)
	}
	return l.engine.Render(ctx, doc, index, width)
}

func (l *engineLibrary) Optimize(ctx context.Context, data []byte, preset pdf.OptimizePreset) ([]byte, error) {
	return l.engine.Optimize(ctx, data, preset)
}

func asDocument(h Handle) (*pdf.Document, error) {
	doc, ok := h.(*pdf.Document)
	if !ok || doc == nil {
		return nil, fmt.Errorf("unexpected handle type %T", h)
	}
	return doc, nil
}

package pdf

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"time"

	pdfapi "github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu"
)

// Page は元PDFと 0 始まりのページ番号の組です。
type Page struct {
	Document *Document
	Index    int
}

// pageRun は同じPDFから連続して取り出すページのまとまりです。
type pageRun struct {
	doc     *Document
	pageNrs []int // pdfcpu に渡す 1 始まりのページ番号
}

// Compose は pages の順序どおりに1つのPDFへまとめ、エンコード結果を返します。
//
// 先頭ページのPDFを土台とし、連続する同一PDFのページは ExtractPages でまとめて取り出し、
// 残りのまとまりは MergeRaw で土台のコンテキストへ取り込みます。
// 呼び出しごとに新しいバッファを返し、以前の戻り値には触れません。
func (e *Engine) Compose(ctx context.Context, pages []Page) ([]byte, error) {
	if len(pages) == 0 {
		return nil, newError(CodeEmptySelection, "結合するページが選択されていません。", nil)
	}

	runs, err := groupRuns(pages)
	if err != nil {
		return nil, err
	}

	started := time.Now()
	parts := make([][]byte, 0, len(runs))
	for _, run := range runs {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		data, err := run.doc.extract(run.pageNrs)
		if err != nil {
			return nil, newError(CodeMergeFailed, fmt.Sprintf("%s のページを取り出せませんでした。", run.doc.name), err)
		}
		parts = append(parts, data)
	}

	var out []byte
	if len(parts) == 1 {
		out = parts[0]
	} else {
		readers := make([]io.ReadSeeker, len(parts))
		for i, p := range parts {
			readers[i] = bytes.NewReader(p)
		}
		var buf bytes.Buffer
		if err := pdfapi.MergeRaw(readers, &buf, false, newConfiguration()); err != nil {
			return nil, newError(CodeMergeFailed, "PDFの結合に失敗しました。ファイルが破損していないか確認してください。", err)
		}
		out = buf.Bytes()
	}

	e.logger.Printf("compose finished pages=%d runs=%d bytes=%d elapsed=%s", len(pages), len(runs), len(out), time.Since(started))
	return out, nil
}

func groupRuns(pages []Page) ([]pageRun, error) {
	runs := make([]pageRun, 0, 1)
	for i, p := range pages {
		if p.Document == nil {
			return nil, newError(CodeMergeFailed, fmt.Sprintf("%d 番目のページの元PDFがありません。", i+1), nil)
		}
		if p.Index < 0 || p.Index >= p.Document.PageCount() {
			return nil, newError(CodeMergeFailed, fmt.Sprintf("%s にページ %d は存在しません。", p.Document.name, p.Index+1), nil)
		}
		if n := len(runs); n > 0 && runs[n-1].doc == p.Document {
			runs[n-1].pageNrs = append(runs[n-1].pageNrs, p.Index+1)
			continue
		}
		runs = append(runs, pageRun{doc: p.Document, pageNrs: []int{p.Index + 1}})
	}
	return runs, nil
}

// extract は指定ページだけを含むPDFを組み立ててエンコードします。
func (d *Document) extract(pageNrs []int) ([]byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed || d.ctx == nil {
		return nil, fmt.Errorf("document %q is already closed", d.name)
	}

	dest, err := pdfcpu.ExtractPages(d.ctx, pageNrs, false)
	if err != nil {
		return nil, err
	}
	if err := pdfapi.ValidateContext(dest); err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := pdfapi.WriteContext(dest, &buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

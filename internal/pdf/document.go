package pdf

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"sync"

	pdfapi "github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
)

// PageSize はページの幅と高さ（ポイント）です。
type PageSize struct {
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Document は pdfcpu で開いたPDFです。Close するまでファイルハンドルを保持します。
type Document struct {
	name string
	path string // OpenBytes で開いた場合は空
	data []byte // OpenBytes で開いた場合のみ保持

	ctx   *model.Context
	sizes []PageSize

	mu     sync.Mutex
	file   *os.File
	closed bool
}

// Name は表示名を返します。
func (d *Document) Name() string { return d.name }

// Path は元ファイルのパスを返します（バイト列から開いた場合は空文字）。
func (d *Document) Path() string { return d.path }

// PageCount はページ数を返します。
func (d *Document) PageCount() int { return len(d.sizes) }

// PageSize は 0 始まりのページ番号に対応するサイズを返します。
func (d *Document) PageSize(index int) (PageSize, error) {
	if index < 0 || index >= len(d.sizes) {
		return PageSize{}, newError(CodeOutOfRange, fmt.Sprintf("ページ番号 %d は範囲外です。", index), nil)
	}
	return d.sizes[index], nil
}

// Close はファイルハンドルを解放します。2回目以降の呼び出しは何もしません。
func (d *Document) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil
	}
	d.closed = true
	d.ctx = nil
	d.data = nil
	if d.file != nil {
		err := d.file.Close()
		d.file = nil
		return err
	}
	return nil
}

// Closed は Close 済みかどうかを返します。
func (d *Document) Closed() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.closed
}

// Engine は pdfcpu と Ghostscript をまとめたPDFライブラリのアダプターです。
type Engine struct {
	ghostscriptPath string
	logger          *log.Logger
}

// NewEngine は Engine を作成します。
func NewEngine(ghostscriptPath string, logger *log.Logger) *Engine {
	if logger == nil {
		logger = log.Default()
	}
	return &Engine{
		ghostscriptPath: ghostscriptPath,
		logger:          logger,
	}
}

// pdfcpu の設定は読み込み中に書き換わることがあるため、呼び出しごとに作り直します。
func newConfiguration() *model.Configuration {
	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed
	return conf
}

// Open はファイルパスからPDFを開きます。
func (e *Engine) Open(ctx context.Context, name, path string) (*Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	file, err := os.Open(path)
	if err != nil {
		return nil, newError(CodeOpenFailed, fmt.Sprintf("%s を開けませんでした。", name), err)
	}

	doc, err := e.read(name, file)
	if err != nil {
		file.Close()
		return nil, err
	}
	doc.path = path
	doc.file = file
	return doc, nil
}

// OpenBytes はメモリ上のバイト列からPDFを開きます。
func (e *Engine) OpenBytes(ctx context.Context, name string, data []byte) (*Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	buf := append([]byte(nil), data...)
	doc, err := e.read(name, bytes.NewReader(buf))
	if err != nil {
		return nil, err
	}
	doc.data = buf
	return doc, nil
}

func (e *Engine) read(name string, rs io.ReadSeeker) (*Document, error) {
	pdfCtx, err := pdfapi.ReadContext(rs, newConfiguration())
	if err != nil {
		return nil, newError(CodeOpenFailed, fmt.Sprintf("%s はPDFとして読み込めませんでした。", name), err)
	}
	if err := pdfapi.ValidateContext(pdfCtx); err != nil {
		return nil, newError(CodeOpenFailed, fmt.Sprintf("%s は破損しているか未対応のPDFです。", name), err)
	}
	if err := pdfCtx.EnsurePageCount(); err != nil {
		return nil, newError(CodeOpenFailed, fmt.Sprintf("%s のページ数を取得できませんでした。", name), err)
	}

	dims, err := pdfCtx.PageDims()
	if err != nil {
		return nil, newError(CodeOpenFailed, fmt.Sprintf("%s のページサイズを取得できませんでした。", name), err)
	}
	sizes := make([]PageSize, len(dims))
	for i, d := range dims {
		sizes[i] = PageSize{Width: d.Width, Height: d.Height}
	}

	return &Document{
		name:  name,
		ctx:   pdfCtx,
		sizes: sizes,
	}, nil
}

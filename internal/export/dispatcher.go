// Package export は結合結果の保存先を振り分けます。
//
// 保存経路はデータではなく実行環境の能力で決まります。任意のパスへ書ける環境では
// 保存先を尋ねてファイルへ書き込み、書けない環境では名前と MIME タイプ付きの
// 仮想ファイルとして共有（ダウンロード）へ渡します。
package export

import (
	"context"
	"errors"
	"log"
	"path/filepath"
	"strings"
	"time"

	"github.com/yourusername/combine-pdf/internal/pdf"
	"github.com/yourusername/combine-pdf/internal/storage"
)

// Capability は保存経路を決める実行環境の能力です。
type Capability int

const (
	// CapabilityShare は直接のファイル書き込みができない環境です。
	CapabilityShare Capability = iota
	// CapabilityFileWrite は任意のパスへ書き込める環境です。
	CapabilityFileWrite
)

func (c Capability) String() string {
	switch c {
	case CapabilityFileWrite:
		return "file"
	default:
		return "share"
	}
}

// MIMETypePDF は共有するファイルの MIME タイプです。
const MIMETypePDF = "application/pdf"

// ExtensionPDF は保存先に許す拡張子です。
const ExtensionPDF = ".pdf"

// VirtualFile は共有経路へ渡す名前付きのバイト列です。
type VirtualFile struct {
	Name     string
	MIMEType string
	Data     []byte
}

// Picker は保存先を尋ねます。キャンセルされた場合は ok=false を返します。
type Picker interface {
	PickDestination(ctx context.Context, suggested string) (path string, ok bool, err error)
}

// Sharer は仮想ファイルを共有・ダウンロードへ渡します。
type Sharer interface {
	Share(ctx context.Context, file VirtualFile) error
}

// Outcome は保存処理の結果です。
type Outcome struct {
	Mode     Capability
	Canceled bool
	Path     string // CapabilityFileWrite で書き込んだパス
	Filename string
	Size     int
}

// Dispatcher は Capability に応じて保存経路を選びます。
type Dispatcher struct {
	capability Capability
	writer     storage.Writer
	picker     Picker
	sharer     Sharer
	now        func() time.Time
	logger     *log.Logger
}

// Option は Dispatcher の任意設定です。
type Option func(*Dispatcher)

// WithClock は推奨ファイル名に使う時刻を差し替えます。
func WithClock(now func() time.Time) Option {
	return func(d *Dispatcher) { d.now = now }
}

// WithLogger はロガーを設定します。
func WithLogger(logger *log.Logger) Option {
	return func(d *Dispatcher) { d.logger = logger }
}

// NewDispatcher は Dispatcher を作成します。
func NewDispatcher(capability Capability, writer storage.Writer, picker Picker, sharer Sharer, opts ...Option) *Dispatcher {
	if writer == nil {
		writer = storage.Noop{}
	}
	d := &Dispatcher{
		capability: capability,
		writer:     writer,
		picker:     picker,
		sharer:     sharer,
		now:        time.Now,
		logger:     log.Default(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// SuggestedFilename は保存ダイアログに出す既定のファイル名です。
func SuggestedFilename(now time.Time) string {
	return pdf.SuggestedFilename(now)
}

// Save は data を保存します。保存先の指定がキャンセルされた場合は何も書かずに成功扱いとします。
func (d *Dispatcher) Save(ctx context.Context, data []byte) (*Outcome, error) {
	if len(data) == 0 {
		return nil, pdf.NewError(pdf.CodeOutputNotFound, "保存する結合結果がありません。先にプレビューを生成してください。", nil)
	}
	filename := SuggestedFilename(d.now())

	switch d.capability {
	case CapabilityFileWrite:
		return d.saveToFile(ctx, data, filename)
	default:
		return d.share(ctx, data, filename)
	}
}

func (d *Dispatcher) saveToFile(ctx context.Context, data []byte, suggested string) (*Outcome, error) {
	if d.picker == nil {
		return nil, pdf.NewError(pdf.CodeSaveFailed, "保存先を選択できません。", errors.New("picker is nil"))
	}
	path, ok, err := d.picker.PickDestination(ctx, suggested)
	if err != nil {
		return nil, pdf.NewError(pdf.CodeSaveFailed, "保存先の取得に失敗しました。", err)
	}
	if !ok || strings.TrimSpace(path) == "" {
		return &Outcome{Mode: CapabilityFileWrite, Canceled: true, Filename: suggested}, nil
	}

	path, err = pdfDestination(path)
	if err != nil {
		return nil, err
	}

	written, err := d.writer.WriteFile(ctx, path, data)
	if err != nil {
		return nil, pdf.NewError(pdf.CodeSaveFailed, "ファイルの保存に失敗しました。", err)
	}
	d.logger.Printf("output saved path=%s bytes=%d", written, len(data))
	return &Outcome{
		Mode:     CapabilityFileWrite,
		Path:     written,
		Filename: suggested,
		Size:     len(data),
	}, nil
}

// pdfDestination は拡張子のない保存先に .pdf を付けます。PDF 以外の拡張子は受け付けません。
func pdfDestination(path string) (string, error) {
	ext := filepath.Ext(path)
	switch {
	case ext == "":
		return path + ExtensionPDF, nil
	case strings.EqualFold(ext, ExtensionPDF):
		return path, nil
	default:
		return "", pdf.NewError(pdf.CodeInvalidInput, "保存先のファイル名は .pdf で指定してください。", nil)
	}
}

func (d *Dispatcher) share(ctx context.Context, data []byte, filename string) (*Outcome, error) {
	if d.sharer == nil {
		return nil, pdf.NewError(pdf.CodeSaveFailed, "共有機能を利用できません。", errors.New("sharer is nil"))
	}
	file := VirtualFile{Name: filename, MIMEType: MIMETypePDF, Data: data}
	if err := d.sharer.Share(ctx, file); err != nil {
		return nil, pdf.NewError(pdf.CodeSaveFailed, "共有（ダウンロード）の開始に失敗しました。", err)
	}
	return &Outcome{
		Mode:     CapabilityShare,
		Filename: filename,
		Size:     len(data),
	}, nil
}

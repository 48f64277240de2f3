package workbench

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/yourusername/combine-pdf/internal/pdf"
)

// 同時に開くPDFの数。1回のアップロードに含まれる複数ファイルは並行して開きます。
const openConcurrency = 4

// ErrClosed は破棄済みのワークベンチを操作した場合のエラーです。
var ErrClosed = errors.New("workbench: closed")

// Limits はワークベンチごとの上限です。0 以下は無制限です。
type Limits struct {
	MaxDocuments int
	MaxPages     int
}

// SourceFile はワークベンチへ追加するPDFファイルです。
type SourceFile struct {
	Name string
	Path string
	Size int64
}

// AddResult は AddFiles の1ファイル分の結果です。Err が nil でなければ DocumentID は空です。
type AddResult struct {
	Name       string
	DocumentID DocumentID
	Pages      int
	Err        error
}

// Output は最後に生成した結合結果です。
type Output struct {
	Data      []byte
	Pages     int
	Preset    pdf.OptimizePreset
	CreatedAt time.Time
	// Stale は生成後にページの並びが変わったことを示します。
	Stale bool
}

// Workbench は1つのブラウザセッションの編集状態です。
// 開いているPDF・結合対象ページの並び・最新の結合結果をまとめて1つのロックで守ります。
type Workbench struct {
	id     string
	dir    string
	lib    Library
	limits Limits
	logger *log.Logger
	now    func() time.Time

	mu       sync.Mutex
	registry *Registry
	pages    *PageList
	output   *Output
	closed   bool

	// lastUsed は UnixNano です。w.mu を取らずに読み書きします。
	lastUsed atomic.Int64
}

// New は Workbench を作成します。dir はアップロードファイルの置き場所で、
// dir 配下のファイルは対応するPDFが解放されたときに削除します。
func New(id, dir string, lib Library, limits Limits, logger *log.Logger) *Workbench {
	if logger == nil {
		logger = log.Default()
	}
	w := &Workbench{
		id:     id,
		dir:    dir,
		lib:    lib,
		limits: limits,
		logger: logger,
		now:    time.Now,
	}
	w.registry = NewRegistry(lib, w.onRelease, logger)
	w.pages = NewPageList(w.registry)
	w.touch()
	return w
}

// ID はワークベンチの識別子を返します。
func (w *Workbench) ID() string { return w.id }

// UploadDir はアップロードファイルの保存先です。
func (w *Workbench) UploadDir() string { return w.dir }

// LastUsed は最後に操作された時刻です。
// 結合中などでロックが塞がっていてもブロックしません。
func (w *Workbench) LastUsed() time.Time {
	return time.Unix(0, w.lastUsed.Load())
}

func (w *Workbench) touch() {
	w.lastUsed.Store(w.now().UnixNano())
}

func (w *Workbench) lock() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return ErrClosed
	}
	w.touch()
	return nil
}

func (w *Workbench) onRelease(info DocumentInfo) {
	w.logger.Printf("workbench=%s released document id=%s name=%s", w.id, info.ID, info.Name)
	if w.owns(info.Path) {
		if err := os.Remove(info.Path); err != nil && !errors.Is(err, os.ErrNotExist) {
			w.logger.Printf("workbench=%s failed to remove %s: %v", w.id, info.Path, err)
		}
	}
}

func (w *Workbench) owns(path string) bool {
	if w.dir == "" || path == "" {
		return false
	}
	rel, err := filepath.Rel(w.dir, path)
	return err == nil && rel != "." && !strings.HasPrefix(rel, "..")
}

func (w *Workbench) discardFile(path string) {
	if w.owns(path) {
		_ = os.Remove(path)
	}
}

func (w *Workbench) markStale() {
	if w.output != nil {
		w.output.Stale = true
	}
}

type openedFile struct {
	handle Handle
	err    error
}

// AddFiles はPDFを並行して開き、入力順に登録して全ページを並びの末尾へ追加します。
// 失敗したファイルは結果の Err に入り、他のファイルの追加は続けます。
func (w *Workbench) AddFiles(ctx context.Context, files []SourceFile) ([]AddResult, error) {
	opened := make([]openedFile, len(files))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(openConcurrency)
	for i, f := range files {
		g.Go(func() error {
			h, err := w.lib.Open(gctx, f.Name, f.Path)
			opened[i] = openedFile{handle: h, err: err}
			return nil
		})
	}
	_ = g.Wait()

	if err := w.lock(); err != nil {
		for i, o := range opened {
			if o.handle != nil {
				_ = o.handle.Close()
			}
			w.discardFile(files[i].Path)
		}
		return nil, err
	}
	defer w.mu.Unlock()

	results := make([]AddResult, len(files))
	for i, f := range files {
		results[i] = AddResult{Name: f.Name}
		if err := w.admit(f, opened[i]); err != nil {
			if opened[i].handle != nil {
				_ = opened[i].handle.Close()
			}
			w.discardFile(f.Path)
			results[i].Err = err
			w.logger.Printf("workbench=%s failed to add %s: %v", w.id, f.Name, err)
			continue
		}

		id := w.registry.Register(f.Name, f.Path, f.Size, opened[i].handle)
		n, err := w.pages.AddAllPages(id)
		if err != nil {
			// 登録直後なので起きないはずだが、参照ゼロのまま残さないよう解放する
			w.registry.DisposeAll()
			w.pages.clear()
			w.output = nil
			return nil, fmt.Errorf("workbench: failed to add pages of %s: %w", id, err)
		}
		results[i].DocumentID = id
		results[i].Pages = n
		w.markStale()
	}
	return results, nil
}

func (w *Workbench) admit(f SourceFile, o openedFile) error {
	if o.err != nil {
		if pdf.HasCode(o.err, pdf.CodeOpenFailed) {
			return o.err
		}
		return pdf.NewError(pdf.CodeOpenFailed, fmt.Sprintf("%s を開けませんでした。", f.Name), o.err)
	}
	if o.handle.PageCount() == 0 {
		return pdf.NewError(pdf.CodeOpenFailed, fmt.Sprintf("%s にはページがありません。", f.Name), nil)
	}
	if w.limits.MaxPages > 0 && o.handle.PageCount() > w.limits.MaxPages {
		return pdf.NewError(pdf.CodeLimitExceeded, fmt.Sprintf("%s のページ数 (%d) が上限 (%d) を超えています。", f.Name, o.handle.PageCount(), w.limits.MaxPages), nil)
	}
	if w.limits.MaxDocuments > 0 && w.registry.Len() >= w.limits.MaxDocuments {
		return pdf.NewError(pdf.CodeLimitExceeded, fmt.Sprintf("同時に開けるPDFは %d 件までです。", w.limits.MaxDocuments), nil)
	}
	return nil
}

// PageView は並びの1ページを画面表示用に展開したものです。
type PageView struct {
	Position     int        `json:"position"`
	DocumentID   DocumentID `json:"documentId"`
	DocumentName string     `json:"documentName"`
	Index        int        `json:"index"`
	Width        float64    `json:"width"`
	Height       float64    `json:"height"`
}

// OutputView は結合結果の概要です（本体のバイト列は含みません）。
type OutputView struct {
	Pages     int                `json:"pages"`
	Size      int                `json:"size"`
	Preset    pdf.OptimizePreset `json:"preset"`
	CreatedAt time.Time          `json:"createdAt"`
	Filename  string             `json:"filename"`
	Stale     bool               `json:"stale"`
}

// Snapshot はワークベンチの現在の状態です。
type Snapshot struct {
	ID        string         `json:"id"`
	Documents []DocumentInfo `json:"documents"`
	Pages     []PageView     `json:"pages"`
	Output    *OutputView    `json:"output,omitempty"`
}

// Snapshot は現在の状態を返します。
func (w *Workbench) Snapshot() (Snapshot, error) {
	if err := w.lock(); err != nil {
		return Snapshot{}, err
	}
	defer w.mu.Unlock()

	snap := Snapshot{
		ID:        w.id,
		Documents: w.registry.Documents(),
		Pages:     make([]PageView, 0, w.pages.Len()),
	}
	for i, ref := range w.pages.Pages() {
		view := PageView{Position: i, DocumentID: ref.DocumentID, Index: ref.Index}
		if info, ok := w.registry.Info(ref.DocumentID); ok {
			view.DocumentName = info.Name
		}
		if h, ok := w.registry.Document(ref.DocumentID); ok {
			if size, err := h.PageSize(ref.Index); err == nil {
				view.Width = size.Width
				view.Height = size.Height
			}
		}
		snap.Pages = append(snap.Pages, view)
	}
	if w.output != nil {
		snap.Output = &OutputView{
			Pages:     w.output.Pages,
			Size:      len(w.output.Data),
			Preset:    w.output.Preset,
			CreatedAt: w.output.CreatedAt,
			Filename:  pdf.SuggestedFilename(w.output.CreatedAt),
			Stale:     w.output.Stale,
		}
	}
	return snap, nil
}

// AddDocumentPages は開いているPDFの全ページをもう一度末尾へ追加します。
func (w *Workbench) AddDocumentPages(id DocumentID) (int, error) {
	if err := w.lock(); err != nil {
		return 0, err
	}
	defer w.mu.Unlock()

	n, err := w.pages.AddAllPages(id)
	if err != nil {
		return 0, err
	}
	w.markStale()
	return n, nil
}

// Remove は position 番目のページを並びから外します。
func (w *Workbench) Remove(position int) (PageRef, error) {
	if err := w.lock(); err != nil {
		return PageRef{}, err
	}
	defer w.mu.Unlock()

	ref, err := w.pages.RemoveAt(position)
	if err != nil {
		return PageRef{}, err
	}
	w.markStale()
	return ref, nil
}

// Move は from 番目のページを to 番目へ移動します。
func (w *Workbench) Move(from, to int) error {
	if err := w.lock(); err != nil {
		return err
	}
	defer w.mu.Unlock()

	if err := w.pages.Move(from, to); err != nil {
		return err
	}
	if from != to {
		w.markStale()
	}
	return nil
}

// Reorder は並び全体を order の順に並べ替えます。
func (w *Workbench) Reorder(order []int) error {
	if err := w.lock(); err != nil {
		return err
	}
	defer w.mu.Unlock()

	if err := w.pages.Reorder(order); err != nil {
		return err
	}
	w.markStale()
	return nil
}

// Merge は現在の並びを1つのPDFにまとめ、最新の結合結果として保持します。
// 並びが空の場合は EMPTY_SELECTION を返し、以前の結合結果はそのまま残します。
func (w *Workbench) Merge(ctx context.Context, preset pdf.OptimizePreset) (*Output, error) {
	preset, err := pdf.NormalizePreset(preset)
	if err != nil {
		return nil, err
	}
	if err := w.lock(); err != nil {
		return nil, err
	}
	defer w.mu.Unlock()

	refs := w.pages.Pages()
	if len(refs) == 0 {
		return nil, pdf.NewError(pdf.CodeEmptySelection, "結合するページが選択されていません。", nil)
	}
	sources := make([]SourcePage, len(refs))
	for i, ref := range refs {
		h, ok := w.registry.Document(ref.DocumentID)
		if !ok {
			return nil, pdf.NewError(pdf.CodeMergeFailed, fmt.Sprintf("%d 番目のページの元PDFが見つかりません。", i+1), nil)
		}
		sources[i] = SourcePage{Handle: h, Index: ref.Index}
	}

	data, err := w.lib.Compose(ctx, sources)
	if err != nil {
		return nil, err
	}
	data, err = w.lib.Optimize(ctx, data, preset)
	if err != nil {
		return nil, err
	}

	w.output = &Output{
		Data:      data,
		Pages:     len(refs),
		Preset:    preset,
		CreatedAt: w.now(),
	}
	out := *w.output
	return &out, nil
}

// Output は最新の結合結果を返します。
func (w *Workbench) Output() (*Output, bool) {
	if err := w.lock(); err != nil {
		return nil, false
	}
	defer w.mu.Unlock()

	if w.output == nil {
		return nil, false
	}
	out := *w.output
	return &out, true
}

// Thumbnail は position 番目のページを幅 width のPNGにします。
// 描画はロックの外で行うため、描画中にPDFが解放された場合は RENDER_FAILED になります。
func (w *Workbench) Thumbnail(ctx context.Context, position, width int) ([]byte, error) {
	if err := w.lock(); err != nil {
		return nil, err
	}
	ref, err := w.pages.At(position)
	if err != nil {
		w.mu.Unlock()
		return nil, err
	}
	h, ok := w.registry.Document(ref.DocumentID)
	w.mu.Unlock()
	if !ok {
		return nil, documentNotFound(ref.DocumentID)
	}

	data, err := w.lib.Render(ctx, h, ref.Index, width)
	if err != nil {
		if pdf.HasCode(err, pdf.CodeRenderFailed) || pdf.HasCode(err, pdf.CodeInvalidInput) {
			return nil, err
		}
		return nil, pdf.NewError(pdf.CodeRenderFailed, "サムネイルの生成に失敗しました。", err)
	}
	return data, nil
}

// ComposeSources は非同期ジョブへ渡すために、現在の並びを (ファイル, ページ) の組に変換します。
// ファイルは並びに初めて現れた順に並びます。
func (w *Workbench) ComposeSources() ([]pdf.ComposeSource, []pdf.JobPage, int64, error) {
	if err := w.lock(); err != nil {
		return nil, nil, 0, err
	}
	defer w.mu.Unlock()

	refs := w.pages.Pages()
	if len(refs) == 0 {
		return nil, nil, 0, pdf.NewError(pdf.CodeEmptySelection, "結合するページが選択されていません。", nil)
	}

	fileIndex := make(map[DocumentID]int)
	var (
		sources   []pdf.ComposeSource
		totalSize int64
	)
	pages := make([]pdf.JobPage, len(refs))
	for i, ref := range refs {
		idx, ok := fileIndex[ref.DocumentID]
		if !ok {
			info, found := w.registry.Info(ref.DocumentID)
			if !found {
				return nil, nil, 0, documentNotFound(ref.DocumentID)
			}
			if info.Path == "" {
				return nil, nil, 0, pdf.NewError(pdf.CodeMergeFailed, fmt.Sprintf("%s はファイルとして保存されていません。", info.Name), nil)
			}
			idx = len(sources)
			fileIndex[ref.DocumentID] = idx
			sources = append(sources, pdf.ComposeSource{Path: info.Path, Name: info.Name, Pages: info.Pages})
			totalSize += info.Size
		}
		pages[i] = pdf.JobPage{File: idx, Index: ref.Index}
	}
	return sources, pages, totalSize, nil
}

// Reset は並びを空にし、参照カウントに関係なく全PDFを閉じます。ワークベンチは引き続き使えます。
func (w *Workbench) Reset() error {
	if err := w.lock(); err != nil {
		return err
	}
	defer w.mu.Unlock()

	w.pages.clear()
	w.registry.DisposeAll()
	w.output = nil
	return nil
}

// Close は全PDFを閉じ、アップロードディレクトリを削除します。2回目以降は何もしません。
func (w *Workbench) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil
	}
	w.closed = true
	w.pages.clear()
	w.registry.DisposeAll()
	w.output = nil
	if w.dir == "" {
		return nil
	}
	return os.RemoveAll(w.dir)
}

// Package workbench はブラウザセッションごとの編集状態（開いているPDFと結合対象ページの並び）を管理します。
package workbench

import (
	"context"
	"fmt"
	"log"

	"github.com/yourusername/combine-pdf/internal/pdf"
)

// DocumentID はワークベンチ内で開いているPDFの識別子です（doc_0, doc_1, ...）。
type DocumentID string

// Handle は開いているPDFです。
type Handle interface {
	PageCount() int
	PageSize(index int) (pdf.PageSize, error)
	Close() error
}

// Opener はパスからPDFを開きます。
type Opener interface {
	Open(ctx context.Context, name, path string) (Handle, error)
}

// DocumentInfo は登録済みPDFの概要です。
type DocumentInfo struct {
	ID         DocumentID `json:"id"`
	Name       string     `json:"name"`
	Path       string     `json:"-"`
	Size       int64      `json:"size"`
	Pages      int        `json:"pages"`
	References int        `json:"references"`
}

type documentEntry struct {
	id     DocumentID
	name   string
	path   string
	size   int64
	handle Handle
	refs   int
}

func (e *documentEntry) info() DocumentInfo {
	return DocumentInfo{
		ID:         e.id,
		Name:       e.name,
		Path:       e.path,
		Size:       e.size,
		Pages:      e.handle.PageCount(),
		References: e.refs,
	}
}

// Registry は開いているPDFと、それを参照しているページ数（参照カウント）を管理します。
// 参照カウントが 0 になった時点でPDFを閉じ、登録から外します。
//
// Registry 自体はロックを持ちません。Workbench のロック下で使います。
type Registry struct {
	opener    Opener
	entries   map[DocumentID]*documentEntry
	order     []DocumentID
	next      int
	onRelease func(DocumentInfo)
	logger    *log.Logger
}

// NewRegistry は Registry を作成します。onRelease は解放のたびに呼ばれます（nil 可）。
func NewRegistry(opener Opener, onRelease func(DocumentInfo), logger *log.Logger) *Registry {
	if logger == nil {
		logger = log.Default()
	}
	return &Registry{
		opener:    opener,
		entries:   make(map[DocumentID]*documentEntry),
		onRelease: onRelease,
		logger:    logger,
	}
}

// Load は path のPDFを開き、参照カウント 0 で登録して ID を返します。
func (r *Registry) Load(ctx context.Context, name, path string) (DocumentID, error) {
	handle, err := r.opener.Open(ctx, name, path)
	if err != nil {
		if pdf.HasCode(err, pdf.CodeOpenFailed) {
			return "", err
		}
		return "", pdf.NewError(pdf.CodeOpenFailed, fmt.Sprintf("%s を開けませんでした。", name), err)
	}
	return r.Register(name, path, 0, handle), nil
}

// Register は開き済みのPDFを参照カウント 0 で登録します。
func (r *Registry) Register(name, path string, size int64, handle Handle) DocumentID {
	id := DocumentID(fmt.Sprintf("doc_%d", r.next))
	r.next++
	r.entries[id] = &documentEntry{
		id:     id,
		name:   name,
		path:   path,
		size:   size,
		handle: handle,
	}
	r.order = append(r.order, id)
	return id
}

// Document は ID に対応するPDFを返します。未登録または解放済みなら false です。
func (r *Registry) Document(id DocumentID) (Handle, bool) {
	e, ok := r.entries[id]
	if !ok {
		return nil, false
	}
	return e.handle, true
}

// Info は ID に対応するPDFの概要を返します。
func (r *Registry) Info(id DocumentID) (DocumentInfo, bool) {
	e, ok := r.entries[id]
	if !ok {
		return DocumentInfo{}, false
	}
	return e.info(), true
}

// Documents は登録順にPDFの概要を返します。
func (r *Registry) Documents() []DocumentInfo {
	infos := make([]DocumentInfo, 0, len(r.order))
	for _, id := range r.order {
		infos = append(infos, r.entries[id].info())
	}
	return infos
}

// Len は登録中のPDF数を返します。
func (r *Registry) Len() int {
	return len(r.entries)
}

// RefCount は参照カウントを返します。未登録なら 0 です。
func (r *Registry) RefCount(id DocumentID) int {
	if e, ok := r.entries[id]; ok {
		return e.refs
	}
	return 0
}

// AddReference は参照カウントを1増やします。未登録の ID はログに残して無視します。
func (r *Registry) AddReference(id DocumentID) {
	e, ok := r.entries[id]
	if !ok {
		r.logger.Printf("workbench: addReference on unknown document id=%s", id)
		return
	}
	e.refs++
}

// RemoveReference は参照カウントを1減らし、0 になったらPDFを閉じて登録から外します。
func (r *Registry) RemoveReference(id DocumentID) {
	e, ok := r.entries[id]
	if !ok {
		r.logger.Printf("workbench: removeReference on unknown document id=%s", id)
		return
	}
	if e.refs > 0 {
		e.refs--
	}
	if e.refs == 0 {
		r.release(e)
	}
}

// DisposeAll は参照カウントに関係なく全PDFを閉じます。
func (r *Registry) DisposeAll() {
	ids := append([]DocumentID(nil), r.order...)
	for _, id := range ids {
		if e, ok := r.entries[id]; ok {
			r.release(e)
		}
	}
}

func (r *Registry) release(e *documentEntry) {
	info := e.info()
	delete(r.entries, e.id)
	for i, id := range r.order {
		if id == e.id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	if err := e.handle.Close(); err != nil {
		r.logger.Printf("workbench: failed to close document id=%s name=%s: %v", e.id, e.name, err)
	}
	if r.onRelease != nil {
		r.onRelease(info)
	}
}

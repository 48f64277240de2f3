package workbench

import (
	"errors"
	"fmt"

	"github.com/yourusername/combine-pdf/internal/pdf"
)

// ErrIndexOutOfRange はページ位置が範囲外の場合のエラーです。
var ErrIndexOutOfRange = errors.New("workbench: page index out of range")

// PageRef は結合対象の1ページです。PDF本体ではなく (DocumentID, ページ番号) で持ち、
// 使うときに Registry から引き直します。
type PageRef struct {
	DocumentID DocumentID `json:"documentId"`
	Index      int        `json:"index"`
}

// PageList は結合対象ページの並びです。追加と削除のたびに Registry の参照カウントを更新します。
type PageList struct {
	registry *Registry
	pages    []PageRef
}

// NewPageList は registry に参照カウントを記録する PageList を作成します。
func NewPageList(registry *Registry) *PageList {
	return &PageList{registry: registry}
}

// Len はページ数を返します。
func (l *PageList) Len() int {
	return len(l.pages)
}

// Pages は現在の並びのコピーを返します。
func (l *PageList) Pages() []PageRef {
	return append([]PageRef(nil), l.pages...)
}

// At は position 番目のページを返します。
func (l *PageList) At(position int) (PageRef, error) {
	if position < 0 || position >= len(l.pages) {
		return PageRef{}, outOfRange(position, len(l.pages))
	}
	return l.pages[position], nil
}

// AddAllPages は id のPDFの全ページを元の順序で末尾に追加します。
func (l *PageList) AddAllPages(id DocumentID) (int, error) {
	h, ok := l.registry.Document(id)
	if !ok {
		return 0, documentNotFound(id)
	}
	indexes := make([]int, h.PageCount())
	for i := range indexes {
		indexes[i] = i
	}
	return len(indexes), l.AddPages(id, indexes)
}

// AddPages は id のPDFから indexes のページを指定順に末尾へ追加し、1ページごとに参照を1つ増やします。
// 範囲外のページ番号が1つでもあれば何も追加しません。
func (l *PageList) AddPages(id DocumentID, indexes []int) error {
	h, ok := l.registry.Document(id)
	if !ok {
		return documentNotFound(id)
	}
	count := h.PageCount()
	for _, idx := range indexes {
		if idx < 0 || idx >= count {
			return pdf.NewError(pdf.CodeOutOfRange, fmt.Sprintf("ページ %d は存在しません（全 %d ページ）。", idx+1, count), ErrIndexOutOfRange)
		}
	}
	for _, idx := range indexes {
		l.pages = append(l.pages, PageRef{DocumentID: id, Index: idx})
		l.registry.AddReference(id)
	}
	return nil
}

// RemoveAt は position 番目のページを取り除き、元PDFの参照を1つ減らします。
func (l *PageList) RemoveAt(position int) (PageRef, error) {
	if position < 0 || position >= len(l.pages) {
		return PageRef{}, outOfRange(position, len(l.pages))
	}
	ref := l.pages[position]
	l.pages = append(l.pages[:position], l.pages[position+1:]...)
	l.registry.RemoveReference(ref.DocumentID)
	return ref, nil
}

// Move は from 番目のページを取り出して to 番目へ挿入します。参照カウントは変わりません。
func (l *PageList) Move(from, to int) error {
	n := len(l.pages)
	if from < 0 || from >= n {
		return outOfRange(from, n)
	}
	if to < 0 || to >= n {
		return outOfRange(to, n)
	}
	if from == to {
		return nil
	}
	ref := l.pages[from]
	if from < to {
		copy(l.pages[from:to], l.pages[from+1:to+1])
	} else {
		copy(l.pages[to+1:from+1], l.pages[to:from])
	}
	l.pages[to] = ref
	return nil
}

// Reorder は order[i] 番目にあったページを i 番目に置く並べ替えです。
// order は 0..Len()-1 の順列でなければなりません。参照カウントは変わりません。
func (l *PageList) Reorder(order []int) error {
	if err := validateOrder(order, len(l.pages)); err != nil {
		return err
	}
	next := make([]PageRef, len(order))
	for i, idx := range order {
		next[i] = l.pages[idx]
	}
	l.pages = next
	return nil
}

// clear は参照カウントを触らずに並びを空にします。DisposeAll と組み合わせて使います。
func (l *PageList) clear() {
	l.pages = nil
}

func validateOrder(order []int, pageCount int) error {
	if len(order) != pageCount {
		return pdf.NewError(pdf.CodeInvalidInput, "order配列の長さがページ数と一致していません。", nil)
	}

	seen := make([]bool, pageCount)
	for _, idx := range order {
		if idx < 0 || idx >= pageCount {
			return pdf.NewError(pdf.CodeInvalidInput, "order配列に不正なページ番号が含まれています。", nil)
		}
		if seen[idx] {
			return pdf.NewError(pdf.CodeInvalidInput, "order配列に重複した番号が含まれています。", nil)
		}
		seen[idx] = true
	}

	return nil
}

func outOfRange(position, length int) error {
	return pdf.NewError(pdf.CodeOutOfRange, fmt.Sprintf("位置 %d のページはありません（全 %d ページ）。", position, length), ErrIndexOutOfRange)
}

func documentNotFound(id DocumentID) error {
	return pdf.NewError(pdf.CodeDocumentNotFound, fmt.Sprintf("PDF %s は開かれていません。", id), nil)
}

package pdf

import (
	"context"
	"sync"
)

// documentFuture は初回の get で一度だけPDFを開きます。
type documentFuture struct {
	once sync.Once
	doc  *Document
	err  error
}

// lazyDocuments はジョブ内で使うPDFを必要になった時点で開き、ジョブ終了までまとめて保持します。
// ワークベンチの参照カウント方式と違い、途中で解放はしません。
type lazyDocuments struct {
	engine  *Engine
	files   []storedFile
	futures []*documentFuture
	onOpen  func(opened int)

	mu     sync.Mutex
	opened int
}

func newLazyDocuments(engine *Engine, files []storedFile, onOpen func(opened int)) *lazyDocuments {
	futures := make([]*documentFuture, len(files))
	for i := range futures {
		futures[i] = &documentFuture{}
	}
	return &lazyDocuments{
		engine:  engine,
		files:   files,
		futures: futures,
		onOpen:  onOpen,
	}
}

func (l *lazyDocuments) get(ctx context.Context, i int) (*Document, error) {
	f := l.futures[i]
	f.once.Do(func() {
		sf := l.files[i]
		f.doc, f.err = l.engine.Open(ctx, sf.originalName, sf.path)
		if f.err != nil {
			return
		}
		l.mu.Lock()
		l.opened++
		opened := l.opened
		l.mu.Unlock()
		if l.onOpen != nil {
			l.onOpen(opened)
		}
	})
	return f.doc, f.err
}

// closeAll は開いたPDFをすべて閉じます。
func (l *lazyDocuments) closeAll() {
	for _, f := range l.futures {
		if f.doc != nil {
			_ = f.doc.Close()
		}
	}
}

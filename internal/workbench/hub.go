package workbench

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrInvalidSession はセッションIDが UUID でない場合のエラーです。
var ErrInvalidSession = errors.New("workbench: invalid session id")

// Hub はセッションIDごとに Workbench を保持します。
type Hub struct {
	root   string
	lib    Library
	limits Limits
	logger *log.Logger
	now    func() time.Time

	mu      sync.Mutex
	benches map[string]*Workbench
}

// NewHub は Hub を作成します。各ワークベンチのアップロードは root/sessions/<id>/in に置きます。
func NewHub(root string, lib Library, limits Limits, logger *log.Logger) *Hub {
	if logger == nil {
		logger = log.Default()
	}
	return &Hub{
		root:    filepath.Join(root, "sessions"),
		lib:     lib,
		limits:  limits,
		logger:  logger,
		now:     time.Now,
		benches: make(map[string]*Workbench),
	}
}

// Get はセッションのワークベンチを返します。まだなければ作成します。
func (h *Hub) Get(sessionID string) (*Workbench, error) {
	if _, err := uuid.Parse(sessionID); err != nil {
		return nil, fmt.Errorf("%w: %q", ErrInvalidSession, sessionID)
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if w, ok := h.benches[sessionID]; ok {
		return w, nil
	}

	dir := filepath.Join(h.root, sessionID, "in")
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("ワークベンチ用ディレクトリの作成に失敗しました: %w", err)
	}
	w := New(sessionID, dir, h.lib, h.limits, h.logger)
	w.now = h.now
	w.touch()
	h.benches[sessionID] = w
	h.logger.Printf("workbench=%s created", sessionID)
	return w, nil
}

// Lookup は既存のワークベンチを返します。作成はしません。
func (h *Hub) Lookup(sessionID string) (*Workbench, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	w, ok := h.benches[sessionID]
	return w, ok
}

// Len は保持しているワークベンチの数です。
func (h *Hub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.benches)
}

// Close はセッションのワークベンチを破棄します。存在しなければ何もしません。
func (h *Hub) Close(sessionID string) error {
	h.mu.Lock()
	w, ok := h.benches[sessionID]
	delete(h.benches, sessionID)
	h.mu.Unlock()
	if !ok {
		return nil
	}
	return h.closeBench(w)
}

func (h *Hub) closeBench(w *Workbench) error {
	err := w.Close()
	if rmErr := os.RemoveAll(filepath.Join(h.root, w.ID())); rmErr != nil && err == nil {
		err = rmErr
	}
	if err != nil {
		h.logger.Printf("workbench=%s close failed: %v", w.ID(), err)
		return err
	}
	h.logger.Printf("workbench=%s closed", w.ID())
	return nil
}

// Sweep は idle より長く操作されていないワークベンチを破棄し、破棄した数を返します。
func (h *Hub) Sweep(idle time.Duration) int {
	cutoff := h.now().Add(-idle)

	h.mu.Lock()
	candidates := make([]*Workbench, 0, len(h.benches))
	for _, w := range h.benches {
		candidates = append(candidates, w)
	}
	h.mu.Unlock()

	var expired []*Workbench
	for _, w := range candidates {
		if !w.LastUsed().Before(cutoff) {
			continue
		}
		h.mu.Lock()
		// 判定の間に使われたものや入れ替わったものは残します。
		if cur, ok := h.benches[w.ID()]; ok && cur == w && w.LastUsed().Before(cutoff) {
			delete(h.benches, w.ID())
			expired = append(expired, w)
		}
		h.mu.Unlock()
	}

	for _, w := range expired {
		_ = h.closeBench(w)
	}
	return len(expired)
}

// Run は ctx が終わるまで interval ごとに Sweep を実行します。
func (h *Hub) Run(ctx context.Context, interval, idle time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := h.Sweep(idle); n > 0 {
				h.logger.Printf("workbench sweep closed %d idle workbench(es)", n)
			}
		}
	}
}

// CloseAll は全ワークベンチを破棄します。シャットダウン時に使います。
func (h *Hub) CloseAll() {
	h.mu.Lock()
	benches := make([]*Workbench, 0, len(h.benches))
	for _, w := range h.benches {
		benches = append(benches, w)
	}
	h.benches = make(map[string]*Workbench)
	h.mu.Unlock()

	for _, w := range benches {
		_ = h.closeBench(w)
	}
}

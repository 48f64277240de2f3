// Package pdf はPDFライブラリ（pdfcpu / Ghostscript）のアダプターと、
// 非同期結合ジョブ用の作業領域管理を提供します。
package pdf

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/yourusername/combine-pdf/internal/config"
)

const defaultCleanupMin = 10

// Service はジョブ作業領域とPDF処理をまとめたサービスです。
type Service struct {
	cfg    *config.Config
	engine *Engine
	root   string
	now    func() time.Time
	logger *log.Logger
}

// NewService は Service を作成し、ジョブ用のルートディレクトリを用意します。
func NewService(cfg *config.Config, engine *Engine, logger *log.Logger) (*Service, error) {
	if cfg == nil {
		return nil, errors.New("config is nil")
	}
	if engine == nil {
		return nil, errors.New("engine is nil")
	}
	if logger == nil {
		logger = log.Default()
	}
	root := filepath.Join(cfg.WorkDir, "jobs")
	if err := os.MkdirAll(root, 0o750); err != nil {
		return nil, fmt.Errorf("ジョブ作業ディレクトリの作成に失敗しました: %w", err)
	}
	return &Service{
		cfg:    cfg,
		engine: engine,
		root:   root,
		now:    time.Now,
		logger: logger,
	}, nil
}

// Engine はサービスが使うPDFエンジンを返します。
func (s *Service) Engine() *Engine {
	return s.engine
}

func (s *Service) createWorkspace() (workspace, error) {
	ws := s.workspaceFor(uuid.NewString())
	for _, dir := range []string{ws.inDir, ws.outDir} {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			_ = removeDir(ws.dir)
			return workspace{}, fmt.Errorf("作業ディレクトリの作成に失敗しました: %w", err)
		}
	}
	return ws, nil
}

func (s *Service) workspaceFor(jobID string) workspace {
	dir := filepath.Join(s.root, filepath.Base(jobID))
	return workspace{
		jobID:  jobID,
		dir:    dir,
		inDir:  filepath.Join(dir, "in"),
		outDir: filepath.Join(dir, "out"),
	}
}

func (s *Service) scheduleCleanup(dir string) {
	expireMinutes := s.cfg.JobExpireMinutes
	if expireMinutes <= 0 {
		expireMinutes = defaultCleanupMin
	}
	time.AfterFunc(time.Duration(expireMinutes)*time.Minute, func() {
		_ = removeDir(dir)
	})
}

func removeDir(dir string) error {
	if dir == "" {
		return nil
	}
	return os.RemoveAll(dir)
}

func writeJSON(path string, v any) error {
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o640)
	if err != nil {
		return err
	}
	defer file.Close()
	enc := json.NewEncoder(file)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

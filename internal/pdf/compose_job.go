package pdf

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

// SuggestedFilename は結合結果の既定ファイル名 combined_<unixミリ秒>.pdf を返します。
func SuggestedFilename(t time.Time) string {
	return "combined_" + strconv.FormatInt(t.UnixMilli(), 10) + ".pdf"
}

// ComposeSource は非同期結合ジョブへ渡す入力PDFです。
type ComposeSource struct {
	Path  string
	Name  string
	Pages int
}

// PrepareComposeJob は入力PDFをジョブ作業領域へ複製し、マニフェストを書き出します。
// 複製するのでワークベンチ側でPDFが解放されてもジョブは影響を受けません。
func (s *Service) PrepareComposeJob(ctx context.Context, owner string, sources []ComposeSource, pages []JobPage, preset OptimizePreset) (*JobManifest, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if len(pages) == 0 {
		return nil, newError(CodeEmptySelection, "結合するページが選択されていません。", nil)
	}
	if len(sources) == 0 {
		return nil, newError(CodeInvalidInput, "結合元のPDFがありません。", nil)
	}
	preset, err := NormalizePreset(preset)
	if err != nil {
		return nil, err
	}

	ws, err := s.createWorkspace()
	if err != nil {
		return nil, err
	}

	stored := make([]storedFile, len(sources))
	for i, src := range sources {
		if err := ctx.Err(); err != nil {
			_ = removeDir(ws.dir)
			return nil, err
		}
		dst := filepath.Join(ws.inDir, fmt.Sprintf("%03d.pdf", i))
		size, err := linkOrCopy(src.Path, dst)
		if err != nil {
			_ = removeDir(ws.dir)
			return nil, fmt.Errorf("入力ファイルの複製に失敗しました: %w", err)
		}
		stored[i] = storedFile{path: dst, originalName: src.Name, size: size, pages: src.Pages}
	}

	manifest := &JobManifest{
		JobID:     ws.jobID,
		Operation: OperationCompose,
		Owner:     owner,
		Files:     toJobFiles(stored),
		Pages:     append([]JobPage(nil), pages...),
		Preset:    preset,
		CreatedAt: s.now().UTC(),
	}
	if err := validateManifest(manifest); err != nil {
		_ = removeDir(ws.dir)
		return nil, err
	}
	if err := ws.writeManifest(manifest); err != nil {
		_ = removeDir(ws.dir)
		return nil, fmt.Errorf("ジョブマニフェストの保存に失敗しました: %w", err)
	}
	return manifest, nil
}

func (s *Service) executeCompose(ctx context.Context, ws workspace, manifest *JobManifest, progress ProgressReporter) (*Result, error) {
	stored := storedFilesFromManifest(ws, manifest)

	docs := newLazyDocuments(s.engine, stored, func(opened int) {
		reportProgress(progress, "load", loadProgress(opened, len(stored)))
	})
	defer docs.closeAll()

	reportProgress(progress, "load", 0)
	pages := make([]Page, len(manifest.Pages))
	for i, p := range manifest.Pages {
		doc, err := docs.get(ctx, p.File)
		if err != nil {
			return nil, err
		}
		pages[i] = Page{Document: doc, Index: p.Index}
	}

	reportProgress(progress, "process", progressLoadEnd)
	data, err := s.engine.Compose(ctx, pages)
	if err != nil {
		return nil, err
	}
	data, err = s.engine.Optimize(ctx, data, manifest.Preset)
	if err != nil {
		return nil, err
	}
	reportProgress(progress, "write", progressProcessEnd)

	filename := SuggestedFilename(manifest.CreatedAt)
	outputPath := ws.outputPath(filename)
	if err := os.WriteFile(outputPath, data, 0o640); err != nil {
		return nil, fmt.Errorf("結合結果の保存に失敗しました: %w", err)
	}

	meta := &ComposeMeta{
		TotalPages: len(pages),
		Sources:    sourceMetas(stored),
		Preset:     manifest.Preset,
		OutputSize: int64(len(data)),
	}
	metaPayload := struct {
		Type      OperationType `json:"type"`
		CreatedAt string        `json:"createdAt"`
		Output    string        `json:"output"`
		*ComposeMeta
	}{
		Type:        OperationCompose,
		CreatedAt:   s.now().UTC().Format(time.RFC3339),
		Output:      filename,
		ComposeMeta: meta,
	}
	if err := writeJSON(filepath.Join(ws.dir, "meta.json"), metaPayload); err != nil {
		return nil, fmt.Errorf("メタデータの保存に失敗しました: %w", err)
	}

	s.scheduleCleanup(ws.dir)
	reportProgress(progress, "completed", 100)
	s.logger.Printf("job done job=%s pages=%d input=%d output=%d", ws.jobID, len(pages), manifest.TotalSize(), len(data))

	return &Result{
		JobID:          ws.jobID,
		Operation:      OperationCompose,
		OutputPath:     outputPath,
		OutputFilename: filename,
		OutputSize:     int64(len(data)),
		ResultKind:     ResultKindPDF,
		Meta:           meta,
		jobDir:         ws.dir,
	}, nil
}

func linkOrCopy(src, dst string) (int64, error) {
	info, err := os.Stat(src)
	if err != nil {
		return 0, err
	}
	if err := os.Link(src, dst); err == nil {
		return info.Size(), nil
	}

	in, err := os.Open(src)
	if err != nil {
		return 0, err
	}
	defer in.Close()
	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o640)
	if err != nil {
		return 0, err
	}
	n, err := io.Copy(out, in)
	if closeErr := out.Close(); err == nil {
		err = closeErr
	}
	return n, err
}

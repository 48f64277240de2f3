package pdf

import (
	"encoding/json"
	"fmt"
	"os"
	"time"
)

const manifestFilename = "manifest.json"

// JobManifest はジョブに必要な情報を保持します。
type JobManifest struct {
	JobID     string         `json:"jobId"`
	Operation OperationType  `json:"operation"`
	Owner     string         `json:"owner,omitempty"`
	Files     []JobFile      `json:"files"`
	Pages     []JobPage      `json:"pages"`
	Preset    OptimizePreset `json:"preset,omitempty"`
	CreatedAt time.Time      `json:"createdAt"`
}

// JobFile はジョブ入力ファイルのメタデータを表します。
type JobFile struct {
	StoredName   string `json:"storedName"`
	OriginalName string `json:"originalName"`
	Size         int64  `json:"size"`
	Pages        int    `json:"pages"`
}

// JobPage は出力の1ページが Files のどのファイルの何ページ目（0始まり）かを表します。
type JobPage struct {
	File  int `json:"file"`
	Index int `json:"index"`
}

// TotalSize は入力ファイルの合計サイズです。
func (m *JobManifest) TotalSize() int64 {
	var total int64
	for _, f := range m.Files {
		total += f.Size
	}
	return total
}

func (w workspace) writeManifest(manifest *JobManifest) error {
	if manifest == nil {
		return fmt.Errorf("manifest is nil")
	}
	if err := writeJSON(w.manifestPath(), manifest); err != nil {
		return fmt.Errorf("failed to write manifest: %w", err)
	}
	return nil
}

func (w workspace) loadManifest() (*JobManifest, error) {
	data, err := os.ReadFile(w.manifestPath())
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}
	var manifest JobManifest
	if err := json.Unmarshal(data, &manifest); err != nil {
		return nil, fmt.Errorf("failed to parse manifest: %w", err)
	}
	return &manifest, nil
}

func validateManifest(m *JobManifest) error {
	if m.Operation == "" {
		return fmt.Errorf("manifest missing operation")
	}
	if len(m.Files) == 0 {
		return fmt.Errorf("manifest has no input files")
	}
	if len(m.Pages) == 0 {
		return newError(CodeEmptySelection, "結合するページが選択されていません。", nil)
	}
	for i, p := range m.Pages {
		if p.File < 0 || p.File >= len(m.Files) {
			return fmt.Errorf("manifest page %d refers to unknown file %d", i, p.File)
		}
		if f := m.Files[p.File]; p.Index < 0 || (f.Pages > 0 && p.Index >= f.Pages) {
			return fmt.Errorf("manifest page %d has out-of-range index %d", i, p.Index)
		}
	}
	return nil
}

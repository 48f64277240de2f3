package pdf

import (
	"sync"
)

// OperationType はジョブで行うPDF処理の種別を表します。
type OperationType string

const (
	OperationCompose OperationType = "compose"
)

// ResultKind は生成される成果物の種別を表します。
type ResultKind string

const (
	ResultKindPDF ResultKind = "pdf"
)

// ContentType は成果物の MIME タイプを返します。
func (k ResultKind) ContentType() string {
	switch k {
	case ResultKindPDF:
		return pdfMIMEType
	default:
		return "application/octet-stream"
	}
}

// Result はPDF処理の成果を表します。
type Result struct {
	JobID          string        `json:"jobId"`
	Operation      OperationType `json:"operation"`
	OutputPath     string        `json:"outputPath"`
	OutputFilename string        `json:"outputFilename"`
	OutputSize     int64         `json:"outputSize"`
	ResultKind     ResultKind    `json:"resultKind"`
	Meta           *ComposeMeta  `json:"meta,omitempty"`

	jobDir      string
	cleanupOnce sync.Once
	cleanupErr  error
}

// Cleanup は作業ディレクトリを削除します。
func (r *Result) Cleanup() error {
	if r == nil {
		return nil
	}
	r.cleanupOnce.Do(func() {
		r.cleanupErr = removeDir(r.jobDir)
	})
	return r.cleanupErr
}

// SourceFileMeta は入力PDFの概要です。
type SourceFileMeta struct {
	Name  string `json:"name"`
	Size  int64  `json:"size"`
	Pages int    `json:"pages"`
}

// ComposeMeta は結合処理のメタデータです。
type ComposeMeta struct {
	TotalPages int              `json:"totalPages"`
	Sources    []SourceFileMeta `json:"sources"`
	Preset     OptimizePreset   `json:"preset"`
	OutputSize int64            `json:"outputSize"`
}

package jobs

import (
	"time"

	"github.com/yourusername/combine-pdf/internal/pdf"
)

// Status は結合ジョブの状態です。queued → running → done / error の順に進みます。
type Status string

const (
	StatusQueued    Status = "queued"
	StatusRunning   Status = "running"
	StatusSucceeded Status = "done"
	StatusFailed    Status = "error"
)

// Finished は done か error なら true です。
func (s Status) Finished() bool {
	return s == StatusSucceeded || s == StatusFailed
}

// 進捗の段階。load と completed の間は pdf パッケージが報告する段階名が入ります。
const (
	StageQueued    = "queued"
	StageLoad      = "load"
	StageCompleted = "completed"
)

// pdf.Error 以外で失敗したジョブに付けるコードです。
const (
	CodeJobCanceled   = "JOB_CANCELED"
	CodeInternalError = "INTERNAL_ERROR"
)

// ProgressInfo はポーリングで返す進捗です。
type ProgressInfo struct {
	Percent int    `json:"percent"`
	Stage   string `json:"stage,omitempty"`
	Message string `json:"message,omitempty"`
}

// ErrorInfo は失敗したジョブの利用者向けエラーです。内部エラーの詳細は含めません。
type ErrorInfo struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Record は Redis に保存する結合ジョブの状態です。
// Owner はジョブを投入したワークベンチのセッションIDで、他のセッションからは見えません。
type Record struct {
	JobID       string            `json:"jobId"`
	Operation   pdf.OperationType `json:"operation"`
	Owner       string            `json:"owner,omitempty"`
	Status      Status            `json:"status"`
	Progress    ProgressInfo      `json:"progress"`
	DownloadURL string            `json:"downloadUrl,omitempty"`
	Meta        *pdf.ComposeMeta  `json:"meta,omitempty"`
	Error       *ErrorInfo        `json:"error,omitempty"`
	CreatedAt   time.Time         `json:"createdAt"`
	UpdatedAt   time.Time         `json:"updatedAt"`
	ExpiresAt   time.Time         `json:"expiresAt"`
}

// OwnedBy は owner が投入したジョブなら true です。Owner が空の記録は誰のものでもありません。
func (r *Record) OwnedBy(owner string) bool {
	return r != nil && owner != "" && r.Owner == owner
}

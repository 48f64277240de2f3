package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"

	"github.com/hibiken/asynq"

	"github.com/yourusername/combine-pdf/internal/pdf"
)

// handleComposeTask は結合ジョブを実行し、結果を Redis に記録します。
// 失敗はジョブ状態として記録し、asynq には成功として返して再実行させません。
func (m *Manager) handleComposeTask(ctx context.Context, task *asynq.Task) error {
	var payload TaskPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return fmt.Errorf("invalid payload: %v: %w", err, asynq.SkipRetry)
	}
	if err := validatePayload(&payload); err != nil {
		return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	}

	if err := m.store.Upsert(ctx, &Record{
		JobID:     payload.JobID,
		Operation: payload.Operation,
		Owner:     payload.Owner,
		Status:    StatusRunning,
		Progress: ProgressInfo{
			Percent: 0,
			Stage:   StageLoad,
		},
	}); err != nil {
		return err
	}

	result, err := m.runner.RunJob(ctx, payload.JobID, func(stage string, percent int) {
		if err := m.store.UpdateProgress(ctx, payload.JobID, ProgressInfo{
			Stage:   stage,
			Percent: percent,
		}); err != nil {
			m.logger.Printf("failed to update progress job=%s: %v", payload.JobID, err)
		}
	})
	if err != nil {
		return m.failJobWithError(ctx, payload.JobID, err)
	}
	return m.finishJob(ctx, payload.JobID, result)
}

func (m *Manager) finishJob(ctx context.Context, jobID string, result *pdf.Result) error {
	if result == nil {
		return fmt.Errorf("result is nil")
	}
	downloadURL := m.buildDownloadURL(result)
	return m.store.MarkDone(ctx, jobID, downloadURL, result.Meta)
}

func (m *Manager) failJobWithError(ctx context.Context, jobID string, err error) error {
	m.logger.Printf("job failed job=%s: %v", jobID, err)
	return m.store.MarkFailed(ctx, jobID, errorInfoFrom(err))
}

// errorInfoFrom は *pdf.Error ならそのコードとメッセージを、それ以外は内部エラーとして変換します。
func errorInfoFrom(err error) *ErrorInfo {
	var apiErr *pdf.Error
	switch {
	case errors.As(err, &apiErr):
		return &ErrorInfo{Code: apiErr.Code, Message: apiErr.Message}
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return &ErrorInfo{Code: CodeJobCanceled, Message: "ジョブが中断されました。"}
	default:
		return &ErrorInfo{Code: CodeInternalError, Message: "ジョブの処理中にエラーが発生しました。"}
	}
}

// asynqLogger は asynq のログを標準の log.Logger へ流します。
type asynqLogger struct {
	logger *log.Logger
}

func newAsynqLogger(logger *log.Logger) asynq.Logger {
	return &asynqLogger{logger: logger}
}

func (l *asynqLogger) Debug(args ...interface{}) {}

func (l *asynqLogger) Info(args ...interface{}) {
	l.logger.Print(append([]interface{}{"asynq: "}, args...)...)
}

func (l *asynqLogger) Warn(args ...interface{}) {
	l.logger.Print(append([]interface{}{"asynq warn: "}, args...)...)
}

func (l *asynqLogger) Error(args ...interface{}) {
	l.logger.Print(append([]interface{}{"asynq error: "}, args...)...)
}

func (l *asynqLogger) Fatal(args ...interface{}) {
	l.logger.Fatal(append([]interface{}{"asynq fatal: "}, args...)...)
}

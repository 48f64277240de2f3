package pdf

import (
	"context"
	"fmt"
)

// RunJob はジョブIDに対応するPDF処理を実行します。
func (s *Service) RunJob(ctx context.Context, jobID string, reporter ProgressReporter) (*Result, error) {
	if jobID == "" {
		return nil, fmt.Errorf("jobID is required")
	}
	ws := s.workspaceFor(jobID)
	manifest, err := ws.loadManifest()
	if err != nil {
		_ = removeDir(ws.dir)
		return nil, err
	}
	if err := validateManifest(manifest); err != nil {
		_ = removeDir(ws.dir)
		return nil, err
	}

	var (
		result *Result
		runErr error
	)

	switch manifest.Operation {
	case OperationCompose:
		result, runErr = s.executeCompose(ctx, ws, manifest, reporter)
	default:
		_ = removeDir(ws.dir)
		return nil, fmt.Errorf("unsupported operation: %s", manifest.Operation)
	}

	if runErr != nil {
		if cleanupErr := removeDir(ws.dir); cleanupErr != nil {
			runErr = fmt.Errorf("%w (ワークスペースの削除にも失敗しました: %v)", runErr, cleanupErr)
		}
		s.logger.Printf("job failed job=%s op=%s: %v", jobID, manifest.Operation, runErr)
		return nil, runErr
	}

	return result, nil
}

// DiscardJob はキュー投入に失敗したジョブの作業領域を削除します。
func (s *Service) DiscardJob(jobID string) error {
	if jobID == "" {
		return nil
	}
	return removeDir(s.workspaceFor(jobID).dir)
}

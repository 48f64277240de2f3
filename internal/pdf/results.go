package pdf

import (
	"fmt"
	"os"
	"strings"
)

var operationOutput = map[OperationType]ResultKind{
	OperationCompose: ResultKindPDF,
}

// OpenResultFile はジョブIDに対応する成果物ファイルを開き、Result 情報とファイルハンドルを返します。
func (s *Service) OpenResultFile(jobID string) (*Result, *os.File, error) {
	if strings.TrimSpace(jobID) == "" {
		return nil, nil, fmt.Errorf("jobID is required")
	}

	ws := s.workspaceFor(jobID)
	manifest, err := ws.loadManifest()
	if err != nil {
		return nil, nil, err
	}
	kind, ok := operationOutput[manifest.Operation]
	if !ok {
		return nil, nil, fmt.Errorf("unsupported operation for result download: %s", manifest.Operation)
	}

	filename := SuggestedFilename(manifest.CreatedAt)
	outputPath := ws.outputPath(filename)
	file, err := os.Open(outputPath)
	if err != nil {
		return nil, nil, err
	}

	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, nil, err
	}

	result := &Result{
		JobID:          jobID,
		Operation:      manifest.Operation,
		OutputPath:     outputPath,
		OutputFilename: filename,
		OutputSize:     info.Size(),
		ResultKind:     kind,
		jobDir:         ws.dir,
	}

	return result, file, nil
}

// JobOwner はジョブを投入したセッションを返します。マニフェストがなければ空文字です。
func (s *Service) JobOwner(jobID string) string {
	if strings.TrimSpace(jobID) == "" {
		return ""
	}
	manifest, err := s.workspaceFor(jobID).loadManifest()
	if err != nil {
		return ""
	}
	return manifest.Owner
}

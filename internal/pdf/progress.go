package pdf

// ProgressReporter は進捗更新用コールバックです。
type ProgressReporter func(stage string, percent int)

// 進捗の区切り: load 0→20% / process 20→80% / write 80→100%
const (
	progressLoadEnd    = 20
	progressProcessEnd = 80
)

func reportProgress(cb ProgressReporter, stage string, percent int) {
	if cb == nil {
		return
	}
	if percent < 0 {
		percent = 0
	}
	if percent > 100 {
		percent = 100
	}
	cb(stage, percent)
}

// loadProgress は done/total 件のPDFを開いた時点の進捗率です。
func loadProgress(done, total int) int {
	if total <= 0 {
		return progressLoadEnd
	}
	return progressLoadEnd * done / total
}

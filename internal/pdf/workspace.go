package pdf

import "path/filepath"

// workspace はジョブ1件分の作業ディレクトリです（<root>/<jobId>/in|out）。
type workspace struct {
	jobID  string
	dir    string
	inDir  string
	outDir string
}

func (w workspace) manifestPath() string {
	return filepath.Join(w.dir, manifestFilename)
}

func (w workspace) inputPath(storedName string) string {
	return filepath.Join(w.inDir, filepath.Base(storedName))
}

func (w workspace) outputPath(filename string) string {
	return filepath.Join(w.outDir, filepath.Base(filename))
}

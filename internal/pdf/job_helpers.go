package pdf

import "path/filepath"

// storedFile はジョブ作業領域へ保存済みの入力ファイルです。
type storedFile struct {
	path         string
	originalName string
	size         int64
	pages        int
}

func toJobFiles(stored []storedFile) []JobFile {
	files := make([]JobFile, len(stored))
	for i, sf := range stored {
		files[i] = JobFile{
			StoredName:   filepath.Base(sf.path),
			OriginalName: sf.originalName,
			Size:         sf.size,
			Pages:        sf.pages,
		}
	}
	return files
}

func storedFilesFromManifest(ws workspace, manifest *JobManifest) []storedFile {
	if manifest == nil {
		return nil
	}
	stored := make([]storedFile, len(manifest.Files))
	for i, f := range manifest.Files {
		stored[i] = storedFile{
			path:         ws.inputPath(f.StoredName),
			originalName: f.OriginalName,
			size:         f.Size,
			pages:        f.Pages,
		}
	}
	return stored
}

func sourceMetas(stored []storedFile) []SourceFileMeta {
	metas := make([]SourceFileMeta, len(stored))
	for i, sf := range stored {
		metas[i] = SourceFileMeta{
			Name:  sf.originalName,
			Size:  sf.size,
			Pages: sf.pages,
		}
	}
	return metas
}

package pdf

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"os"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
	"golang.org/x/text/unicode/norm"
)

const pdfMIMEType = "application/pdf"

// StoredFile はアップロードを作業ディレクトリへ保存した結果です。
type StoredFile struct {
	Path         string
	OriginalName string
	Size         int64
}

// StoreUpload はアップロードされたPDFを検証し、dir 配下へ保存します。
// 拡張子・MIMEシグネチャ・サイズ上限を確認し、表示名は NFC に正規化します。
func (s *Service) StoreUpload(ctx context.Context, file *multipart.FileHeader, dir string) (*StoredFile, error) {
	if file == nil {
		return nil, newError(CodeInvalidInput, "PDFファイルを選択してください。", nil)
	}
	name := DisplayName(file.Filename)
	if !strings.EqualFold(filepath.Ext(name), ".pdf") {
		return nil, newError(CodeInvalidInput, fmt.Sprintf("%s はPDFファイルではありません。拡張子 .pdf のファイルを選択してください。", name), nil)
	}
	if s.cfg.MaxFileSize > 0 && file.Size > s.cfg.MaxFileSize {
		return nil, newError(CodeLimitExceeded, fmt.Sprintf("%s はサイズ上限 (%d MB) を超えています。", name, s.cfg.MaxFileSize/(1024*1024)), nil)
	}

	src, err := file.Open()
	if err != nil {
		return nil, fmt.Errorf("アップロードファイルのオープンに失敗しました: %w", err)
	}
	defer src.Close()

	mtype, err := mimetype.DetectReader(src)
	if err != nil {
		return nil, fmt.Errorf("ファイル形式の判定に失敗しました: %w", err)
	}
	if !mtype.Is(pdfMIMEType) {
		return nil, newError(CodeUnsupportedPDF, fmt.Sprintf("%s の内容がPDFではありません (detected: %s)。", name, mtype.String()), nil)
	}
	if _, err := src.Seek(0, io.SeekStart); err != nil {
		return nil, fmt.Errorf("アップロードファイルの読み直しに失敗しました: %w", err)
	}

	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("保存先ディレクトリの作成に失敗しました: %w", err)
	}
	path := filepath.Join(dir, uuid.NewString()+".pdf")
	size, err := copyWithContext(ctx, path, src)
	if err != nil {
		_ = os.Remove(path)
		return nil, err
	}

	return &StoredFile{Path: path, OriginalName: name, Size: size}, nil
}

// DisplayName はファイル名からディレクトリ部分を除き、NFC に正規化します。
// macOS から送られる NFD のファイル名（濁点の分離など）を揃えるためです。
func DisplayName(filename string) string {
	base := filepath.Base(strings.ReplaceAll(filename, "\\", "/"))
	if base == "." || base == "/" {
		return ""
	}
	return norm.NFC.String(base)
}

func copyWithContext(ctx context.Context, path string, src io.Reader) (int64, error) {
	dst, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_EXCL, 0o640)
	if err != nil {
		return 0, fmt.Errorf("保存ファイルの作成に失敗しました: %w", err)
	}

	n, copyErr := io.Copy(dst, readerFunc(func(p []byte) (int, error) {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		return src.Read(p)
	}))
	closeErr := dst.Close()
	if copyErr != nil {
		if errors.Is(copyErr, context.Canceled) || errors.Is(copyErr, context.DeadlineExceeded) {
			return 0, copyErr
		}
		return 0, fmt.Errorf("アップロードファイルの保存に失敗しました: %w", copyErr)
	}
	if closeErr != nil {
		return 0, fmt.Errorf("アップロードファイルの保存に失敗しました: %w", closeErr)
	}
	return n, nil
}

type readerFunc func(p []byte) (int, error)

func (f readerFunc) Read(p []byte) (int, error) { return f(p) }

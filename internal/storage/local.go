// Package storage は結合結果をファイルとして書き出すための薄い層を提供します。
package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ErrOutsideRoot は書き込み先がルートディレクトリの外を指している場合のエラーです。
var ErrOutsideRoot = errors.New("storage: path escapes root directory")

// Writer はバイト列をパスへ保存します。
type Writer interface {
	WriteFile(ctx context.Context, path string, data []byte) (string, error)
}

// Local は Root 配下へファイルを書き込みます。
type Local struct {
	Root string
}

// NewLocal は Local を作成し、ルートディレクトリを用意します。
func NewLocal(root string) (*Local, error) {
	if strings.TrimSpace(root) == "" {
		return nil, errors.New("storage: root is required")
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(abs, 0o750); err != nil {
		return nil, fmt.Errorf("storage: failed to create root: %w", err)
	}
	return &Local{Root: abs}, nil
}

// WriteFile は一時ファイルへ書いてから rename し、書き込んだ絶対パスを返します。
func (l *Local) WriteFile(ctx context.Context, path string, data []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	target, err := l.resolve(path)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(target), 0o750); err != nil {
		return "", fmt.Errorf("storage: failed to create directory: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(target), ".partial-*")
	if err != nil {
		return "", fmt.Errorf("storage: failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return "", fmt.Errorf("storage: failed to write: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return "", fmt.Errorf("storage: failed to write: %w", err)
	}
	if err := os.Chmod(tmpName, 0o640); err != nil {
		os.Remove(tmpName)
		return "", fmt.Errorf("storage: failed to chmod: %w", err)
	}
	if err := os.Rename(tmpName, target); err != nil {
		os.Remove(tmpName)
		return "", fmt.Errorf("storage: failed to move into place: %w", err)
	}
	return target, nil
}

// resolve は相対パスを Root 配下の絶対パスへ変換します。絶対パスは Root 配下のものだけ受け付けます。
func (l *Local) resolve(path string) (string, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return "", errors.New("storage: path is required")
	}
	var target string
	if filepath.IsAbs(path) {
		target = filepath.Clean(path)
	} else {
		target = filepath.Join(l.Root, path)
	}
	rel, err := filepath.Rel(l.Root, target)
	if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", ErrOutsideRoot
	}
	return target, nil
}

// Noop は書き込みを受け付けて何もしません。直接のファイル書き込みができない環境向けです。
type Noop struct{}

// WriteFile は何も書かずに path をそのまま返します。
func (Noop) WriteFile(ctx context.Context, path string, data []byte) (string, error) {
	return path, ctx.Err()
}

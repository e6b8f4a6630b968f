// Package storage はアップロードファイルの保存先を提供します。
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// ErrInvalidName は保存名にディレクトリ要素が含まれる場合に返されます。
var ErrInvalidName = errors.New("invalid file name")

// Local はローカルディスクのディレクトリに保存します。
// 保存したファイルは /uploads 配下で静的配信される想定です。
type Local struct {
	root string
}

// NewLocal はディレクトリを作成して Local を返します。
func NewLocal(root string) (*Local, error) {
	if strings.TrimSpace(root) == "" {
		return nil, errors.New("storage root is required")
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve storage root: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("create storage root: %w", err)
	}
	return &Local{root: abs}, nil
}

// Root は保存先ディレクトリの絶対パスです。
func (l *Local) Root() string {
	return l.root
}

// Save は r の内容を name として書き込みます。
// 一時ファイルに書いてからリネームするため、途中で失敗しても半端なファイルは公開されません。
func (l *Local) Save(ctx context.Context, name string, r io.Reader) error {
	if name == "" || name != filepath.Base(name) || name == "." || name == ".." {
		return ErrInvalidName
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(l.root, ".upload-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer func() {
		_ = os.Remove(tmpName)
	}()

	if _, err := io.Copy(tmp, r); err != nil {
		tmp.Close()
		return fmt.Errorf("write upload: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close upload: %w", err)
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		return fmt.Errorf("chmod upload: %w", err)
	}
	if err := os.Rename(tmpName, filepath.Join(l.root, name)); err != nil {
		return fmt.Errorf("move upload: %w", err)
	}
	return nil
}

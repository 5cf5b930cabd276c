package artifact

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/spf13/afero"
)

// Store 截图等产物的持久化
type Store interface {
	// Persist 写入root下的相对路径,返回最终路径
	Persist(ctx context.Context, data []byte, filename string) (string, error)
}

type fsStore struct {
	fs   afero.Fs
	root string
}

func InitFsStore(fs afero.Fs, root string) Store {
	return &fsStore{fs: fs, root: root}
}

// InitOsStore 写入本地磁盘
func InitOsStore(root string) Store {
	return InitFsStore(afero.NewOsFs(), root)
}

func (s *fsStore) Persist(ctx context.Context, data []byte, filename string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if !filepath.IsLocal(filename) {
		return "", fmt.Errorf("非法文件名: %q", filename)
	}
	path := filepath.Join(s.root, filename)
	if err := s.fs.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("创建目录失败: %w", err)
	}
	if err := afero.WriteFile(s.fs, path, data, 0o644); err != nil {
		return "", fmt.Errorf("写入文件失败: %w", err)
	}
	return path, nil
}

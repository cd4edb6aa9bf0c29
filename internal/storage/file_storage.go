// internal/storage/file_storage.go
package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

// FileStorage 提供文件存储服务（导出归档）
type FileStorage struct {
	BaseDir string

	// 文件级别锁 path -> *sync.RWMutex
	fileLocks sync.Map
}

// NewFileStorage 创建文件存储服务
func NewFileStorage(baseDir string) (*FileStorage, error) {
	if err := os.MkdirAll(baseDir, 0755); err != nil {
		return nil, fmt.Errorf("创建存储目录失败: %w", err)
	}
	return &FileStorage{BaseDir: baseDir}, nil
}

// 获取文件锁
func (fs *FileStorage) getFileLock(fullPath string) *sync.RWMutex {
	value, _ := fs.fileLocks.LoadOrStore(fullPath, &sync.RWMutex{})
	return value.(*sync.RWMutex)
}

// resolveDir 拼接目录并拒绝逃出 BaseDir 的路径
func (fs *FileStorage) resolveDir(dirPath string) (string, error) {
	fullDirPath := filepath.Join(fs.BaseDir, dirPath)
	rel, err := filepath.Rel(fs.BaseDir, fullDirPath)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("无效的目录: %q", dirPath)
	}
	return fullDirPath, nil
}

// resolve 拼接路径并拒绝逃出 BaseDir 的目录或文件名
func (fs *FileStorage) resolve(dirPath, filename string) (string, string, error) {
	if filename == "" || filename != filepath.Base(filename) || filename == "." || filename == ".." {
		return "", "", fmt.Errorf("无效的文件名: %q", filename)
	}
	fullDirPath, err := fs.resolveDir(dirPath)
	if err != nil {
		return "", "", err
	}
	return fullDirPath, filepath.Join(fullDirPath, filename), nil
}

// SaveTextFile 原子性保存文本文件，返回完整路径
func (fs *FileStorage) SaveTextFile(dirPath, filename string, content []byte) (string, error) {
	fullDirPath, fullPath, err := fs.resolve(dirPath, filename)
	if err != nil {
		return "", err
	}

	lock := fs.getFileLock(fullPath)
	lock.Lock()
	defer lock.Unlock()

	if err := os.MkdirAll(fullDirPath, 0755); err != nil {
		return "", fmt.Errorf("创建目录失败: %w", err)
	}

	tempPath := fullPath + ".tmp"
	if err := os.WriteFile(tempPath, content, 0644); err != nil {
		return "", fmt.Errorf("保存临时文件失败: %w", err)
	}

	if err := os.Rename(tempPath, fullPath); err != nil {
		os.Remove(tempPath)
		return "", fmt.Errorf("保存文件失败: %w", err)
	}

	return fullPath, nil
}

// LoadTextFile 读取文本文件
func (fs *FileStorage) LoadTextFile(dirPath, filename string) ([]byte, error) {
	_, fullPath, err := fs.resolve(dirPath, filename)
	if err != nil {
		return nil, err
	}

	lock := fs.getFileLock(fullPath)
	lock.RLock()
	defer lock.RUnlock()

	content, err := os.ReadFile(fullPath)
	if err != nil {
		return nil, fmt.Errorf("读取文件失败: %w", err)
	}
	return content, nil
}

// FileExists 检查文件是否存在
func (fs *FileStorage) FileExists(dirPath, filename string) bool {
	_, fullPath, err := fs.resolve(dirPath, filename)
	if err != nil {
		return false
	}
	_, err = os.Stat(fullPath)
	return err == nil
}

// ListFiles 列出目录下的文件（按名称排序），目录不存在时返回空列表
func (fs *FileStorage) ListFiles(dirPath string) ([]string, error) {
	fullPath, err := fs.resolveDir(dirPath)
	if err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(fullPath)
	if err != nil {
		if os.IsNotExist(err) {
			return []string{}, nil
		}
		return nil, fmt.Errorf("读取目录失败: %w", err)
	}

	files := make([]string, 0, len(entries))
	for _, entry := range entries {
		if !entry.IsDir() && !strings.HasSuffix(entry.Name(), ".tmp") {
			files = append(files, entry.Name())
		}
	}
	sort.Strings(files)
	return files, nil
}

// RemoveDir 删除 BaseDir 下的子目录及其文件锁，目录不存在时不报错
func (fs *FileStorage) RemoveDir(dirPath string) error {
	fullDirPath, err := fs.resolveDir(dirPath)
	if err != nil {
		return err
	}
	if fullDirPath == filepath.Clean(fs.BaseDir) {
		return fmt.Errorf("不能删除存储根目录")
	}

	prefix := fullDirPath + string(filepath.Separator)
	fs.fileLocks.Range(func(key, _ interface{}) bool {
		if strings.HasPrefix(key.(string), prefix) {
			fs.fileLocks.Delete(key)
		}
		return true
	})

	if err := os.RemoveAll(fullDirPath); err != nil {
		return fmt.Errorf("删除目录失败: %w", err)
	}
	return nil
}

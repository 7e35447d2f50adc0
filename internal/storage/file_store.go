package storage

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	llmimage "github.com/BaSui01/imagegate/llm/image"
)

// ErrNotFound 位置不存在
var ErrNotFound = errors.New("artifact not found")

// Store 持久化已通过审核的图像，返回可定位的位置
type Store interface {
	Store(ctx context.Context, img *llmimage.StandardizedImage) (string, error)
}

// Config 文件存储配置
type Config struct {
	// Dir 存放标准化后且通过审核的图像
	Dir string `yaml:"dir" json:"dir"`
	// RawDir 存放下载得到的原始字节，为空时使用 Dir/raw
	RawDir string `yaml:"raw_dir" json:"raw_dir"`
}

// DefaultConfig 返回默认配置
func DefaultConfig() Config {
	return Config{Dir: "./data/images"}
}

// FileStore 是基于本地文件系统的存储。
// 每个文件先写入同目录的临时文件再重命名，读者不会看到半写入的文件。
type FileStore struct {
	dir    string
	rawDir string
	logger *zap.Logger
}

// NewFileStore 创建文件存储并确保目录存在
func NewFileStore(cfg Config, logger *zap.Logger) (*FileStore, error) {
	if cfg.Dir == "" {
		return nil, fmt.Errorf("storage dir is required")
	}
	if cfg.RawDir == "" {
		cfg.RawDir = filepath.Join(cfg.Dir, "raw")
	}
	for _, dir := range []string{cfg.Dir, cfg.RawDir} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create storage directory: %w", err)
		}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FileStore{
		dir:    cfg.Dir,
		rawDir: cfg.RawDir,
		logger: logger.With(zap.String("component", "file_store")),
	}, nil
}

// Store 实现 Store
func (s *FileStore) Store(ctx context.Context, img *llmimage.StandardizedImage) (string, error) {
	if img == nil || len(img.Data) == 0 {
		return "", fmt.Errorf("image is empty")
	}
	id := img.ArtifactID
	if id == "" {
		id = uuid.NewString()
	}
	if err := validateID(id); err != nil {
		return "", err
	}

	path := filepath.Join(s.dir, id+img.Format.Extension())
	if err := writeAtomic(ctx, path, img.Data); err != nil {
		return "", fmt.Errorf("failed to store image %s: %w", id, err)
	}
	s.logger.Info("image stored", zap.String("artifact_id", id), zap.String("path", path))
	return path, nil
}

// WriteRaw 实现 image.ArtifactWriter
func (s *FileStore) WriteRaw(ctx context.Context, id string, raw *llmimage.RawImage) (string, error) {
	if raw == nil || len(raw.Data) == 0 {
		return "", fmt.Errorf("raw image is empty")
	}
	if err := validateID(id); err != nil {
		return "", err
	}

	path := filepath.Join(s.rawDir, id+extensionFor(raw.ContentType))
	if err := writeAtomic(ctx, path, raw.Data); err != nil {
		return "", fmt.Errorf("failed to write raw image %s: %w", id, err)
	}
	s.logger.Debug("raw image written", zap.String("artifact_id", id), zap.Int("bytes", len(raw.Data)))
	return path, nil
}

// DiscardRaw 删除某个工件的原始字节，不存在时不报错
func (s *FileStore) DiscardRaw(ctx context.Context, id string) error {
	if err := validateID(id); err != nil {
		return err
	}
	matches, err := filepath.Glob(filepath.Join(s.rawDir, id+".*"))
	if err != nil {
		return err
	}
	for _, m := range matches {
		if strings.Contains(filepath.Base(m), ".tmp-") {
			continue
		}
		if err := os.Remove(m); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("failed to discard raw image %s: %w", id, err)
		}
	}
	return nil
}

// Dir 返回已审核图像目录
func (s *FileStore) Dir() string { return s.dir }

// RawDir 返回原始字节目录
func (s *FileStore) RawDir() string { return s.rawDir }

// Exists 检查位置是否仍然指向本存储中的文件
func (s *FileStore) Exists(location string) bool {
	if !s.owns(location) {
		return false
	}
	info, err := os.Stat(location)
	return err == nil && info.Mode().IsRegular()
}

// Read 读取某个位置的内容
func (s *FileStore) Read(location string) ([]byte, error) {
	if !s.owns(location) {
		return nil, ErrNotFound
	}
	data, err := os.ReadFile(location)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrNotFound
	}
	return data, err
}

func (s *FileStore) owns(location string) bool {
	rel, err := filepath.Rel(s.dir, location)
	return err == nil && rel != "." && !strings.HasPrefix(rel, "..")
}

func validateID(id string) error {
	if id == "" || strings.ContainsAny(id, `/\`) || id == "." || id == ".." {
		return fmt.Errorf("invalid artifact id %q", id)
	}
	return nil
}

func extensionFor(contentType string) string {
	switch {
	case strings.HasPrefix(contentType, "image/jpeg"):
		return ".jpg"
	case strings.HasPrefix(contentType, "image/webp"):
		return ".webp"
	case strings.HasPrefix(contentType, "image/gif"):
		return ".gif"
	case strings.HasPrefix(contentType, "image/png"):
		return ".png"
	default:
		return ".bin"
	}
}

// writeAtomic 原子写: 写入临时文件后重命名
func writeAtomic(ctx context.Context, path string, data []byte) (err error) {
	if err := ctx.Err(); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	defer func() {
		if err != nil {
			_ = os.Remove(tmpPath)
		}
	}()

	if _, err = tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err = tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err = tmp.Close(); err != nil {
		return err
	}
	if err = os.Chmod(tmpPath, 0644); err != nil {
		return err
	}
	// 调用方在写入期间取消时不发布文件
	if err = ctx.Err(); err != nil {
		return err
	}
	return os.Rename(tmpPath, path)
}

package imaging

import (
	"bytes"
	"fmt"
	"image"
	_ "image/gif"
	"image/jpeg"
	"image/png"

	"go.uber.org/zap"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"

	"github.com/BaSui01/imagegate/internal/pool"
	llmimage "github.com/BaSui01/imagegate/llm/image"
)

// MaxSourcePixels 限制待解码图像的像素数，超出时不解码
const MaxSourcePixels = 40_000_000

// Config 规范输出参数
type Config struct {
	Width       int             `yaml:"width" json:"width"`
	Height      int             `yaml:"height" json:"height"`
	Format      llmimage.Format `yaml:"format" json:"format"`
	JPEGQuality int             `yaml:"jpeg_quality" json:"jpeg_quality"`
}

// DefaultConfig 返回默认配置：512x512 PNG
func DefaultConfig() Config {
	return Config{
		Width:       512,
		Height:      512,
		Format:      llmimage.FormatPNG,
		JPEGQuality: 90,
	}
}

// Validate 校验配置
func (c Config) Validate() error {
	if c.Width <= 0 || c.Height <= 0 {
		return fmt.Errorf("canonical size must be positive, got %dx%d", c.Width, c.Height)
	}
	switch c.Format {
	case llmimage.FormatPNG, llmimage.FormatJPEG:
	default:
		return fmt.Errorf("unsupported output format %q", c.Format)
	}
	if c.Format == llmimage.FormatJPEG && (c.JPEGQuality < 1 || c.JPEGQuality > 100) {
		return fmt.Errorf("jpeg_quality must be within [1, 100], got %d", c.JPEGQuality)
	}
	return nil
}

// Normalizer 把任意支持的输入格式(PNG、JPEG、GIF、WebP)转换为规范尺寸与编码。
// 只持有只读配置，可并发使用。
type Normalizer struct {
	cfg       Config
	maxPixels int
	logger    *zap.Logger
}

// NewNormalizer 创建标准化器
func NewNormalizer(cfg Config, logger *zap.Logger) (*Normalizer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Normalizer{
		cfg:       cfg,
		maxPixels: MaxSourcePixels,
		logger:    logger.With(zap.String("component", "normalizer")),
	}, nil
}

// Normalize 实现 image.Normalizer
func (n *Normalizer) Normalize(raw *llmimage.RawImage) (*llmimage.StandardizedImage, error) {
	if raw == nil || len(raw.Data) == 0 {
		return nil, fmt.Errorf("raw image is empty")
	}

	// 先读头部尺寸，避免为超大图像分配内存
	hdr, _, err := image.DecodeConfig(bytes.NewReader(raw.Data))
	if err != nil {
		return nil, fmt.Errorf("decode %s header: %w", raw.ContentType, err)
	}
	if hdr.Width <= 0 || hdr.Height <= 0 {
		return nil, fmt.Errorf("invalid source dimensions %dx%d", hdr.Width, hdr.Height)
	}
	if hdr.Width > n.maxPixels/hdr.Height {
		return nil, fmt.Errorf("source %dx%d exceeds %d pixels", hdr.Width, hdr.Height, n.maxPixels)
	}

	src, srcFormat, err := image.Decode(bytes.NewReader(raw.Data))
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", raw.ContentType, err)
	}

	bounds := src.Bounds()
	var out image.Image = src
	if bounds.Dx() != n.cfg.Width || bounds.Dy() != n.cfg.Height {
		dst := image.NewRGBA(image.Rect(0, 0, n.cfg.Width, n.cfg.Height))
		draw.CatmullRom.Scale(dst, dst.Bounds(), src, bounds, draw.Over, nil)
		out = dst
	}

	buf := pool.ByteBufferPool.Get()
	defer pool.ByteBufferPool.Put(buf)
	switch n.cfg.Format {
	case llmimage.FormatJPEG:
		err = jpeg.Encode(buf, out, &jpeg.Options{Quality: n.cfg.JPEGQuality})
	default:
		err = png.Encode(buf, out)
	}
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", n.cfg.Format, err)
	}

	n.logger.Debug("image normalized",
		zap.String("source_format", srcFormat),
		zap.Int("source_width", bounds.Dx()),
		zap.Int("source_height", bounds.Dy()),
		zap.Int("bytes", buf.Len()),
	)

	return &llmimage.StandardizedImage{
		Data:   bytes.Clone(buf.Bytes()),
		Format: n.cfg.Format,
		Width:  n.cfg.Width,
		Height: n.cfg.Height,
	}, nil
}

package image

import (
	"context"
	"fmt"
	"strings"

	"github.com/BaSui01/imagegate/llm/retry"
)

// Size 是像素尺寸，序列化为 "512x512".
type Size struct {
	Width  int `json:"width" yaml:"width"`
	Height int `json:"height" yaml:"height"`
}

// String 返回 WxH 形式.
func (s Size) String() string {
	return fmt.Sprintf("%dx%d", s.Width, s.Height)
}

// ParseSize 解析 "WxH".
func ParseSize(s string) (Size, error) {
	var size Size
	if _, err := fmt.Sscanf(strings.ToLower(strings.TrimSpace(s)), "%dx%d", &size.Width, &size.Height); err != nil {
		return Size{}, fmt.Errorf("invalid size %q: %w", s, err)
	}
	if size.Width <= 0 || size.Height <= 0 {
		return Size{}, fmt.Errorf("invalid size %q: dimensions must be positive", s)
	}
	return size, nil
}

// ResponseFormat 远端返回图像的方式.
type ResponseFormat string

const (
	ResponseFormatURL    ResponseFormat = "url"
	ResponseFormatInline ResponseFormat = "b64_json"
)

// Format 是标准化后的编码格式.
type Format string

const (
	FormatPNG  Format = "png"
	FormatJPEG Format = "jpeg"
)

// ContentType 返回格式对应的 MIME 类型.
func (f Format) ContentType() string {
	switch f {
	case FormatJPEG:
		return "image/jpeg"
	default:
		return "image/png"
	}
}

// Extension 返回文件扩展名(含点).
func (f Format) Extension() string {
	switch f {
	case FormatJPEG:
		return ".jpg"
	default:
		return ".png"
	}
}

// GenerationRequest 单次生成请求，构造后不再修改.
type GenerationRequest struct {
	Prompt         string         `json:"prompt"`
	N              int            `json:"n"`
	Size           Size           `json:"size"`
	ResponseFormat ResponseFormat `json:"response_format"`
}

// ImageReference 是成功响应中的图像引用：URL 或内联 base64 二选一.
type ImageReference struct {
	URL           string `json:"url,omitempty"`
	B64JSON       string `json:"b64_json,omitempty"`
	RevisedPrompt string `json:"revised_prompt,omitempty"`
}

// RawImage 是下载得到的原始字节，交给标准化之前不会被修改.
type RawImage struct {
	Data        []byte
	ContentType string
}

// StandardizedImage 是标准化后的图像.
// Width/Height/Format 总是等于配置的规范尺寸与格式.
type StandardizedImage struct {
	ArtifactID string `json:"artifact_id"`
	Data       []byte `json:"-"`
	Format     Format `json:"format"`
	Width      int    `json:"width"`
	Height     int    `json:"height"`
}

// Service 是远端生成服务的传输层.
type Service interface {
	// Submit 提交生成请求并返回第一张图像的引用.
	Submit(ctx context.Context, req *GenerationRequest) (*ImageReference, error)
	// Fetch 下载 URL 指向的二进制.
	Fetch(ctx context.Context, url string) (*RawImage, error)
}

// Normalizer 把原始字节转换成规范格式，是纯函数.
type Normalizer interface {
	Normalize(raw *RawImage) (*StandardizedImage, error)
}

// NormalizerFunc 让普通函数满足 Normalizer.
type NormalizerFunc func(raw *RawImage) (*StandardizedImage, error)

// Normalize 实现 Normalizer.
func (f NormalizerFunc) Normalize(raw *RawImage) (*StandardizedImage, error) { return f(raw) }

// ArtifactWriter 持久化原始字节，返回位置.
type ArtifactWriter interface {
	WriteRaw(ctx context.Context, id string, raw *RawImage) (string, error)
}

// AttemptObserver 接收每次尝试的诊断记录(例如指标).
type AttemptObserver interface {
	ObserveAttempt(a retry.Attempt)
}

package image

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/BaSui01/imagegate/internal/tlsutil"
)

// maxErrorBody 限制错误响应体的读取长度.
const maxErrorBody = 4 << 10

// MaxImageBytes 是下载图像的大小上限.
const MaxImageBytes = 32 << 20

// errMalformedResponse 表示 2xx 响应缺少图像引用.
var errMalformedResponse = errors.New("malformed generation response")

// errImageTooLarge 表示下载内容超过 MaxImageBytes.
var errImageTooLarge = errors.New("image body too large")

// StatusError 是远端返回的非 2xx 状态.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("remote error: status=%d body=%s", e.StatusCode, e.Body)
}

// DownloadError 表示生成成功后二进制下载失败.
type DownloadError struct {
	URL        string
	StatusCode int
	Err        error
}

func (e *DownloadError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("image download failed: status=%d", e.StatusCode)
	}
	return fmt.Sprintf("image download failed: %v", e.Err)
}

func (e *DownloadError) Unwrap() error { return e.Err }

// OpenAIService 通过 OpenAI Images API 执行生成.
type OpenAIService struct {
	cfg      Config
	client   *http.Client
	maxImage int64
}

// NewOpenAIService 创建新的 OpenAI 图像服务.
func NewOpenAIService(cfg Config) *OpenAIService {
	cfg = cfg.withDefaults()
	return &OpenAIService{
		cfg:      cfg,
		client:   tlsutil.SecureHTTPClient(cfg.Timeout),
		maxImage: MaxImageBytes,
	}
}

// NewOpenAIServiceWithClient 使用自定义 http.Client(测试或代理场景).
func NewOpenAIServiceWithClient(cfg Config, client *http.Client) *OpenAIService {
	s := NewOpenAIService(cfg)
	if client != nil {
		s.client = client
	}
	return s
}

func (s *OpenAIService) Name() string { return "openai-image" }

type dalleRequest struct {
	Model          string `json:"model,omitempty"`
	Prompt         string `json:"prompt"`
	N              int    `json:"n"`
	Size           string `json:"size"`
	ResponseFormat string `json:"response_format"`
}

type dalleResponse struct {
	Created int64            `json:"created"`
	Data    []ImageReference `json:"data"`
}

// Submit 从文本提示生成图像.
func (s *OpenAIService) Submit(ctx context.Context, req *GenerationRequest) (*ImageReference, error) {
	body := dalleRequest{
		Model:          s.cfg.Model,
		Prompt:         req.Prompt,
		N:              req.N,
		Size:           req.Size.String(),
		ResponseFormat: string(req.ResponseFormat),
	}
	if body.N == 0 {
		body.N = 1
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to encode request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		strings.TrimRight(s.cfg.BaseURL, "/")+"/v1/images/generations",
		bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+s.cfg.APIKey)
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("User-Agent", s.cfg.UserAgent)

	resp, err := s.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("dalle request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		errBody, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, &StatusError{StatusCode: resp.StatusCode, Body: string(errBody)}
	}

	var dResp dalleResponse
	if err := json.NewDecoder(resp.Body).Decode(&dResp); err != nil {
		return nil, fmt.Errorf("%w: %v", errMalformedResponse, err)
	}
	if len(dResp.Data) == 0 {
		return nil, fmt.Errorf("%w: empty data list", errMalformedResponse)
	}
	ref := dResp.Data[0]
	if ref.URL == "" && ref.B64JSON == "" {
		return nil, fmt.Errorf("%w: result has neither url nor b64_json", errMalformedResponse)
	}
	return &ref, nil
}

// Fetch 下载生成结果的二进制.
func (s *OpenAIService) Fetch(ctx context.Context, url string) (*RawImage, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, &DownloadError{URL: url, Err: err}
	}
	httpReq.Header.Set("User-Agent", s.cfg.UserAgent)

	resp, err := s.client.Do(httpReq)
	if err != nil {
		return nil, &DownloadError{URL: url, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &DownloadError{URL: url, StatusCode: resp.StatusCode}
	}

	if resp.ContentLength > s.maxImage {
		return nil, &DownloadError{URL: url, Err: fmt.Errorf("%w: content length %d", errImageTooLarge, resp.ContentLength)}
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, s.maxImage+1))
	if err != nil {
		return nil, &DownloadError{URL: url, Err: err}
	}
	if int64(len(data)) > s.maxImage {
		return nil, &DownloadError{URL: url, Err: fmt.Errorf("%w: limit %d bytes", errImageTooLarge, s.maxImage)}
	}
	if len(data) == 0 {
		return nil, &DownloadError{URL: url, Err: errors.New("empty body")}
	}

	contentType := resp.Header.Get("Content-Type")
	if contentType == "" || contentType == "application/octet-stream" {
		contentType = http.DetectContentType(data)
	}
	return &RawImage{Data: data, ContentType: contentType}, nil
}

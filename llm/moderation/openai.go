package moderation

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	stdimage "image"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/BaSui01/imagegate/internal/tlsutil"
	"github.com/BaSui01/imagegate/llm/image"
	"github.com/BaSui01/imagegate/llm/retry"
	"github.com/BaSui01/imagegate/types"
)

// errTransientScoring 标记可重试的审核失败(限流、5xx、网络错误).
var errTransientScoring = errors.New("transient moderation failure")

// OpenAIScorer使用OpenAI moderation API对图像评分.
// 分数取各类别评分的最大值.
type OpenAIScorer struct {
	cfg     OpenAIConfig
	client  *http.Client
	retryer retry.Retryer
	logger  *zap.Logger
}

// NewOpenAIScorer创建了一个新的OpenAI评分器.
// retryer 为 nil 时不重试.
func NewOpenAIScorer(cfg OpenAIConfig, retryer retry.Retryer, logger *zap.Logger) *OpenAIScorer {
	def := DefaultOpenAIConfig()
	if cfg.BaseURL == "" {
		cfg.BaseURL = def.BaseURL
	}
	if cfg.Model == "" {
		cfg.Model = def.Model
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = def.UserAgent
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.With(zap.String("component", "openai_scorer"))
	if retryer == nil {
		retryer = retry.NewBackoffRetryer(retry.Policy{MaxAttempts: 1}, logger)
	}
	return &OpenAIScorer{
		cfg:     cfg,
		client:  tlsutil.SecureHTTPClient(cfg.Timeout),
		retryer: retryer,
		logger:  logger,
	}
}

// NewScoringRetryer 返回只重试瞬时审核失败的重试器.
func NewScoringRetryer(policy retry.Policy, logger *zap.Logger, opts ...retry.RetryerOption) retry.Retryer {
	opts = append([]retry.RetryerOption{retry.WithRetryableErrors(errTransientScoring)}, opts...)
	return retry.NewBackoffRetryer(policy, logger, opts...)
}

func (s *OpenAIScorer) Name() string { return "openai-moderation" }

type openAIModerationRequest struct {
	Model string `json:"model,omitempty"`
	Input any    `json:"input"`
}

type openAIModerationResponse struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Results []struct {
		Flagged        bool               `json:"flagged"`
		CategoryScores map[string]float64 `json:"category_scores"`
	} `json:"results"`
}

// Score 实现 Scorer.
func (s *OpenAIScorer) Score(ctx context.Context, img *image.StandardizedImage) (Score, error) {
	if img == nil || len(img.Data) == 0 {
		return Score{}, types.NewError(types.ErrScoringUnavailable, "image is empty")
	}
	if _, _, err := stdimage.DecodeConfig(bytes.NewReader(img.Data)); err != nil {
		return Score{}, types.NewError(types.ErrScoringUnavailable, "image cannot be decoded").WithCause(err)
	}

	contentType := img.Format.ContentType()
	dataURL := "data:" + contentType + ";base64," + base64.StdEncoding.EncodeToString(img.Data)
	body := openAIModerationRequest{
		Model: s.cfg.Model,
		Input: []map[string]any{{
			"type":      "image_url",
			"image_url": map[string]string{"url": dataURL},
		}},
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return Score{}, fmt.Errorf("failed to encode request: %w", err)
	}

	resp, err := retry.DoWithResultTyped[*openAIModerationResponse](s.retryer, ctx, func() (*openAIModerationResponse, error) {
		return s.moderate(ctx, payload)
	})
	if err != nil {
		return Score{}, err
	}
	if len(resp.Results) == 0 {
		return Score{}, types.NewError(types.ErrScoringUnavailable, "moderation response has no results")
	}

	raw := resp.Results[0].CategoryScores
	scores := mapScores(raw)
	category, value := maxCategory(raw)
	s.logger.Debug("image scored",
		zap.String("artifact_id", img.ArtifactID),
		zap.String("model", resp.Model),
		zap.Bool("flagged", resp.Results[0].Flagged),
		zap.String("category", category),
		zap.Float64("score", value),
	)
	return Score{InappropriateContent: value, Category: category, Categories: &scores}, nil
}

func (s *OpenAIScorer) moderate(ctx context.Context, payload []byte) (*openAIModerationResponse, error) {
	endpoint := fmt.Sprintf("%s/moderations", strings.TrimRight(s.cfg.BaseURL, "/"))
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+s.cfg.APIKey)
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("User-Agent", s.cfg.UserAgent)

	resp, err := s.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: moderation request failed: %v", errTransientScoring, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
		errBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		return nil, fmt.Errorf("%w: status=%d body=%s", errTransientScoring, resp.StatusCode, string(errBody))
	}
	if resp.StatusCode >= 400 {
		errBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		return nil, types.NewError(types.ErrScoringUnavailable,
			fmt.Sprintf("moderation error: status=%d body=%s", resp.StatusCode, string(errBody))).
			WithHTTPStatus(resp.StatusCode)
	}

	var oResp openAIModerationResponse
	if err := json.NewDecoder(resp.Body).Decode(&oResp); err != nil {
		return nil, types.NewError(types.ErrScoringUnavailable, "failed to decode response").WithCause(err)
	}
	return &oResp, nil
}

// maxCategory 在接口返回的全部类别上取最大值,包括CategoryScores未列出的类别.
// 分数相同时取名称较小者,保证结果确定.越界值原样返回,由Gate拒绝.
func maxCategory(scores map[string]float64) (string, float64) {
	best, bestScore := "", 0.0
	for name, v := range scores {
		if !inUnitInterval(v) {
			return name, v
		}
		if v > bestScore || (v == bestScore && best != "" && name < best) {
			best, bestScore = name, v
		}
	}
	return best, bestScore
}

func mapScores(scores map[string]float64) CategoryScores {
	return CategoryScores{
		Hate:            scores["hate"],
		HateThreatening: scores["hate/threatening"],
		Harassment:      scores["harassment"],
		SelfHarm:        scores["self-harm"],
		SelfHarmIntent:  scores["self-harm/intent"],
		Sexual:          scores["sexual"],
		SexualMinors:    scores["sexual/minors"],
		Violence:        scores["violence"],
		ViolenceGraphic: scores["violence/graphic"],
		Illicit:         scores["illicit"],
		IllicitViolent:  scores["illicit/violent"],
	}
}

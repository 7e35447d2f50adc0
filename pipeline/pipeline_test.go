package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	stdimage "image"
	"image/png"
	"net/http"
	"net/http/httptest"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/BaSui01/imagegate/internal/imaging"
	"github.com/BaSui01/imagegate/internal/storage"
	"github.com/BaSui01/imagegate/llm/image"
	"github.com/BaSui01/imagegate/llm/moderation"
	"github.com/BaSui01/imagegate/llm/retry"
	"github.com/BaSui01/imagegate/types"
)

// newRemote 返回一个先限流 failures 次、随后成功的生成服务
func newRemote(t *testing.T, failures int32, body []byte) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var submits atomic.Int32
	mux := http.NewServeMux()
	var srv *httptest.Server
	mux.HandleFunc("/v1/images/generations", func(w http.ResponseWriter, r *http.Request) {
		n := submits.Add(1)
		w.Header().Set("Content-Type", "application/json")
		if n <= failures {
			w.WriteHeader(http.StatusTooManyRequests)
			_, _ = w.Write([]byte(`{"error":{"message":"slow down"}}`))
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"created": time.Now().Unix(),
			"data":    []map[string]string{{"url": srv.URL + "/files/out.png"}},
		})
	})
	mux.HandleFunc("/files/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write(body)
	})
	srv = httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, &submits
}

func newEndToEnd(t *testing.T, baseURL string, score float64, attempts int) (*Orchestrator, *storage.FileStore) {
	t.Helper()
	logger := zaptest.NewLogger(t)

	store, err := storage.NewFileStore(storage.Config{Dir: t.TempDir()}, logger)
	require.NoError(t, err)
	normalizer, err := imaging.NewNormalizer(imaging.DefaultConfig(), logger)
	require.NoError(t, err)

	cfg := image.DefaultConfig()
	cfg.APIKey = "sk-test"
	cfg.BaseURL = baseURL
	cfg.RequestsPerMinute = 0

	policy := retry.Policy{MaxAttempts: attempts, BaseDelay: 5 * time.Second, Strategy: retry.StrategyFixed}
	client, err := image.NewClient(cfg, policy, image.NewOpenAIService(cfg), normalizer, logger,
		image.WithArtifactWriter(store),
		image.WithSleeper(func(ctx context.Context, _ time.Duration) error { return ctx.Err() }),
	)
	require.NoError(t, err)

	gate, err := moderation.NewGate(fixedScore(score), logger)
	require.NoError(t, err)

	o, err := NewOrchestrator(Config{Threshold: moderation.DefaultThreshold}, client, gate, store, logger)
	require.NoError(t, err)
	return o, store
}

func TestPipeline_EndToEndStoresCanonicalImage(t *testing.T) {
	srv, submits := newRemote(t, 1, encodePNG(t, 64, 32))
	o, store := newEndToEnd(t, srv.URL, 0.3, 3)

	res, err := o.Run(context.Background(), "a toddler-friendly puzzle of a giraffe")
	require.NoError(t, err)
	assert.Equal(t, OutcomeStored, res.Outcome)
	assert.Equal(t, int32(2), submits.Load())

	data, err := store.Read(res.Location)
	require.NoError(t, err)
	cfg, format, err := stdimage.DecodeConfig(bytes.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, "png", format)
	assert.Equal(t, 512, cfg.Width)
	assert.Equal(t, 512, cfg.Height)

	_, err = png.Decode(bytes.NewReader(data))
	require.NoError(t, err)
}

func TestPipeline_EndToEndRejectionLeavesNothingBehind(t *testing.T) {
	srv, _ := newRemote(t, 0, encodePNG(t, 8, 8))
	o, store := newEndToEnd(t, srv.URL, 0.9, 3)

	res, err := o.Run(context.Background(), "something the gate will reject")
	require.NoError(t, err)
	assert.Equal(t, OutcomeRejected, res.Outcome)
	assert.False(t, store.Exists(res.Location))

	entries, err := os.ReadDir(store.RawDir())
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestPipeline_EndToEndRateLimitExhausted(t *testing.T) {
	srv, submits := newRemote(t, 100, encodePNG(t, 8, 8))
	o, _ := newEndToEnd(t, srv.URL, 0.1, 3)

	res, err := o.Run(context.Background(), "a busy day")
	require.Error(t, err)
	assert.ErrorIs(t, err, types.ErrRateLimitExhausted)
	assert.Equal(t, OutcomeFailed, res.Outcome)
	// 编排器不会在客户端的预算之外再重试
	assert.Equal(t, int32(3), submits.Load())
}

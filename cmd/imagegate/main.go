// =============================================================================
// imagegate 主入口
// =============================================================================
// 生成图像、经审核闸门判定、只持久化通过的图像
//
// 使用方法:
//
//	imagegate generate --prompt "a red fox"          # 单个提示词
//	imagegate generate --config config.yaml "a fox"  # 指定配置文件
//	imagegate batch --file prompts.txt               # 批量运行
//	imagegate version                                # 显示版本信息
// =============================================================================

package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/BaSui01/imagegate/config"
	"github.com/BaSui01/imagegate/pipeline"
)

// =============================================================================
// 📦 版本信息（构建时注入）
// =============================================================================

var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

// =============================================================================
// 🎯 主函数
// =============================================================================

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "generate":
		os.Exit(runGenerate(os.Args[2:], os.Stdout))
	case "batch":
		os.Exit(runBatch(os.Args[2:], os.Stdout))
	case "version":
		printVersion()
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

// =============================================================================
// 🖼️ generate / batch 命令
// =============================================================================

func runGenerate(args []string, out io.Writer) int {
	fs := flag.NewFlagSet("generate", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to config file")
	prompt := fs.String("prompt", "", "Prompt to generate")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if *prompt == "" {
		*prompt = strings.Join(fs.Args(), " ")
	}

	return run(*configPath, out, func(ctx context.Context, o *pipeline.Orchestrator) ([]*pipeline.Result, error) {
		res, err := o.Run(ctx, *prompt)
		return []*pipeline.Result{res}, err
	})
}

func runBatch(args []string, out io.Writer) int {
	fs := flag.NewFlagSet("batch", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to config file")
	file := fs.String("file", "", "File with one prompt per line")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	prompts := fs.Args()
	if *file != "" {
		fromFile, err := readPrompts(*file)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to read prompts: %v\n", err)
			return 1
		}
		prompts = append(prompts, fromFile...)
	}
	if len(prompts) == 0 {
		fmt.Fprintln(os.Stderr, "No prompts given")
		return 2
	}

	return run(*configPath, out, func(ctx context.Context, o *pipeline.Orchestrator) ([]*pipeline.Result, error) {
		results, err := o.RunBatch(ctx, prompts)
		if err != nil {
			return results, err
		}
		return results, pipeline.JoinErrors(results)
	})
}

type runFunc func(ctx context.Context, o *pipeline.Orchestrator) ([]*pipeline.Result, error)

// run 加载配置、装配组件、执行 fn 并输出结果，返回退出码
func run(configPath string, out io.Writer, fn runFunc) int {
	loader := config.NewLoader().WithValidator((*config.Config).Validate)
	if configPath != "" {
		loader = loader.WithConfigPath(configPath)
	}
	cfg, err := loader.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 1
	}

	logger := initLogger(cfg.Log)
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	code, err := execute(ctx, cfg, logger, out, fn)
	if err != nil {
		logger.Error("run failed", zap.Error(err))
	}
	return code
}

// execute 与 run 分离，便于在测试中注入配置
func execute(ctx context.Context, cfg *config.Config, logger *zap.Logger, out io.Writer, fn runFunc) (int, error) {
	app, err := NewApp(ctx, cfg, logger)
	if err != nil {
		return 1, err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if cerr := app.Close(shutdownCtx); cerr != nil {
			logger.Warn("shutdown incomplete", zap.Error(cerr))
		}
	}()

	results, runErr := fn(ctx, app.Orchestrator())
	if err := writeResults(out, results); err != nil {
		return 1, err
	}

	logger.Info("run complete", zap.Any("outcomes", pipeline.Summarize(results)))
	if runErr != nil {
		return 1, runErr
	}
	return 0, nil
}

// resultView 是结果的 JSON 输出形式
type resultView struct {
	RunID      string  `json:"run_id"`
	BatchID    string  `json:"batch_id,omitempty"`
	Prompt     string  `json:"prompt"`
	Outcome    string  `json:"outcome"`
	ArtifactID string  `json:"artifact_id,omitempty"`
	Location   string  `json:"location,omitempty"`
	Approved   bool    `json:"approved"`
	Score      float64 `json:"score"`
	Threshold  float64 `json:"threshold"`
	Reason     string  `json:"reason,omitempty"`
	AuditID    string  `json:"audit_id,omitempty"`
	DurationMS int64   `json:"duration_ms"`
	Error      string  `json:"error,omitempty"`
}

func writeResults(out io.Writer, results []*pipeline.Result) error {
	enc := json.NewEncoder(out)
	for _, r := range results {
		if r == nil {
			continue
		}
		v := resultView{
			RunID:      r.RunID,
			BatchID:    r.BatchID,
			Prompt:     r.Prompt,
			Outcome:    string(r.Outcome),
			ArtifactID: r.ArtifactID,
			Location:   r.Location,
			Approved:   r.Decision.Approved,
			Score:      r.Decision.Score,
			Threshold:  r.Decision.Threshold,
			Reason:     r.Decision.Reason,
			AuditID:    r.AuditID,
			DurationMS: r.Duration.Milliseconds(),
		}
		if r.Err != nil {
			v.Error = r.Err.Error()
		}
		if err := enc.Encode(v); err != nil {
			return err
		}
	}
	return nil
}

func readPrompts(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var prompts []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		prompts = append(prompts, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	if len(prompts) == 0 {
		return nil, errors.New("prompt file is empty")
	}
	return prompts, nil
}

// =============================================================================
// 📋 版本和帮助
// =============================================================================

func printVersion() {
	fmt.Printf("imagegate %s\n", Version)
	fmt.Printf("  Build Time: %s\n", BuildTime)
	fmt.Printf("  Git Commit: %s\n", GitCommit)
}

func printUsage() {
	fmt.Println(`imagegate - moderated image generation

Usage:
  imagegate <command> [options]

Commands:
  generate  Generate one image and store it if approved
  batch     Run many prompts concurrently
  version   Show version information
  help      Show this help message

Options for 'generate':
  --config <path>   Path to configuration file (YAML)
  --prompt <text>   Prompt text (or pass it as arguments)

Options for 'batch':
  --config <path>   Path to configuration file (YAML)
  --file <path>     File with one prompt per line ('#' starts a comment)

Environment:
  IMAGEGATE_*       Overrides any config value, e.g. IMAGEGATE_MODERATION_THRESHOLD=0.7
  OPENAI_API_KEY    Used when generation.api_key is empty

Examples:
  imagegate generate --prompt "a toddler-friendly puzzle of a giraffe"
  imagegate batch --config /etc/imagegate/config.yaml --file prompts.txt
  imagegate version`)
}

// =============================================================================
// 🔧 日志初始化
// =============================================================================

func initLogger(cfg config.LogConfig) *zap.Logger {
	// 解析日志级别
	var level zapcore.Level
	switch cfg.Level {
	case "debug":
		level = zapcore.DebugLevel
	case "info":
		level = zapcore.InfoLevel
	case "warn":
		level = zapcore.WarnLevel
	case "error":
		level = zapcore.ErrorLevel
	default:
		level = zapcore.InfoLevel
	}

	// 配置编码器
	var encoderConfig zapcore.EncoderConfig
	encoding := "json"
	if cfg.Format == "console" {
		encoderConfig = zap.NewDevelopmentEncoderConfig()
		encoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		encoding = "console"
	} else {
		encoderConfig = zap.NewProductionEncoderConfig()
		encoderConfig.TimeKey = "timestamp"
		encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}

	outputs := cfg.OutputPaths
	if len(outputs) == 0 {
		outputs = []string{"stderr"}
	}

	zapConfig := zap.Config{
		Level:            zap.NewAtomicLevelAt(level),
		Development:      cfg.Format == "console",
		Encoding:         encoding,
		EncoderConfig:    encoderConfig,
		OutputPaths:      outputs,
		ErrorOutputPaths: []string{"stderr"},
	}

	var opts []zap.Option
	if cfg.EnableCaller {
		opts = append(opts, zap.AddCaller())
	}
	if cfg.EnableStacktrace {
		opts = append(opts, zap.AddStacktrace(zapcore.ErrorLevel))
	}

	logger, err := zapConfig.Build(opts...)
	if err != nil {
		// 回退到基本 logger
		logger, _ = zap.NewProduction()
	}

	return logger
}

package agents

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/c4h-ai/orchestrator/internal/models"
	"github.com/c4h-ai/orchestrator/internal/scanner"
)

// Discovery runs the project scanner and parses its manifest. It makes
// no model calls.
type Discovery struct {
	deps Deps
	cfg  scanner.Config
}

func NewDiscovery(deps Deps) (*Discovery, error) {
	cfg := scanner.Config{}
	if agentCfg, err := deps.Config.GetTree("llm_config.agents.discovery.tartxt_config"); err == nil && agentCfg != nil {
		cfg.ScriptPath = agentCfg.GetString("script_path", "")
		for _, p := range agentCfg.GetList("input_paths") {
			if s, ok := p.(string); ok {
				cfg.InputPaths = append(cfg.InputPaths, s)
			}
		}
		for _, p := range agentCfg.GetList("exclusions") {
			if s, ok := p.(string); ok {
				cfg.Exclusions = append(cfg.Exclusions, s)
			}
		}
	}
	return &Discovery{deps: deps, cfg: cfg}, nil
}

func (d *Discovery) Kind() string { return KindDiscovery }

func (d *Discovery) Process(ctx context.Context, wctx Context) models.AgentResult {
	started := time.Now()
	handle := issue(d.deps)

	projectPath := wctx.String("project_path")
	input := map[string]any{"project_path": projectPath}
	if projectPath == "" {
		result := fail("input_error", models.Messages{}, models.Metrics{}, nil, "project_path missing from context")
		emit(d.deps, handle, KindDiscovery, started, input, nil, result.Metrics, result.Error)
		return result
	}

	scanned, err := d.deps.Scanner.Scan(ctx, projectPath, d.cfg)
	if err != nil {
		result := fail("io_error", models.Messages{}, models.Metrics{}, nil, err.Error())
		emit(d.deps, handle, KindDiscovery, started, input, nil, result.Metrics, result.Error)
		return result
	}

	d.deps.Logger.Info("Discovery scan complete",
		zap.String("project_path", projectPath),
		zap.Int("files", len(scanned.Files)),
	)

	files := make(map[string]any, len(scanned.Files))
	for path, content := range scanned.Files {
		files[path] = content
	}
	data := map[string]any{
		"files":      files,
		"raw_output": scanned.Raw,
	}
	metrics := models.Metrics{DurationMS: time.Since(started).Milliseconds()}

	emit(d.deps, handle, KindDiscovery, started, input,
		map[string]any{"file_count": len(scanned.Files)}, metrics, "")

	return models.AgentResult{
		Success: true,
		Data:    data,
		Metrics: metrics,
	}
}

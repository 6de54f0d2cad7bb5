package config

import "fmt"

// Compiled-in continuation defaults, overridable per agent.
const (
	DefaultContinuationAttempts = 5
	DefaultContinuationBuffer   = 1000
)

// AgentView is the flattened configuration an agent sees: the provider
// defaults at llm_config.providers.<provider> with the agent's own subtree
// at llm_config.agents.<kind> merged over them, plus the scalar parameters
// resolved through the full precedence chain.
type AgentView struct {
	Kind        string
	Provider    string
	Model       string
	Temperature float64
	MaxTokens   int
	APIKeyEnv   string
	BaseURL     string

	Continuation ContinuationSettings

	// Options is the merged provider+agent subtree for anything not
	// promoted to a field (prompts, model_params, tartxt_config, ...).
	Options Tree
}

// ContinuationSettings controls stitching of length-truncated responses.
type ContinuationSettings struct {
	Enabled     bool
	MaxAttempts int
	TokenBuffer int
}

// Prompt returns the named prompt template from the agent view.
func (v *AgentView) Prompt(name string) (string, error) {
	prompts, err := v.Options.GetTree("prompts")
	if err != nil {
		return "", err
	}
	if prompts == nil {
		return "", NewError(fmt.Sprintf("llm_config.agents.%s.prompts", v.Kind), "no prompts configured")
	}
	s, ok := prompts.Get(name)
	if !ok {
		return "", NewError(fmt.Sprintf("llm_config.agents.%s.prompts.%s", v.Kind, name), "prompt template not found")
	}
	str, ok := s.(string)
	if !ok {
		return "", NewError(fmt.Sprintf("llm_config.agents.%s.prompts.%s", v.Kind, name), "prompt template must be a string, found %T", s)
	}
	return str, nil
}

// ResolveAgentView builds the agent-scoped view of a workflow configuration.
// Parameter precedence, highest first: the per-agent override, the
// llm_config.default_* value, the provider's default_* value, then the
// compiled-in default. A parameter with no value anywhere is a config error.
func ResolveAgentView(cfg Tree, kind string) (*AgentView, error) {
	agentPath := "llm_config.agents." + kind
	agent, err := cfg.GetTree(agentPath)
	if err != nil {
		return nil, err
	}
	if agent == nil {
		agent = Tree{}
	}

	provider := agent.GetString("provider", cfg.GetString("llm_config.default_provider", ""))
	if provider == "" {
		return nil, NewError(agentPath+".provider", "no provider configured and llm_config.default_provider is unset")
	}

	providerPath := "llm_config.providers." + provider
	providerCfg, err := cfg.GetTree(providerPath)
	if err != nil {
		return nil, err
	}
	if providerCfg == nil {
		return nil, NewError(agentPath+".provider", "unknown provider %q", provider)
	}

	model := firstString(
		agent.GetString("model", ""),
		cfg.GetString("llm_config.default_model", ""),
		providerCfg.GetString("default_model", ""),
	)
	if model == "" {
		return nil, NewError(agentPath+".model", "no model configured for provider %q", provider)
	}

	temperature := providerCfg.GetFloat("default_temperature", 0)
	temperature = cfg.GetFloat("llm_config.default_temperature", temperature)
	if v, ok := agent.Get("temperature"); ok {
		switch n := v.(type) {
		case float64:
			temperature = n
		case int:
			temperature = float64(n)
		default:
			return nil, NewError(agentPath+".temperature", "expected a number, found %T", v)
		}
	}

	view := &AgentView{
		Kind:        kind,
		Provider:    provider,
		Model:       model,
		Temperature: temperature,
		MaxTokens: agent.GetInt("max_tokens",
			cfg.GetInt("llm_config.default_max_tokens",
				providerCfg.GetInt("default_max_tokens", 0))),
		APIKeyEnv:   providerCfg.GetString("api_key_env", ""),
		BaseURL:     providerCfg.GetString("api_base", ""),
		Continuation: ContinuationSettings{
			Enabled:     agent.GetBool("continuation.enabled", true),
			MaxAttempts: agent.GetInt("continuation.max_attempts", DefaultContinuationAttempts),
			TokenBuffer: agent.GetInt("continuation.token_buffer", DefaultContinuationBuffer),
		},
		Options: Merge(providerCfg, agent),
	}
	return view, nil
}

func firstString(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

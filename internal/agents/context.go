package agents

// Context is the mutable workflow context handed from team to team. Keys
// follow the workflow data model: workflow_run_id, project_path, intent,
// input_data, team_id.
type Context map[string]any

// String reads a top-level string value.
func (c Context) String(key string) string {
	if v, ok := c[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

// Map reads a top-level mapping value.
func (c Context) Map(key string) map[string]any {
	if v, ok := c[key]; ok {
		if m, ok := v.(map[string]any); ok {
			return m
		}
	}
	return nil
}

// InputData returns the accumulated upstream agent output.
func (c Context) InputData() map[string]any {
	return c.Map("input_data")
}

// IntentDescription reads intent.description.
func (c Context) IntentDescription() string {
	intent := c.Map("intent")
	if intent == nil {
		return ""
	}
	if s, ok := intent["description"].(string); ok {
		return s
	}
	return ""
}

// Clone copies the context one level deep plus the input_data mapping,
// which is the only part teams mutate.
func (c Context) Clone() Context {
	clone := make(Context, len(c))
	for k, v := range c {
		clone[k] = v
	}
	if input := c.InputData(); input != nil {
		copied := make(map[string]any, len(input))
		for k, v := range input {
			copied[k] = v
		}
		clone["input_data"] = copied
	}
	return clone
}

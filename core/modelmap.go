package core

import "strings"

// passthroughPrefixes marks model families that are already backend
// identifiers and are forwarded unchanged.
var passthroughPrefixes = []string{"gpt-", "o1-", "o3-", "ep-", "doubao-", "deepseek-"}

// ModelMapper resolves client-supplied Claude model names to backend model
// identifiers. Mapping is deterministic and never fails; unrecognized names
// fall back to the big tier.
type ModelMapper struct {
	BigModel    string
	MiddleModel string
	SmallModel  string
}

// NewModelMapper builds a mapper from the configured tier defaults.
func NewModelMapper(cfg *Config) *ModelMapper {
	return &ModelMapper{
		BigModel:    cfg.BigModel,
		MiddleModel: cfg.MiddleModel,
		SmallModel:  cfg.SmallModel,
	}
}

// Map returns the backend model identifier for a client model name. Names
// that already look like backend identifiers pass through unchanged; Claude
// names resolve by capability keyword: haiku to the small tier, sonnet to the
// middle tier, opus to the big tier.
func (m *ModelMapper) Map(clientModel string) string {
	for _, prefix := range passthroughPrefixes {
		if strings.HasPrefix(clientModel, prefix) {
			return clientModel
		}
	}

	modelLower := strings.ToLower(clientModel)
	switch {
	case strings.Contains(modelLower, "haiku"):
		return m.SmallModel
	case strings.Contains(modelLower, "sonnet"):
		return m.MiddleModel
	case strings.Contains(modelLower, "opus"):
		return m.BigModel
	}

	return m.BigModel
}

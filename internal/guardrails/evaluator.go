package guardrails

import "strings"

// Action enumerates evaluator outcomes.
type Action string

const (
	ActionAllow Action = "allow"
	ActionWarn  Action = "warn"
	ActionBlock Action = "block"
)

// Result is the evaluator decision for one stage.
type Result struct {
	Action     Action
	Violations []string
	Category   string
}

// Evaluator runs keyword rules from a parsed config.
type Evaluator struct {
	config Config
}

func NewEvaluator(cfg Config) *Evaluator {
	return &Evaluator{config: cfg}
}

// Check scans the given stage's blocked keywords. Matching is
// case-insensitive substring containment.
func (e *Evaluator) Check(stage, text string) Result {
	if !e.config.Enabled {
		return Result{Action: ActionAllow}
	}
	var keywords []string
	switch stage {
	case StagePrompt:
		keywords = e.config.Prompt.BlockedKeywords
	case StageResponse:
		keywords = e.config.Response.BlockedKeywords
	}
	if violation := matchKeyword(keywords, text); violation != "" {
		return Result{Action: ActionBlock, Violations: []string{violation}, Category: "keyword"}
	}
	return Result{Action: ActionAllow}
}

func matchKeyword(keywords []string, text string) string {
	lower := strings.ToLower(text)
	for _, keyword := range keywords {
		kw := strings.ToLower(strings.TrimSpace(keyword))
		if kw == "" {
			continue
		}
		if strings.Contains(lower, kw) {
			return keyword
		}
	}
	return ""
}

package generator

import "strings"

// Phase is a provider-agnostic status value.
type Phase int

// Normalized phases. Unknown is non-terminal: the poller keeps polling.
const (
	PhaseUnknown Phase = iota
	PhaseQueued
	PhaseProcessing
	PhaseSuccess
	PhaseFailure
)

func (p Phase) String() string {
	switch p {
	case PhaseQueued:
		return "queued"
	case PhaseProcessing:
		return "processing"
	case PhaseSuccess:
		return "success"
	case PhaseFailure:
		return "failure"
	default:
		return "unknown"
	}
}

// IsTerminal returns true for phases that end polling.
func (p Phase) IsTerminal() bool {
	return p == PhaseSuccess || p == PhaseFailure
}

var vocabularies = map[string]map[string]Phase{
	ProviderFal: {
		"IN_QUEUE":    PhaseQueued,
		"IN_PROGRESS": PhaseProcessing,
		"COMPLETED":   PhaseSuccess,
		"FAILED":      PhaseFailure,
	},
	ProviderMiniMax: {
		"Queueing":   PhaseQueued,
		"Preparing":  PhaseQueued,
		"Processing": PhaseProcessing,
		"Success":    PhaseSuccess,
		"Fail":       PhaseFailure,
		"Failed":     PhaseFailure,
	},
}

// Normalize maps a provider's raw status onto a Phase.
// Unrecognized providers or values yield PhaseUnknown.
func Normalize(provider, raw string) Phase {
	vocab, ok := vocabularies[provider]
	if !ok {
		return PhaseUnknown
	}
	if p, ok := vocab[raw]; ok {
		return p
	}
	raw = strings.TrimSpace(raw)
	for k, p := range vocab {
		if strings.EqualFold(k, raw) {
			return p
		}
	}
	return PhaseUnknown
}

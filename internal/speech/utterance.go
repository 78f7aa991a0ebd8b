package speech

import (
	"fmt"
	"strings"
)

// Expression is the facial expression preset the avatar wears while speaking
type Expression string

const (
	ExpressionNeutral Expression = "neutral"
	ExpressionHappy   Expression = "happy"
	ExpressionAngry   Expression = "angry"
	ExpressionSad     Expression = "sad"
	ExpressionRelaxed Expression = "relaxed"
)

// Expressions lists every supported expression preset
var Expressions = []Expression{
	ExpressionNeutral,
	ExpressionHappy,
	ExpressionAngry,
	ExpressionSad,
	ExpressionRelaxed,
}

// ParseExpression maps a name onto a supported expression. Empty means neutral.
func ParseExpression(name string) (Expression, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		return ExpressionNeutral, nil
	}
	for _, e := range Expressions {
		if string(e) == name {
			return e, nil
		}
	}
	return "", fmt.Errorf("unsupported expression %q", name)
}

// Utterance is one unit of text to be spoken. It is passed by value and never mutated.
type Utterance struct {
	Text       string
	Expression Expression
	Language   string // optional; the synthesizer falls back to its configured language
}

// Hooks are lifecycle callbacks for one utterance. Both run on the playback worker,
// so a slow hook delays the next utterance.
type Hooks struct {
	// OnStart fires when the utterance's turn arrives, even if its conversion failed.
	OnStart func()
	// OnComplete fires once the utterance reached Done, whether or not audio played.
	OnComplete func()
}

// State is the lifecycle position of one utterance
type State int32

const (
	StateQueued State = iota
	StateConverting
	StateConverted
	StateConversionFailed
	StateAwaitingTurn
	StateRendering
	StateSkipped
	StateDone
)

func (s State) String() string {
	switch s {
	case StateQueued:
		return "queued"
	case StateConverting:
		return "converting"
	case StateConverted:
		return "converted"
	case StateConversionFailed:
		return "conversion_failed"
	case StateAwaitingTurn:
		return "awaiting_turn"
	case StateRendering:
		return "rendering"
	case StateSkipped:
		return "skipped"
	case StateDone:
		return "done"
	default:
		return "unknown"
	}
}

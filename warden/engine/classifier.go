package engine

import (
	"context"
)

// A content detector. Implementations must be safe for concurrent use; the engine runs
// all classifiers for a message in parallel.
type Classifier interface {
	Name() string
	Classify(ctx context.Context, text string) (ModerationResult, error)
}

type PhoneMatch struct {
	// normalized numbers found in the text
	Numbers []string
}

type PhoneDetector interface {
	DetectPhone(text string) (PhoneMatch, bool)
}

type NicknameMatch struct {
	Pattern string
	// optional per-pattern welcome message for the redirect channel
	Welcome string
}

type NicknameDetector interface {
	DetectNickname(nick string) (NicknameMatch, bool)
}

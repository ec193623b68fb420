package classify

import "context"

// Prompt is a free-form request whose answer is a single JSON object.
type Prompt struct {
	System string
	User   string
}

// Completer answers prompts. Action agents use it to produce structured
// reports; the keyword backend does not implement it.
type Completer interface {
	Complete(ctx context.Context, p Prompt) (string, error)
	Name() string
}

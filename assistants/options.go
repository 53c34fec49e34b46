package assistants

// Option configures the Assistant.
type Option func(*Assistant)

// WithName sets the name used in logs and metrics.
func WithName(name string) Option {
	return func(a *Assistant) {
		a.name = name
	}
}

// WithDescription sets the description of the assistant.
func WithDescription(description string) Option {
	return func(a *Assistant) {
		a.description = description
	}
}

// WithSystemPrompt sets the preamble of every conversation.
func WithSystemPrompt(prompt string) Option {
	return func(a *Assistant) {
		a.systemPrompt = prompt
	}
}

// WithCallback sets the handler of the cycle events.
func WithCallback(callback Callback) Option {
	return func(a *Assistant) {
		a.callback = callback
	}
}

package persona

// Config holds persona registry parameters, sourced from environment variables.
type Config struct {
	Dir   string `envconfig:"PERSONA_DIR" default:"personas"`
	Watch bool   `envconfig:"PERSONA_WATCH" default:"true"`
}

// VoiceSettings carries speech synthesis hints. The gateway treats them as
// opaque data for the speech collaborator.
type VoiceSettings struct {
	Provider string `yaml:"provider" json:"provider"`
	VoiceID  string `yaml:"voice_id" json:"voice_id"`
}

// Spec is one persona document: a named bundle of behavioural configuration
// for a conversational agent. Specs are immutable after load; a reload
// installs a new instance rather than mutating in place, so a *Spec held by
// an in-flight request stays internally consistent.
type Spec struct {
	ID             string   `yaml:"id" json:"id" validate:"required"`
	Name           string   `yaml:"name" json:"name"`
	SystemPrompt   string   `yaml:"system_prompt" json:"system_prompt"`
	Greeting       string   `yaml:"greeting" json:"greeting"`
	KnowledgeBases []string `yaml:"knowledge_bases" json:"knowledge_bases"`

	Voice VoiceSettings `yaml:"voice" json:"voice"`

	// Extra keeps fields this core does not interpret, so persona authors
	// can attach frontend or avatar settings without schema changes here.
	Extra map[string]any `yaml:",inline" json:"-"`
}

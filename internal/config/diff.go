package config

import "slices"

// ChangeSet describes what changed between two configs.
// Only fields that can be safely hot-reloaded are tracked; everything else
// requires a restart.
type ChangeSet struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// VocabularyChanged is true when the lexicon term list differs;
	// NewVocabulary holds the full new list.
	VocabularyChanged bool
	NewVocabulary     []string

	// SystemPromptChanged is true when the agent persona text differs.
	SystemPromptChanged bool
	NewSystemPrompt     string
}

// Empty reports whether nothing hot-reloadable changed.
func (c ChangeSet) Empty() bool {
	return !c.LogLevelChanged && !c.VocabularyChanged && !c.SystemPromptChanged
}

// Diff compares old and new configs and returns the hot-reloadable changes.
func Diff(old, new *Config) ChangeSet {
	var c ChangeSet

	if old.Server.LogLevel != new.Server.LogLevel {
		c.LogLevelChanged = true
		c.NewLogLevel = new.Server.LogLevel
	}

	if !slices.Equal(old.Lexicon.Vocabulary, new.Lexicon.Vocabulary) {
		c.VocabularyChanged = true
		c.NewVocabulary = slices.Clone(new.Lexicon.Vocabulary)
	}

	if old.Providers.Agent.SystemPrompt != new.Providers.Agent.SystemPrompt {
		c.SystemPromptChanged = true
		c.NewSystemPrompt = new.Providers.Agent.SystemPrompt
	}

	return c
}

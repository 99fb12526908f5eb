package config_test

import (
	"testing"

	"github.com/parlance-dev/parlance/internal/config"
)

func TestDiff_NoChanges(t *testing.T) {
	t.Parallel()
	a := &config.Config{}
	a.Server.LogLevel = config.LogInfo
	a.Lexicon.Vocabulary = []string{"docker", "pytest"}
	b := &config.Config{}
	b.Server.LogLevel = config.LogInfo
	b.Lexicon.Vocabulary = []string{"docker", "pytest"}

	if got := config.Diff(a, b); !got.Empty() {
		t.Errorf("Diff = %+v; want empty", got)
	}
}

func TestDiff_LogLevelChanged(t *testing.T) {
	t.Parallel()
	a := &config.Config{}
	a.Server.LogLevel = config.LogInfo
	b := &config.Config{}
	b.Server.LogLevel = config.LogDebug

	got := config.Diff(a, b)
	if !got.LogLevelChanged || got.NewLogLevel != config.LogDebug {
		t.Errorf("Diff = %+v; want log level change to debug", got)
	}
	if got.VocabularyChanged || got.SystemPromptChanged {
		t.Errorf("Diff = %+v; only log level should change", got)
	}
}

func TestDiff_VocabularyChanged(t *testing.T) {
	t.Parallel()
	a := &config.Config{}
	a.Lexicon.Vocabulary = []string{"docker"}
	b := &config.Config{}
	b.Lexicon.Vocabulary = []string{"docker", "kubectl"}

	got := config.Diff(a, b)
	if !got.VocabularyChanged {
		t.Fatalf("Diff = %+v; want vocabulary change", got)
	}
	if len(got.NewVocabulary) != 2 || got.NewVocabulary[1] != "kubectl" {
		t.Errorf("NewVocabulary = %v; want [docker kubectl]", got.NewVocabulary)
	}
}

func TestDiff_SystemPromptChanged(t *testing.T) {
	t.Parallel()
	a := &config.Config{}
	b := &config.Config{}
	b.Providers.Agent.SystemPrompt = "You are terse."

	got := config.Diff(a, b)
	if !got.SystemPromptChanged || got.NewSystemPrompt != "You are terse." {
		t.Errorf("Diff = %+v; want system prompt change", got)
	}
}

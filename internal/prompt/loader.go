// Package prompt loads the YAML prompt sets, derives template variables from
// saju documents and renders the user/system messages sent to the LLM.
package prompt

import (
	"errors"
	"fmt"
	"os"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

var (
	// ErrPromptsNotLoaded is returned when the prompt file is missing,
	// unreadable, unparsable or empty.
	ErrPromptsNotLoaded = errors.New("prompts not loaded")
	// ErrTemplateNotFound is returned when a named step or section does not exist.
	ErrTemplateNotFound = errors.New("prompt template not found")
)

// Template is a system prompt plus a user message template.
type Template struct {
	System       string `yaml:"system"`
	UserTemplate string `yaml:"user_template"`
}

// IsZero reports whether both halves are empty.
func (t Template) IsZero() bool {
	return t.System == "" && t.UserTemplate == ""
}

// Set is one prompt YAML document. Reading files populate UnifiedPrompt and
// StepPrompts; section files populate the remaining fields.
type Set struct {
	UnifiedPrompt      Template            `yaml:"unified_prompt"`
	StepPrompts        map[string]Template `yaml:"step_prompts"`
	SectionPrompts     map[string]Template `yaml:"section_prompts"`
	CommonSystem       string              `yaml:"common_system"`
	CommonDataTemplate string              `yaml:"common_data_template"`
}

func (s *Set) empty() bool {
	return s.UnifiedPrompt.IsZero() && len(s.StepPrompts) == 0 && len(s.SectionPrompts) == 0 &&
		s.CommonSystem == "" && s.CommonDataTemplate == ""
}

// Step returns step_prompts[name].
func (s *Set) Step(name string) (Template, error) {
	t, ok := s.StepPrompts[name]
	if !ok || t.IsZero() {
		return Template{}, fmt.Errorf("step %q: %w", name, ErrTemplateNotFound)
	}
	return t, nil
}

// Section returns section_prompts[name].
func (s *Set) Section(name string) (Template, error) {
	t, ok := s.SectionPrompts[name]
	if !ok || t.IsZero() {
		return Template{}, fmt.Errorf("section %q: %w", name, ErrTemplateNotFound)
	}
	return t, nil
}

// Loader reads a prompt file from disk on every call so edits to the YAML
// take effect without a restart.
type Loader struct {
	path   string
	label  string
	logger *zap.Logger
}

func NewLoader(path, label string, logger *zap.Logger) *Loader {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Loader{path: path, label: label, logger: logger}
}

// Label is the human name of the prompt version ("v8", "v10.0", ...).
func (l *Loader) Label() string { return l.label }

// Path is the file the loader reads.
func (l *Loader) Path() string { return l.path }

// Exists reports whether the prompt file is present.
func (l *Loader) Exists() bool {
	info, err := os.Stat(l.path)
	return err == nil && !info.IsDir()
}

// Load parses the prompt file.
func (l *Loader) Load() (*Set, error) {
	data, err := os.ReadFile(l.path)
	if err != nil {
		l.logger.Warn("prompt file read failed", zap.String("label", l.label), zap.String("path", l.path), zap.Error(err))
		return nil, fmt.Errorf("%s: %w", l.label, ErrPromptsNotLoaded)
	}

	var set Set
	if err := yaml.Unmarshal(data, &set); err != nil {
		l.logger.Warn("prompt file parse failed", zap.String("label", l.label), zap.String("path", l.path), zap.Error(err))
		return nil, fmt.Errorf("%s: %w", l.label, ErrPromptsNotLoaded)
	}
	if set.empty() {
		return nil, fmt.Errorf("%s: %w", l.label, ErrPromptsNotLoaded)
	}

	l.logger.Debug("prompts loaded from disk", zap.String("label", l.label))
	return &set, nil
}

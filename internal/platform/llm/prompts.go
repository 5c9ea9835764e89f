package llm

import (
	"bytes"
	_ "embed"
	"fmt"
	"sort"
	"strings"
	"text/template"

	"gopkg.in/yaml.v3"
)

// Prompt names in the embedded catalog.
const (
	promptPersonaDetails = "persona_details"
	promptFeedback       = "feedback"
	promptThemes         = "themes"
	promptBatchAnchor    = "batch_anchor"
	promptBatchArray     = "batch_array"
)

//go:embed prompts.yaml
var defaultCatalog []byte

type promptSource struct {
	System string `yaml:"system"`
	User   string `yaml:"user"`
}

type promptTemplate struct {
	system *template.Template
	user   *template.Template
}

// Prompts renders the named system/user prompt pairs.
type Prompts struct {
	templates map[string]promptTemplate
}

// LoadPrompts parses the built-in catalog.
func LoadPrompts() (*Prompts, error) {
	return ParsePrompts(defaultCatalog)
}

// ParsePrompts parses a YAML catalog of prompt pairs.
func ParsePrompts(src []byte) (*Prompts, error) {
	var raw map[string]promptSource
	if err := yaml.Unmarshal(src, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse prompt catalog: %w", err)
	}

	funcs := template.FuncMap{"data": WrapData}
	p := &Prompts{templates: make(map[string]promptTemplate, len(raw))}
	for name, s := range raw {
		sys, err := template.New(name + ".system").Funcs(funcs).Option("missingkey=error").Parse(s.System)
		if err != nil {
			return nil, fmt.Errorf("failed to parse %s system prompt: %w", name, err)
		}
		usr, err := template.New(name + ".user").Funcs(funcs).Option("missingkey=error").Parse(s.User)
		if err != nil {
			return nil, fmt.Errorf("failed to parse %s user prompt: %w", name, err)
		}
		p.templates[name] = promptTemplate{system: sys, user: usr}
	}
	return p, nil
}

// Names lists the catalog entries.
func (p *Prompts) Names() []string {
	names := make([]string, 0, len(p.templates))
	for n := range p.templates {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Render executes the named pair with data.
func (p *Prompts) Render(name string, data any) (ChatRequest, error) {
	t, ok := p.templates[name]
	if !ok {
		return ChatRequest{}, fmt.Errorf("unknown prompt %q", name)
	}

	var sys, usr bytes.Buffer
	if err := t.system.Execute(&sys, data); err != nil {
		return ChatRequest{}, fmt.Errorf("failed to render %s system prompt: %w", name, err)
	}
	if err := t.user.Execute(&usr, data); err != nil {
		return ChatRequest{}, fmt.Errorf("failed to render %s user prompt: %w", name, err)
	}
	return ChatRequest{
		System: strings.TrimSpace(sys.String()),
		User:   strings.TrimSpace(usr.String()),
	}, nil
}

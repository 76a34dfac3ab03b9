package services

import (
	"embed"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/yungbote/fulfillment-backend/internal/clients/openai"
	"github.com/yungbote/fulfillment-backend/internal/platform/logger"
)

const promptDirectivesEnv = "PROMPT_DIRECTIVES_YAML"

//go:embed prompts/directives.yaml
var promptFS embed.FS

// PromptInput is the parameter snapshot taken from a line item in gather_input.
type PromptInput struct {
	Topic            string   `json:"topic"`
	ContentType      string   `json:"content_type"`
	Language         string   `json:"language"`
	Tone             string   `json:"tone"`
	LengthTarget     int      `json:"length_target"`
	Guidelines       string   `json:"guidelines,omitempty"`
	Keywords         []string `json:"keywords,omitempty"`
	WithBibliography bool     `json:"with_bibliography"`
}

type promptDirectives struct {
	Version      int               `yaml:"version"`
	System       string            `yaml:"system"`
	Languages    map[string]string `yaml:"languages"`
	Tones        map[string]string `yaml:"tones"`
	ContentTypes map[string]string `yaml:"content_types"`
	Directives   struct {
		Length       string `yaml:"length"`
		Bibliography string `yaml:"bibliography"`
		Keywords     string `yaml:"keywords"`
		Guidelines   string `yaml:"guidelines"`
	} `yaml:"directives"`
}

// PromptComposer turns a parameter snapshot into a generation request.
// The same input always yields the same request.
type PromptComposer interface {
	Compose(in PromptInput) (openai.Request, error)
}

type promptComposer struct {
	log *logger.Logger
	d   *promptDirectives
}

var (
	directivesOnce sync.Once
	directivesVal  *promptDirectives
	directivesErr  error
)

func loadPromptDirectives() (*promptDirectives, error) {
	directivesOnce.Do(func() {
		var raw []byte
		if path := strings.TrimSpace(os.Getenv(promptDirectivesEnv)); path != "" {
			raw, directivesErr = os.ReadFile(path)
		} else {
			raw, directivesErr = promptFS.ReadFile("prompts/directives.yaml")
		}
		if directivesErr != nil {
			return
		}
		directivesVal, directivesErr = parsePromptDirectives(raw)
	})
	return directivesVal, directivesErr
}

func parsePromptDirectives(raw []byte) (*promptDirectives, error) {
	var d promptDirectives
	if err := yaml.Unmarshal(raw, &d); err != nil {
		return nil, fmt.Errorf("parse prompt directives: %w", err)
	}
	if strings.TrimSpace(d.System) == "" {
		return nil, fmt.Errorf("prompt directives: system prompt is empty")
	}
	return &d, nil
}

func NewPromptComposer(baseLog *logger.Logger) (PromptComposer, error) {
	d, err := loadPromptDirectives()
	if err != nil {
		return nil, err
	}
	return &promptComposer{log: baseLog.With("service", "PromptComposer"), d: d}, nil
}

func (c *promptComposer) Compose(in PromptInput) (openai.Request, error) {
	topic := strings.TrimSpace(in.Topic)
	if topic == "" {
		return openai.Request{}, fmt.Errorf("topic is required")
	}

	lang := lookupOr(c.d.Languages, in.Language, in.Language)
	if lang == "" {
		lang = c.d.Languages["pl"]
	}
	kind := lookupOr(c.d.ContentTypes, in.ContentType, c.d.ContentTypes["article"])

	var b strings.Builder
	fmt.Fprintf(&b, "Write %s in %s on the topic: %q.\n", kind, lang, topic)
	if tone := lookupOr(c.d.Tones, in.Tone, c.d.Tones["neutral"]); tone != "" {
		b.WriteString(tone)
		b.WriteString("\n")
	}
	if in.LengthTarget > 0 {
		b.WriteString(fill(c.d.Directives.Length, "n", strconv.Itoa(in.LengthTarget)))
		b.WriteString("\n")
	}
	if kw := normalizeKeywords(in.Keywords); len(kw) > 0 {
		b.WriteString(fill(c.d.Directives.Keywords, "keywords", strings.Join(kw, ", ")))
		b.WriteString("\n")
	}
	if g := strings.TrimSpace(in.Guidelines); g != "" {
		b.WriteString(fill(c.d.Directives.Guidelines, "guidelines", g))
		b.WriteString("\n")
	}
	if in.WithBibliography {
		b.WriteString(c.d.Directives.Bibliography)
		b.WriteString("\n")
	}

	return openai.Request{
		System: strings.TrimSpace(c.d.System),
		User:   strings.TrimSpace(b.String()),
	}, nil
}

func lookupOr(m map[string]string, key, fallback string) string {
	key = strings.ToLower(strings.TrimSpace(key))
	if v, ok := m[key]; ok {
		return v
	}
	return fallback
}

func fill(tmpl, name, value string) string {
	return strings.ReplaceAll(tmpl, "{{"+name+"}}", value)
}

// normalizeKeywords trims, de-duplicates and sorts so that the prompt does not depend on input order.
func normalizeKeywords(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, k := range in {
		k = strings.TrimSpace(k)
		if k == "" {
			continue
		}
		key := strings.ToLower(k)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// SplitKeywords parses the comma or newline separated keyword list stored on a line item.
func SplitKeywords(s string) []string {
	return strings.FieldsFunc(s, func(r rune) bool { return r == ',' || r == '\n' || r == ';' })
}

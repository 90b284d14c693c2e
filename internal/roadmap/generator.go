package roadmap

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/xeipuuv/gojsonschema"

	"github.com/p-n-ai/pai-roadmap/internal/ai"
	"github.com/p-n-ai/pai-roadmap/internal/mastery"
)

const (
	DefaultMinChildren = 5
	DefaultMaxChildren = 8

	maxTopicRunes = 200
)

// Generator produces the ordered child topic names of a node. contextPath
// lists the node's ancestors from the subject down.
type Generator interface {
	GenerateChildren(ctx context.Context, nodeName string, contextPath []string) ([]string, error)
}

// GeneratorFunc adapts a function to Generator.
type GeneratorFunc func(ctx context.Context, nodeName string, contextPath []string) ([]string, error)

func (f GeneratorFunc) GenerateChildren(ctx context.Context, nodeName string, contextPath []string) ([]string, error) {
	return f(ctx, nodeName, contextPath)
}

var errEmptyOutput = errors.New("generator returned no subtopics")

const subtopicsSchema = `{
  "type": "object",
  "required": ["subtopics"],
  "properties": {
    "subtopics": {
      "type": "array",
      "items": {"type": "string"}
    }
  }
}`

var compiledSubtopicsSchema = func() *gojsonschema.Schema {
	s, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(subtopicsSchema))
	if err != nil {
		panic(fmt.Sprintf("subtopics schema: %v", err))
	}
	return s
}()

// GeneratorConfig configures an AIGenerator.
type GeneratorConfig struct {
	Model       string
	MinChildren int
	MaxChildren int
	Task        ai.TaskType
}

// AIGenerator asks a language model for subtopics in JSON mode.
type AIGenerator struct {
	completer ai.Completer
	cfg       GeneratorConfig
}

// NewAIGenerator creates a generator backed by c.
func NewAIGenerator(c ai.Completer, cfg GeneratorConfig) *AIGenerator {
	if cfg.MinChildren <= 0 {
		cfg.MinChildren = DefaultMinChildren
	}
	if cfg.MaxChildren < cfg.MinChildren {
		cfg.MaxChildren = max(DefaultMaxChildren, cfg.MinChildren)
	}
	return &AIGenerator{completer: c, cfg: cfg}
}

func (g *AIGenerator) GenerateChildren(ctx context.Context, nodeName string, contextPath []string) ([]string, error) {
	name := SanitizeTopic(nodeName)
	if name == "" {
		return nil, fmt.Errorf("node name is empty after sanitizing")
	}

	resp, err := g.completer.Complete(ctx, ai.CompletionRequest{
		Model:       g.cfg.Model,
		Task:        g.cfg.Task,
		JSONMode:    true,
		Temperature: 0.3,
		Messages: []ai.Message{
			{Role: "system", Content: "You are a curriculum designer. Respond with a single JSON object and nothing else."},
			{Role: "user", Content: g.prompt(name, contextPath)},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("complete: %w", err)
	}
	slog.Debug("subtopics generated",
		"node", name,
		"task", g.cfg.Task.String(),
		"model", resp.Model,
		"tokens", resp.TotalTokens(),
	)

	return ParseSubtopics(resp.Content)
}

func (g *AIGenerator) prompt(name string, contextPath []string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Break the topic %q into %d to %d logical subtopics, ordered from foundational to advanced.\n",
		name, g.cfg.MinChildren, g.cfg.MaxChildren)

	var ancestors []string
	for _, seg := range contextPath {
		if s := SanitizeTopic(seg); s != "" {
			ancestors = append(ancestors, s)
		}
	}
	if len(ancestors) > 0 {
		fmt.Fprintf(&b, "The topic sits inside: %s.\n", strings.Join(ancestors, " > "))
	}

	b.WriteString("Return only JSON:\n{\n  \"subtopics\": [\"sub1\", \"sub2\"]\n}")
	return b.String()
}

var fencePattern = regexp.MustCompile("(?s)^```[a-zA-Z]*\\s*(.*?)\\s*```$")

// ParseSubtopics extracts the subtopic list from model output, tolerating a
// surrounding markdown code fence.
func ParseSubtopics(content string) ([]string, error) {
	content = strings.TrimSpace(content)
	if m := fencePattern.FindStringSubmatch(content); m != nil {
		content = m[1]
	}
	if content == "" {
		return nil, errEmptyOutput
	}

	result, err := compiledSubtopicsSchema.Validate(gojsonschema.NewStringLoader(content))
	if err != nil {
		return nil, fmt.Errorf("parse generator output: %w", err)
	}
	if !result.Valid() {
		msgs := make([]string, 0, len(result.Errors()))
		for _, e := range result.Errors() {
			msgs = append(msgs, e.String())
		}
		return nil, fmt.Errorf("generator output does not match schema: %s", strings.Join(msgs, "; "))
	}

	var out struct {
		Subtopics []string `json:"subtopics"`
	}
	if err := json.Unmarshal([]byte(content), &out); err != nil {
		return nil, fmt.Errorf("decode generator output: %w", err)
	}
	if len(out.Subtopics) == 0 {
		return nil, errEmptyOutput
	}
	return out.Subtopics, nil
}

var injectionPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)ignore\s+previous\s+instructions`),
	regexp.MustCompile(`(?i)system\s*:`),
	regexp.MustCompile(`(?i)user\s*:`),
	regexp.MustCompile(`(?i)assistant\s*:`),
	regexp.MustCompile(`(?i)\[INST\]`),
	regexp.MustCompile(`(?i)\[/INST\]`),
}

var whitespace = regexp.MustCompile(`\s+`)

// SanitizeTopic strips prompt-injection markers from a topic name before
// it is placed in a prompt, collapses whitespace and caps the length.
func SanitizeTopic(topic string) string {
	s := strings.TrimSpace(topic)
	for _, re := range injectionPatterns {
		s = re.ReplaceAllString(s, "")
	}
	s = strings.TrimSpace(whitespace.ReplaceAllString(s, " "))
	if r := []rune(s); len(r) > maxTopicRunes {
		s = strings.TrimSpace(string(r[:maxTopicRunes]))
	}
	return s
}

// CleanChildren trims names, collapses inner whitespace, drops empties and
// case-insensitive duplicates, and keeps at most limit entries in order.
func CleanChildren(raw []string, limit int) []string {
	seen := make(map[string]bool, len(raw))
	out := make([]string, 0, min(len(raw), max(limit, 0)))
	for _, name := range raw {
		if limit > 0 && len(out) >= limit {
			break
		}
		name = strings.TrimSpace(whitespace.ReplaceAllString(name, " "))
		if name == "" {
			continue
		}
		key := mastery.Normalize(name)
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, name)
	}
	return out
}

// Package template parses and validates pipeline templates (RustyOps'
// build-definition YAML) and computes their stage dependency layering.
package template

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// Stage is one named unit of work within a template.
type Stage struct {
	Image      string   `yaml:"image"`
	Env        map[string]string `yaml:"env"`
	Script     []string `yaml:"script"`
	DependsOn  []string `yaml:"depends_on"`
}

// ScriptBlock is the shape of the optional before/after sections.
type ScriptBlock struct {
	Script []string `yaml:"script"`
}

// StageEntry pairs a stage name with its definition, preserving the document
// order of the `stages` mapping. Go's yaml.v3 unmarshals a plain
// map[string]Stage into an unordered map, which loses the ordering the
// dependency tie-break invariant depends on — so Template decodes `stages`
// from the raw yaml.Node sequence of mapping keys/values instead.
type StageEntry struct {
	Name  string
	Stage Stage
}

// Template is the parsed, validated in-memory form of a Job's template.
type Template struct {
	Image  string            `yaml:"image"`
	Env    map[string]string `yaml:"env"`
	Before *ScriptBlock      `yaml:"before"`
	After  *ScriptBlock      `yaml:"after"`
	Stages []StageEntry      `yaml:"-"`
}

// rawTemplate mirrors the wire shape; Stages is a yaml.Node so we can walk
// the mapping in document order before decoding each stage.
type rawTemplate struct {
	Image  string            `yaml:"image"`
	Env    map[string]string `yaml:"env"`
	Before *ScriptBlock      `yaml:"before"`
	After  *ScriptBlock      `yaml:"after"`
	Stages yaml.Node         `yaml:"stages"`
}

// ValidationError is the structured validation failure returned when a
// template fails the checks in §4.1. Msgs preserves the exact
// human-readable messages the boundary behaviors in spec testing rely on.
type ValidationError struct {
	Msgs []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("Pipeline template: [%s]", strings.Join(e.Msgs, ", "))
}

// DecodeBase64URL decodes a base64url-encoded UTF-8 YAML document, the wire
// format Job.Template carries.
func DecodeBase64URL(encoded string) ([]byte, error) {
	raw, err := base64.URLEncoding.WithPadding(base64.NoPadding).DecodeString(encoded)
	if err != nil {
		// some producers pad, so retry with padding before failing
		raw, err = base64.URLEncoding.DecodeString(encoded)
		if err != nil {
			return nil, fmt.Errorf("decode base64url template: %w", err)
		}
	}
	return raw, nil
}

// EncodeBase64URL is the inverse of DecodeBase64URL, used by tests and
// clients constructing a Job payload.
func EncodeBase64URL(raw []byte) string {
	return base64.URLEncoding.WithPadding(base64.NoPadding).EncodeToString(raw)
}

// Parse decodes a base64url-encoded YAML template and validates it. On
// success the returned Template is ready for dependency resolution.
func Parse(encoded string) (*Template, error) {
	raw, err := DecodeBase64URL(encoded)
	if err != nil {
		return nil, err
	}
	return ParseYAML(raw)
}

// ParseYAML validates and decodes a raw YAML document, bypassing the
// base64url envelope. Exposed for tests that author templates as literal
// YAML.
func ParseYAML(raw []byte) (*Template, error) {
	var rt rawTemplate
	if err := yaml.Unmarshal(raw, &rt); err != nil {
		return nil, fmt.Errorf("Pipeline template: [%s]", err.Error())
	}

	stages, msgs := decodeStages(&rt.Stages)
	t := &Template{
		Image:  rt.Image,
		Env:    rt.Env,
		Before: rt.Before,
		After:  rt.After,
		Stages: stages,
	}

	msgs = append(msgs, validate(t)...)
	if len(msgs) > 0 {
		return nil, &ValidationError{Msgs: msgs}
	}
	return t, nil
}

// decodeStages walks the raw `stages` mapping node in document order,
// decoding each value into a Stage. A missing node yields no entries and no
// message here, so validate's "stages cannot be empty" is the only message;
// a non-mapping node yields "stages must be a mapping", and validate then
// adds "stages cannot be empty" after it.
func decodeStages(node *yaml.Node) ([]StageEntry, []string) {
	var msgs []string
	if node == nil || node.Kind == 0 {
		return nil, msgs
	}
	if node.Kind != yaml.MappingNode {
		msgs = append(msgs, "stages must be a mapping")
		return nil, msgs
	}
	entries := make([]StageEntry, 0, len(node.Content)/2)
	for i := 0; i+1 < len(node.Content); i += 2 {
		keyNode := node.Content[i]
		valNode := node.Content[i+1]
		var stage Stage
		if err := valNode.Decode(&stage); err != nil {
			msgs = append(msgs, fmt.Sprintf("stage %q: %s", keyNode.Value, err.Error()))
			continue
		}
		entries = append(entries, StageEntry{Name: keyNode.Value, Stage: stage})
	}
	return entries, msgs
}

func validate(t *Template) []string {
	var msgs []string

	if len(t.Stages) == 0 {
		msgs = append(msgs, "stages cannot be empty")
		return msgs // remaining checks are meaningless on an empty stage set
	}

	names := make(map[string]bool, len(t.Stages))
	for _, e := range t.Stages {
		names[e.Name] = true
	}

	if t.Before != nil && len(t.Before.Script) == 0 {
		msgs = append(msgs, "before script cannot be empty")
	}
	if t.After != nil && len(t.After.Script) == 0 {
		msgs = append(msgs, "after script cannot be empty")
	}

	for _, e := range t.Stages {
		if len(e.Stage.Script) == 0 {
			msgs = append(msgs, fmt.Sprintf("stage %q script cannot be empty", e.Name))
		}
		for _, dep := range e.Stage.DependsOn {
			if dep == e.Name {
				msgs = append(msgs, "stage cannot depend on itself")
				continue
			}
			if !names[dep] {
				msgs = append(msgs, fmt.Sprintf("stage %q depends on unknown stage %q", e.Name, dep))
			}
		}
	}
	return msgs
}

// ErrNonProgress is returned by Layers if a full pass over the remaining
// stages resolves none of them. Validation rejects self- and unknown
// dependencies but not longer cycles (a depends on b, b on a), so such a
// cycle passes ParseYAML and ends in this error.
var ErrNonProgress = errors.New("template: dependency resolution made no progress")

// Layers computes the stage dependency tree: a sequence of layers where
// layer i contains every stage whose dependencies all lie in an earlier
// layer. Within a layer, StageEntry order follows the template's key order
// (the tie-break the spec calls for).
func (t *Template) Layers() ([][]StageEntry, error) {
	remaining := make([]StageEntry, len(t.Stages))
	copy(remaining, t.Stages)

	resolved := make(map[string]bool, len(t.Stages))
	var layers [][]StageEntry

	for len(remaining) > 0 {
		var layer []StageEntry
		var next []StageEntry
		for _, e := range remaining {
			ready := true
			for _, dep := range e.Stage.DependsOn {
				if !resolved[dep] {
					ready = false
					break
				}
			}
			if ready {
				layer = append(layer, e)
			} else {
				next = append(next, e)
			}
		}
		if len(layer) == 0 {
			return nil, ErrNonProgress
		}
		for _, e := range layer {
			resolved[e.Name] = true
		}
		layers = append(layers, layer)
		remaining = next
	}
	return layers, nil
}

// StageNames returns the stage names in template key order.
func (t *Template) StageNames() []string {
	names := make([]string, len(t.Stages))
	for i, e := range t.Stages {
		names[i] = e.Name
	}
	return names
}

// Stage looks up a stage definition by name.
func (t *Template) Stage(name string) (Stage, bool) {
	for _, e := range t.Stages {
		if e.Name == name {
			return e.Stage, true
		}
	}
	return Stage{}, false
}

// ResolveImage returns the effective container image for a stage: the
// stage's own image if set, else the template's default image. Recovered
// from the distillation's original CI-template formats, which commonly
// support a global default image overridden per-stage.
func (t *Template) ResolveImage(s Stage) string {
	if s.Image != "" {
		return s.Image
	}
	return t.Image
}

// MergedEnv merges template-level env then stage-level env, stage winning
// on key conflict, per §4.8 stage execution.
func (t *Template) MergedEnv(s Stage) map[string]string {
	merged := make(map[string]string, len(t.Env)+len(s.Env))
	for k, v := range t.Env {
		merged[k] = v
	}
	for k, v := range s.Env {
		merged[k] = v
	}
	return merged
}

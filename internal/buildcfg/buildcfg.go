// Package buildcfg renders a combined configuration template and splits the
// result into a compose file and a test definition.
//
// A combined template keeps one environment in one file: the compose
// topology under a fixtures key and the test states next to it. Build
// renders the template with sprig functions against a values map, routes
// fixtures, services, networks and volumes into the compose document, adds
// the common capability block every host container needs, and writes what
// remains as the test definition.
package buildcfg

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"text/template"

	"github.com/Masterminds/sprig/v3"
	"gopkg.in/yaml.v3"
)

// Options describes one build.
type Options struct {
	// TemplatePath is the combined template to render.
	TemplatePath string
	// OutputDir receives the generated files. Created if missing.
	OutputDir string
	// Values is the data the template is rendered against.
	Values map[string]interface{}
}

// commonAnchor names the capability block shared by every service.
const commonAnchor = "common-config"

// Build renders the template and writes <name>-compose.yaml and
// <name>-test.yaml into the output directory, where <name> is the template
// file name without its extensions. A side with no content is not written.
// It returns the paths of the files it wrote.
func Build(opts Options) ([]string, error) {
	data, err := render(opts.TemplatePath, opts.Values)
	if err != nil {
		return nil, err
	}
	compose, test, err := split(data)
	if err != nil {
		return nil, fmt.Errorf("invalid template %s: %w", opts.TemplatePath, err)
	}

	if err := os.MkdirAll(opts.OutputDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}

	name := baseName(opts.TemplatePath)
	var written []string
	for _, out := range []struct {
		suffix string
		node   *yaml.Node
	}{
		{"-compose.yaml", compose},
		{"-test.yaml", test},
	} {
		if len(out.node.Content) == 0 {
			continue
		}
		path := filepath.Join(opts.OutputDir, name+out.suffix)
		if err := writeYAML(path, out.node); err != nil {
			return nil, err
		}
		written = append(written, path)
	}
	return written, nil
}

// ParseSetValues turns key=value pairs from the command line into a values
// map.
func ParseSetValues(pairs []string) (map[string]interface{}, error) {
	values := make(map[string]interface{}, len(pairs))
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid value %q, expected key=value", pair)
		}
		values[key] = value
	}
	return values, nil
}

// LoadValuesFile reads a YAML mapping of template values.
func LoadValuesFile(path string) (map[string]interface{}, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read values file: %w", err)
	}
	values := map[string]interface{}{}
	if err := yaml.Unmarshal(raw, &values); err != nil {
		return nil, fmt.Errorf("invalid values file %s: %w", path, err)
	}
	return values, nil
}

func render(path string, values map[string]interface{}) ([]byte, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read template: %w", err)
	}
	tmpl, err := template.New(filepath.Base(path)).Funcs(sprig.TxtFuncMap()).Parse(string(raw))
	if err != nil {
		return nil, fmt.Errorf("invalid template %s: %w", path, err)
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, values); err != nil {
		return nil, fmt.Errorf("failed to render %s: %w", path, err)
	}
	return buf.Bytes(), nil
}

// split routes the top level keys of the rendered document. Fixtures
// sub-sections and the compose sections services, networks and volumes form
// the compose side, everything else the test side. Key order is preserved on
// both sides.
func split(data []byte) (compose, test *yaml.Node, err error) {
	compose = &yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"}
	test = &yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"}

	var root yaml.Node
	if err := yaml.Unmarshal(data, &root); err != nil {
		return nil, nil, err
	}
	top, err := documentMapping(&root)
	if err != nil || top == nil {
		return compose, test, err
	}

	sections := newSectionSet()
	for i := 0; i+1 < len(top.Content); i += 2 {
		key, value := top.Content[i], top.Content[i+1]
		switch {
		case strings.HasPrefix(key.Value, "fixtures"):
			if err := collectFixtures(sections, value); err != nil {
				return nil, nil, err
			}
		case isComposeSection(key.Value):
			if err := sections.add(key.Value, value); err != nil {
				return nil, nil, err
			}
		default:
			test.Content = append(test.Content, key, value)
		}
	}

	sections.appendTo(compose)
	return compose, test, nil
}

// collectFixtures flattens one fixtures block into compose sections. The
// hosts alias maps to services.
func collectFixtures(sections *sectionSet, node *yaml.Node) error {
	node = deref(node)
	if node == nil {
		return nil
	}
	if node.Kind != yaml.MappingNode {
		return fmt.Errorf("fixtures must be a mapping, got %s", nodeKindName(node))
	}
	for i := 0; i+1 < len(node.Content); i += 2 {
		name := node.Content[i].Value
		switch {
		case strings.HasPrefix(name, "services"), strings.HasPrefix(name, "hosts"):
			name = "services"
		}
		if err := sections.add(name, node.Content[i+1]); err != nil {
			return err
		}
	}
	return nil
}

func isComposeSection(name string) bool {
	switch name {
	case "services", "networks", "volumes":
		return true
	}
	return false
}

// sectionSet accumulates compose sections in first-seen order, merging
// repeated contributions to the same section.
type sectionSet struct {
	order []string
	nodes map[string]*yaml.Node
}

func newSectionSet() *sectionSet {
	return &sectionSet{nodes: make(map[string]*yaml.Node)}
}

func (s *sectionSet) add(name string, node *yaml.Node) error {
	node = deref(node)
	if node == nil {
		return nil
	}
	if node.Kind != yaml.MappingNode {
		return fmt.Errorf("%s must be a mapping, got %s", name, nodeKindName(node))
	}
	section, ok := s.nodes[name]
	if !ok {
		section = &yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"}
		s.nodes[name] = section
		s.order = append(s.order, name)
	}
	section.Content = append(section.Content, node.Content...)
	return nil
}

// appendTo writes the collected sections into the compose document. When
// services exist they get the shared capability block merged in, with the
// anchor emitted ahead of its aliases.
func (s *sectionSet) appendTo(compose *yaml.Node) {
	services := s.nodes["services"]
	if services != nil && len(services.Content) > 0 {
		common := commonConfigNode()
		compose.Content = append(compose.Content, scalarNode("x-common-config"), common)
		for i := 0; i+1 < len(services.Content); i += 2 {
			svc := deref(services.Content[i+1])
			if svc == nil {
				svc = &yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"}
				services.Content[i+1] = svc
			}
			if svc.Kind != yaml.MappingNode {
				continue
			}
			svc.Content = append(svc.Content,
				&yaml.Node{Kind: yaml.ScalarNode, Tag: "!!merge", Value: "<<"},
				&yaml.Node{Kind: yaml.AliasNode, Value: commonAnchor, Alias: common},
			)
		}
	}
	for _, name := range s.order {
		compose.Content = append(compose.Content, scalarNode(name), s.nodes[name])
	}
}

// commonConfigNode builds the anchored capability block. Host containers
// need NET_ADMIN for packet loss shaping and SYS_PTRACE for attaching to
// the servers under test.
func commonConfigNode() *yaml.Node {
	caps := &yaml.Node{Kind: yaml.SequenceNode, Tag: "!!seq", Content: []*yaml.Node{
		scalarNode("NET_ADMIN"),
		scalarNode("SYS_PTRACE"),
	}}
	return &yaml.Node{
		Kind:    yaml.MappingNode,
		Tag:     "!!map",
		Anchor:  commonAnchor,
		Content: []*yaml.Node{scalarNode("cap_add"), caps},
	}
}

func documentMapping(root *yaml.Node) (*yaml.Node, error) {
	node := deref(root)
	if node == nil {
		return nil, nil
	}
	if node.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("expected a mapping at the template root, got %s", nodeKindName(node))
	}
	return node, nil
}

// deref unwraps document nodes and returns nil for empty or null nodes.
func deref(node *yaml.Node) *yaml.Node {
	for node != nil && node.Kind == yaml.DocumentNode {
		if len(node.Content) == 0 {
			return nil
		}
		node = node.Content[0]
	}
	if node == nil || node.Kind == 0 {
		return nil
	}
	if node.Kind == yaml.ScalarNode && node.Tag == "!!null" {
		return nil
	}
	return node
}

func nodeKindName(node *yaml.Node) string {
	switch node.Kind {
	case yaml.ScalarNode:
		return "a scalar"
	case yaml.SequenceNode:
		return "a sequence"
	case yaml.MappingNode:
		return "a mapping"
	default:
		return "an unsupported node"
	}
}

func scalarNode(value string) *yaml.Node {
	return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: value}
}

// baseName strips the template extensions from the file name, so
// site.yaml.tmpl becomes site.
func baseName(path string) string {
	name := filepath.Base(path)
	for {
		switch ext := filepath.Ext(name); ext {
		case ".yaml", ".yml", ".tmpl", ".gotmpl":
			name = strings.TrimSuffix(name, ext)
		default:
			return name
		}
	}
}

func writeYAML(path string, node *yaml.Node) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	enc := yaml.NewEncoder(f)
	enc.SetIndent(2)
	if err := enc.Encode(node); err != nil {
		f.Close()
		return fmt.Errorf("failed to encode %s: %w", path, err)
	}
	if err := enc.Close(); err != nil {
		f.Close()
		return fmt.Errorf("failed to encode %s: %w", path, err)
	}
	return f.Close()
}

package buildcfg

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"drill/internal/config"
)

const combinedTemplate = `
fixtures:
  services:
    server1:
      image: {{ .image | default "debian:stable" }}
      ports:
        - "1812:1812/udp"
    client1:
      image: {{ .image | default "debian:stable" }}
  networks:
    testnet:
      driver: bridge

timeout: {{ .timeout | default 40 }}
state_order: sequence
states:
  boot:
    verify:
      timeout: 5
      triggers:
        - status:
            pattern: "^Ready"
  steady:
    verify:
      triggers:
        - status:
            fire:
`

func writeTemplate(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "site.yaml.tmpl")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestBuildSplitsComposeAndTest(t *testing.T) {
	outDir := t.TempDir()
	written, err := Build(Options{
		TemplatePath: writeTemplate(t, combinedTemplate),
		OutputDir:    outDir,
	})
	require.NoError(t, err)
	require.Len(t, written, 2)
	assert.Equal(t, filepath.Join(outDir, "site-compose.yaml"), written[0])
	assert.Equal(t, filepath.Join(outDir, "site-test.yaml"), written[1])

	composeRaw, err := os.ReadFile(written[0])
	require.NoError(t, err)
	assert.Contains(t, string(composeRaw), "&common-config")
	assert.Contains(t, string(composeRaw), "<<: *common-config")

	var compose struct {
		Services map[string]struct {
			Image  string   `yaml:"image"`
			CapAdd []string `yaml:"cap_add"`
		} `yaml:"services"`
		Networks map[string]interface{} `yaml:"networks"`
	}
	require.NoError(t, yaml.Unmarshal(composeRaw, &compose))
	require.Len(t, compose.Services, 2)
	for name, svc := range compose.Services {
		assert.Equal(t, "debian:stable", svc.Image, name)
		assert.Equal(t, []string{"NET_ADMIN", "SYS_PTRACE"}, svc.CapAdd, name)
	}
	assert.Contains(t, compose.Networks, "testnet")

	testRaw, err := os.ReadFile(written[1])
	require.NoError(t, err)
	assert.NotContains(t, string(testRaw), "services")

	cfg, err := config.Parse(testRaw, "site")
	require.NoError(t, err)
	require.Len(t, cfg.States, 2)
	assert.Equal(t, "boot", cfg.States[0].Name)
	assert.Equal(t, "steady", cfg.States[1].Name)
}

func TestBuildAppliesValues(t *testing.T) {
	written, err := Build(Options{
		TemplatePath: writeTemplate(t, combinedTemplate),
		OutputDir:    t.TempDir(),
		Values:       map[string]interface{}{"image": "radius:4.0", "timeout": "90"},
	})
	require.NoError(t, err)
	require.Len(t, written, 2)

	composeRaw, err := os.ReadFile(written[0])
	require.NoError(t, err)
	assert.Contains(t, string(composeRaw), "radius:4.0")

	testRaw, err := os.ReadFile(written[1])
	require.NoError(t, err)
	assert.Contains(t, string(testRaw), "timeout: 90")
}

func TestBuildSprigFunctions(t *testing.T) {
	tmpl := `
states:
  boot:
    verify:
      timeout: {{ add 2 3 }}
      triggers:
        - name:
            pattern: "{{ .prefix | default "srv" | upper }}"
`
	written, err := Build(Options{
		TemplatePath: writeTemplate(t, tmpl),
		OutputDir:    t.TempDir(),
	})
	require.NoError(t, err)
	require.Len(t, written, 1)

	raw, err := os.ReadFile(written[0])
	require.NoError(t, err)
	assert.Contains(t, string(raw), "timeout: 5")
	assert.Contains(t, string(raw), "SRV")
}

func TestBuildHostsAliasAndTopLevelSections(t *testing.T) {
	tmpl := `
fixtures:
  hosts:
    gateway:
      image: alpine
volumes:
  logs:
    driver: local
`
	written, err := Build(Options{
		TemplatePath: writeTemplate(t, tmpl),
		OutputDir:    t.TempDir(),
	})
	require.NoError(t, err)
	require.Len(t, written, 1)
	assert.True(t, strings.HasSuffix(written[0], "-compose.yaml"))

	var compose struct {
		Services map[string]interface{} `yaml:"services"`
		Volumes  map[string]interface{} `yaml:"volumes"`
	}
	raw, err := os.ReadFile(written[0])
	require.NoError(t, err)
	require.NoError(t, yaml.Unmarshal(raw, &compose))
	assert.Contains(t, compose.Services, "gateway")
	assert.Contains(t, compose.Volumes, "logs")
}

func TestBuildTestOnly(t *testing.T) {
	written, err := Build(Options{
		TemplatePath: writeTemplate(t, "states:\n"),
		OutputDir:    t.TempDir(),
	})
	require.NoError(t, err)
	require.Len(t, written, 1)
	assert.True(t, strings.HasSuffix(written[0], "site-test.yaml"))
}

func TestBuildStatePreservesOrder(t *testing.T) {
	tmpl := `
states:
  zulu:
    verify:
      triggers:
        - a:
            fire:
  alpha:
    verify:
      triggers:
        - b:
            fire:
`
	written, err := Build(Options{
		TemplatePath: writeTemplate(t, tmpl),
		OutputDir:    t.TempDir(),
	})
	require.NoError(t, err)
	require.Len(t, written, 1)

	raw, err := os.ReadFile(written[0])
	require.NoError(t, err)
	assert.Less(t, strings.Index(string(raw), "zulu"), strings.Index(string(raw), "alpha"))
}

func TestBuildErrors(t *testing.T) {
	t.Run("missing template", func(t *testing.T) {
		_, err := Build(Options{
			TemplatePath: filepath.Join(t.TempDir(), "absent.yaml"),
			OutputDir:    t.TempDir(),
		})
		assert.Error(t, err)
	})

	t.Run("bad template syntax", func(t *testing.T) {
		_, err := Build(Options{
			TemplatePath: writeTemplate(t, "{{ .unclosed"),
			OutputDir:    t.TempDir(),
		})
		assert.Error(t, err)
	})

	t.Run("rendered output is not yaml", func(t *testing.T) {
		_, err := Build(Options{
			TemplatePath: writeTemplate(t, "\tstates: {"),
			OutputDir:    t.TempDir(),
		})
		assert.Error(t, err)
	})

	t.Run("root is not a mapping", func(t *testing.T) {
		_, err := Build(Options{
			TemplatePath: writeTemplate(t, "- just\n- a\n- list\n"),
			OutputDir:    t.TempDir(),
		})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "mapping")
	})
}

func TestParseSetValues(t *testing.T) {
	values, err := ParseSetValues([]string{"image=radius:4.0", "region=eu"})
	require.NoError(t, err)
	assert.Equal(t, map[string]interface{}{"image": "radius:4.0", "region": "eu"}, values)

	_, err = ParseSetValues([]string{"no-separator"})
	assert.Error(t, err)

	_, err = ParseSetValues([]string{"=value"})
	assert.Error(t, err)
}

func TestLoadValuesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "values.yaml")
	require.NoError(t, os.WriteFile(path, []byte("image: radius:4.0\nreplicas: 3\n"), 0o644))

	values, err := LoadValuesFile(path)
	require.NoError(t, err)
	assert.Equal(t, "radius:4.0", values["image"])
	assert.Equal(t, 3, values["replicas"])

	_, err = LoadValuesFile(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

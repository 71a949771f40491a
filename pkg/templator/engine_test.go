package templator_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/terabiome/clusterup/pkg/templator"
)

func TestEngine_LoadTemplateString(t *testing.T) {
	t.Parallel()

	engine := templator.NewEngine()
	require.NoError(t, engine.LoadTemplateString("greeting", `hello {{ .Name }} {{ join .Tags "," }} {{ add .N 1 }}`))
	assert.True(t, engine.HasTemplate("greeting"))

	out, err := engine.RenderToBytes("greeting", map[string]any{"Name": "core-01", "Tags": []string{"a", "b"}, "N": 1})
	require.NoError(t, err)
	assert.Equal(t, "hello core-01 a,b 2", string(out))
}

func TestEngine_LoadTemplateFromFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "domain.xml.tpl")
	require.NoError(t, os.WriteFile(path, []byte(`<name>{{ .Name }}</name>`), 0o644))

	engine := templator.NewEngine()
	require.NoError(t, engine.LoadTemplateOrDefault("domain", path, "unused"))

	out, err := engine.RenderToBytes("domain", struct{ Name string }{Name: "core-02"})
	require.NoError(t, err)
	assert.Equal(t, "<name>core-02</name>", string(out))
}

func TestEngine_Errors(t *testing.T) {
	t.Parallel()

	engine := templator.NewEngine()

	_, err := engine.RenderToBytes("missing", nil)
	require.Error(t, err)

	require.Error(t, engine.LoadTemplate("x", filepath.Join(t.TempDir(), "nope.tpl")))
	require.Error(t, engine.LoadTemplateString("bad", "{{ .Name "))
	assert.False(t, engine.HasTemplate("bad"))
}

func TestEngine_EscapesXML(t *testing.T) {
	t.Parallel()

	engine := templator.NewEngine()
	require.NoError(t, engine.LoadTemplateString("dir", `<source dir='{{ xml .Path }}'/>`))

	out, err := engine.RenderToBytes("dir", map[string]string{"Path": "/srv/a&b's <x>"})
	require.NoError(t, err)
	assert.Equal(t, "<source dir='/srv/a&amp;b&#39;s &lt;x&gt;'/>", string(out))
}

package models

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDescriptor(t *testing.T) {
	d, err := ParseDescriptor([]byte(`{
		"name": "foo",
		"version": "1.2.3-rc1+build5",
		"architecture": "amd64",
		"description": "Foo tool",
		"depends": ["bar", "baz"],
		"size": 12345678901234567890
	}`))
	require.NoError(t, err)

	assert.Equal(t, "foo", d.Name)
	assert.Equal(t, "1.2.3-rc1+build5", d.Version)
	assert.Equal(t, "amd64", d.Architecture)
	assert.Equal(t, "1.2.3", d.ParsedVersion().Base())
	assert.JSONEq(t, `["bar", "baz"]`, string(d.Fields["depends"]))
	assert.Equal(t, "12345678901234567890", string(d.Fields["size"]))
}

func TestParseDescriptorErrors(t *testing.T) {
	tests := map[string]string{
		"empty":             "  \n",
		"malformed":         `{"name": "foo",`,
		"not an object":     `["foo"]`,
		"null":              `null`,
		"missing name":      `{"version": "1.0", "architecture": "x86_64"}`,
		"missing version":   `{"name": "foo", "architecture": "x86_64"}`,
		"missing arch":      `{"name": "foo", "version": "1.0"}`,
		"name not string":   `{"name": 7, "version": "1.0", "architecture": "x86_64"}`,
		"empty version":     `{"name": "foo", "version": "", "architecture": "x86_64"}`,
		"name with slash":   `{"name": "../foo", "version": "1.0", "architecture": "x86_64"}`,
		"name dot dot":      `{"name": "..", "version": "1.0", "architecture": "x86_64"}`,
		"empty base":        `{"name": "foo", "version": "+build", "architecture": "x86_64"}`,
		"version separator": `{"name": "foo", "version": "1/2", "architecture": "x86_64"}`,
	}

	for name, input := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := ParseDescriptor([]byte(input))
			require.Error(t, err)
			assert.True(t, IsType(err, ErrDescriptor), "unexpected error type: %v", err)
		})
	}
}

func TestLoadDescriptorMissingFile(t *testing.T) {
	_, err := LoadDescriptor(filepath.Join(t.TempDir(), DescriptorFile))
	require.Error(t, err)
	assert.True(t, IsType(err, ErrDescriptor))
}

func TestLoadDescriptorRefusesSymlink(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "real.json")
	require.NoError(t, os.WriteFile(target, []byte(`{"name": "foo", "version": "1", "architecture": "x86_64"}`), 0644))
	link := filepath.Join(dir, DescriptorFile)
	require.NoError(t, os.Symlink(target, link))

	_, err := LoadDescriptor(link)
	require.Error(t, err)
	assert.True(t, IsType(err, ErrDescriptor))

	d, err := LoadDescriptor(target)
	require.NoError(t, err)
	assert.Equal(t, "foo", d.Name)
}

func TestMainDescriptorRoundTrip(t *testing.T) {
	d, err := ParseDescriptor([]byte(`{"name":"foo","version":"1.0.0","architecture":"x86_64","summary":"a <b> & c"}`))
	require.NoError(t, err)

	m := NewMainDescriptor(d, "x86_64")
	data, err := m.Marshal()
	require.NoError(t, err)

	assert.Contains(t, string(data), "\n    \"name\": \"foo\"")
	assert.Contains(t, string(data), `"a <b> & c"`)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, []any{"x86_64"}, decoded["architecture"])
	assert.Equal(t, "1.0.0", decoded["version"])

	loaded, err := ParseMainDescriptor(data)
	require.NoError(t, err)
	assert.Equal(t, []string{"x86_64"}, loaded.Architectures)
	assert.Equal(t, "1.0.0", loaded.Version())
	assert.False(t, loaded.ArchitectureReset)
	assert.NotContains(t, loaded.Fields, FieldArchitecture)
}

func TestParseMainDescriptorArchitectureNotArray(t *testing.T) {
	m, err := ParseMainDescriptor([]byte(`{"name":"foo","version":"1.0","architecture":"x86_64"}`))
	require.NoError(t, err)
	assert.True(t, m.ArchitectureReset)
	assert.Empty(t, m.Architectures)

	assert.True(t, m.AddArchitecture("aarch64"))
	assert.False(t, m.AddArchitecture("aarch64"))
	assert.Equal(t, []string{"aarch64"}, m.Architectures)
}

func TestMainDescriptorKeepsForeignArchitectureMembers(t *testing.T) {
	m, err := ParseMainDescriptor([]byte(`{"name":"foo","version":"1.0","architecture":["x86_64",7,{"os":"linux"}]}`))
	require.NoError(t, err)
	assert.Equal(t, []string{"x86_64"}, m.Architectures)
	assert.False(t, m.HasArchitecture("7"))

	assert.False(t, m.AddArchitecture("x86_64"))
	assert.True(t, m.AddArchitecture("aarch64"))

	data, err := m.Marshal()
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, []any{"x86_64", float64(7), map[string]any{"os": "linux"}, "aarch64"}, decoded["architecture"])
}

func TestLoadMainDescriptorMalformed(t *testing.T) {
	path := filepath.Join(t.TempDir(), DescriptorFile)
	require.NoError(t, os.WriteFile(path, []byte(`{"name":`), 0644))

	_, err := LoadMainDescriptor(path)
	require.Error(t, err)
	assert.True(t, IsType(err, ErrRepositoryState))
}

func TestMainDescriptorVersionMissing(t *testing.T) {
	m, err := ParseMainDescriptor([]byte(`{"name":"foo","version":3,"architecture":[]}`))
	require.NoError(t, err)
	assert.Equal(t, "", m.Version())
}

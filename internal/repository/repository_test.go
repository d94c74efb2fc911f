package repository

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tulpar/apgunpacker/internal/models"
)

type fixture struct {
	t        *testing.T
	repo     *Repository
	root     string
	incoming string
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	dir := t.TempDir()
	root := filepath.Join(dir, "packages")
	return &fixture{
		t:        t,
		repo:     New(root, opts...),
		root:     root,
		incoming: filepath.Join(dir, "incoming"),
	}
}

// archive writes an upload and returns its path
func (f *fixture) archive(fileName, content string) string {
	f.t.Helper()
	require.NoError(f.t, os.MkdirAll(f.incoming, 0755))
	path := filepath.Join(f.incoming, fileName)
	require.NoError(f.t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func (f *fixture) merge(fields map[string]any) (*MergeResult, string, error) {
	f.t.Helper()

	data, err := json.Marshal(fields)
	require.NoError(f.t, err)
	desc, err := models.ParseDescriptor(data)
	require.NoError(f.t, err)

	path := f.archive(desc.Name+"-"+desc.Version+"-"+desc.Architecture+".apg", desc.Name+" "+desc.Version+" "+desc.Architecture)
	result, err := f.repo.Merge(desc, path)
	return result, path, err
}

func (f *fixture) mainDescriptor(name string) map[string]any {
	f.t.Helper()
	data, err := os.ReadFile(filepath.Join(f.root, name, "metadata.json"))
	require.NoError(f.t, err)

	var m map[string]any
	require.NoError(f.t, json.Unmarshal(data, &m))
	return m
}

func pkg(name, version, architecture string) map[string]any {
	return map[string]any{"name": name, "version": version, "architecture": architecture}
}

func TestMergeLifecycle(t *testing.T) {
	f := newFixture(t)

	// Brand-new package
	result, src, err := f.merge(pkg("foo", "1.0.0", "x86_64"))
	require.NoError(t, err)
	assert.Equal(t, OutcomeNewPackage, result.Outcome)
	assert.True(t, result.NewArchitecture)
	assert.Equal(t, filepath.Join(f.root, "foo", "x86_64", "1.0.0.apg"), result.StoredArchive)
	assert.FileExists(t, result.StoredArchive)
	assert.NoFileExists(t, src)

	m := f.mainDescriptor("foo")
	assert.Equal(t, []any{"x86_64"}, m["architecture"])
	assert.Equal(t, "1.0.0", m["version"])
	assert.Equal(t, "foo", m["name"])

	// Newer version, same architecture
	result, src, err = f.merge(pkg("foo", "1.1.0", "x86_64"))
	require.NoError(t, err)
	assert.Equal(t, OutcomeNewerVersion, result.Outcome)
	assert.False(t, result.NewArchitecture)
	assert.Equal(t, "1.0.0", result.PreviousVersion)
	assert.FileExists(t, filepath.Join(f.root, "foo", "x86_64", "1.1.0.apg"))
	assert.FileExists(t, filepath.Join(f.root, "foo", "x86_64", "1.0.0.apg"))
	assert.NoFileExists(t, src)

	m = f.mainDescriptor("foo")
	assert.Equal(t, "1.1.0", m["version"])
	assert.Equal(t, []any{"x86_64"}, m["architecture"])

	// Lower version, new architecture: directory created, archive not
	// stored, recorded version rolled back
	result, src, err = f.merge(pkg("foo", "1.0.0", "aarch64"))
	require.NoError(t, err)
	assert.Equal(t, OutcomeNotStored, result.Outcome)
	assert.True(t, result.NewArchitecture)
	assert.Empty(t, result.StoredArchive)
	assert.DirExists(t, filepath.Join(f.root, "foo", "aarch64"))
	assert.NoFileExists(t, filepath.Join(f.root, "foo", "aarch64", "1.0.0.apg"))
	assert.FileExists(t, src)

	m = f.mainDescriptor("foo")
	assert.Equal(t, []any{"x86_64", "aarch64"}, m["architecture"])
	assert.Equal(t, "1.0.0", m["version"])
}

func TestMergeDuplicate(t *testing.T) {
	f := newFixture(t)

	_, _, err := f.merge(pkg("foo", "1.0.0", "x86_64"))
	require.NoError(t, err)

	// Same base version with a build suffix maps onto the stored file
	result, src, err := f.merge(pkg("foo", "1.0.0+build2", "x86_64"))
	require.NoError(t, err)
	assert.Equal(t, OutcomeDuplicate, result.Outcome)
	assert.Empty(t, result.StoredArchive)
	assert.FileExists(t, src)

	data, err := os.ReadFile(filepath.Join(f.root, "foo", "x86_64", "1.0.0.apg"))
	require.NoError(t, err)
	assert.Equal(t, "foo 1.0.0 x86_64", string(data))

	assert.Equal(t, "1.0.0+build2", f.mainDescriptor("foo")["version"])
}

func TestMergeOverwritesFieldsAndKeepsOthers(t *testing.T) {
	f := newFixture(t)

	first := pkg("foo", "1.0.0", "x86_64")
	first["description"] = "first"
	first["homepage"] = "https://example.com"
	_, _, err := f.merge(first)
	require.NoError(t, err)

	second := pkg("foo", "0.9.0", "x86_64")
	second["description"] = "second"
	second["depends"] = []string{"bar"}
	_, _, err = f.merge(second)
	require.NoError(t, err)

	m := f.mainDescriptor("foo")
	assert.Equal(t, "second", m["description"])
	assert.Equal(t, "https://example.com", m["homepage"])
	assert.Equal(t, []any{"bar"}, m["depends"])
	assert.Equal(t, "0.9.0", m["version"])
	assert.Equal(t, []any{"x86_64"}, m["architecture"])
}

func TestMergeVersionGatedFields(t *testing.T) {
	f := newFixture(t, WithFieldMerger(VersionGatedFields))

	_, _, err := f.merge(pkg("foo", "2.0.0", "x86_64"))
	require.NoError(t, err)

	_, _, err = f.merge(pkg("foo", "1.0.0", "aarch64"))
	require.NoError(t, err)

	m := f.mainDescriptor("foo")
	assert.Equal(t, "2.0.0", m["version"])
	assert.Equal(t, []any{"x86_64", "aarch64"}, m["architecture"])

	_, _, err = f.merge(pkg("foo", "2.1.0", "aarch64"))
	require.NoError(t, err)
	assert.Equal(t, "2.1.0", f.mainDescriptor("foo")["version"])
}

func TestMergeRepairsArchitectureList(t *testing.T) {
	f := newFixture(t)

	entry := filepath.Join(f.root, "foo")
	require.NoError(t, os.MkdirAll(entry, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(entry, "metadata.json"),
		[]byte(`{"name":"foo","version":"1.0.0","architecture":"x86_64"}`), 0644))

	result, _, err := f.merge(pkg("foo", "1.0.1", "x86_64"))
	require.NoError(t, err)
	assert.True(t, result.NewArchitecture)
	assert.Equal(t, OutcomeNewerVersion, result.Outcome)
	assert.Equal(t, []any{"x86_64"}, f.mainDescriptor("foo")["architecture"])
}

func TestMergeMalformedMainDescriptor(t *testing.T) {
	f := newFixture(t)

	entry := filepath.Join(f.root, "foo")
	require.NoError(t, os.MkdirAll(entry, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(entry, "metadata.json"), []byte(`{"name":`), 0644))

	_, src, err := f.merge(pkg("foo", "1.0.1", "x86_64"))
	require.Error(t, err)
	assert.True(t, models.IsType(err, models.ErrRepositoryState))
	assert.Contains(t, err.Error(), "foo")
	assert.FileExists(t, src)
}

func TestMergeEntryWithoutDescriptor(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, os.MkdirAll(filepath.Join(f.root, "foo"), 0755))

	_, _, err := f.merge(pkg("foo", "1.0.0", "x86_64"))
	require.Error(t, err)
	assert.True(t, models.IsType(err, models.ErrRepositoryState))
}

func TestMergeMissingArchive(t *testing.T) {
	f := newFixture(t)

	desc, err := models.ParseDescriptor([]byte(`{"name":"foo","version":"1.0.0","architecture":"x86_64"}`))
	require.NoError(t, err)

	_, err = f.repo.Merge(desc, filepath.Join(f.incoming, "missing.apg"))
	require.Error(t, err)
	assert.True(t, models.IsType(err, models.ErrFileOp))
	// No rollback: the architecture directory stays behind
	assert.DirExists(t, filepath.Join(f.root, "foo", "x86_64"))
	assert.NoFileExists(t, filepath.Join(f.root, "foo", "metadata.json"))
}

func TestMergeRejectsUnnormalizedArchitecture(t *testing.T) {
	f := newFixture(t)

	_, _, err := f.merge(pkg("foo", "1.0.0", "amd64"))
	require.Error(t, err)
	assert.True(t, models.IsType(err, models.ErrNormalization))
	assert.NoDirExists(t, filepath.Join(f.root, "foo"))
}

type recordingLocker struct {
	locked   []string
	unlocked int
	err      error
}

func (l *recordingLocker) Lock(name string) (func(), error) {
	if l.err != nil {
		return nil, l.err
	}
	l.locked = append(l.locked, name)
	return func() { l.unlocked++ }, nil
}

func TestMergeUsesLocker(t *testing.T) {
	locker := &recordingLocker{}
	f := newFixture(t, WithLocker(locker))

	_, _, err := f.merge(pkg("foo", "1.0.0", "x86_64"))
	require.NoError(t, err)
	_, _, err = f.merge(pkg("bar", "1.0.0", "aarch64"))
	require.NoError(t, err)

	assert.Equal(t, []string{"foo", "bar"}, locker.locked)
	assert.Equal(t, 2, locker.unlocked)

	locker.err = errors.New("busy")
	_, _, err = f.merge(pkg("baz", "1.0.0", "x86_64"))
	require.Error(t, err)
	assert.NoDirExists(t, filepath.Join(f.root, "baz"))
}

func TestOutcomeString(t *testing.T) {
	assert.Equal(t, "new-package", OutcomeNewPackage.String())
	assert.Equal(t, "not-stored", OutcomeNotStored.String())
	assert.Equal(t, "unknown", Outcome(99).String())
}

package catalog

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeConf(t *testing.T, dir, name string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("# config\n"), 0o644))
}

func TestLoadDiscoversEndpoints(t *testing.T) {
	dir := t.TempDir()
	writeConf(t, dir, "providerA_us_all.conf")
	writeConf(t, dir, "providerB_de_all.conf")
	writeConf(t, dir, "ignored.txt")

	cat, err := Load(dir)
	require.NoError(t, err)

	list := cat.List()
	require.Len(t, list, 2)

	byName := map[string]Endpoint{}
	for _, e := range list {
		byName[e.Name] = e
	}

	require.Equal(t, "us", byName["providerA_us_all"].Country)
	require.Equal(t, "de", byName["providerB_de_all"].Country)
	require.Equal(t, filepath.Join(dir, "providerA_us_all.conf"), byName["providerA_us_all"].ConfigReference)
}

func TestLoadEmptyDirFails(t *testing.T) {
	dir := t.TempDir()
	_, err := Load(dir)
	require.ErrorIs(t, err, ErrCatalogEmpty)
}

func TestListReturnsIndependentCopy(t *testing.T) {
	dir := t.TempDir()
	writeConf(t, dir, "providerA_us_all.conf")

	cat, err := Load(dir)
	require.NoError(t, err)

	list := cat.List()
	list[0].Name = "mutated"

	require.NotEqual(t, "mutated", cat.List()[0].Name)
}

package peers

import (
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadDefaultsToBootstrapWhenFileAbsent(t *testing.T) {
	dir := t.TempDir()

	p, err := Load(dir, []string{"8.8.8.8:18018", "not-an-ip:18018"})
	require.NoError(t, err)
	require.Equal(t, []string{"8.8.8.8:18018"}, p.Snapshot())

	_, statErr := os.Stat(filepath.Join(dir, "peers.json"))
	require.NoError(t, statErr)
}

func TestLoadReadsExistingFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "peers.json"), []byte(`{"1.1.1.1:18018":""}`), 0o644))

	p, err := Load(dir, nil)
	require.NoError(t, err)
	require.Equal(t, []string{"1.1.1.1:18018"}, p.Snapshot())
}

func TestAddFiltersNonGlobalAddresses(t *testing.T) {
	dir := t.TempDir()
	p, err := Load(dir, nil)
	require.NoError(t, err)

	added := p.Add([]string{
		"8.8.8.8:18018",
		"10.0.0.1:18018",
		"127.0.0.1:18018",
		"192.168.1.1:18018",
		"not-a-peer",
	})
	require.Equal(t, []string{"8.8.8.8:18018"}, added)
	require.Equal(t, []string{"8.8.8.8:18018"}, p.Snapshot())
}

func TestAddEnforcesPerHostCapUnlessDefaultPort(t *testing.T) {
	dir := t.TempDir()
	p, err := Load(dir, nil)
	require.NoError(t, err)

	var entries []string
	for i := 1; i <= 12; i++ {
		entries = append(entries, "8.8.8.8:"+strconv.Itoa(20000+i))
	}
	added := p.Add(entries)
	require.Len(t, added, 10)

	moreAdded := p.Add([]string{"8.8.8.8:18018"})
	require.Equal(t, []string{"8.8.8.8:18018"}, moreAdded)
}

func TestMarkInactiveExcludesFromActivePeers(t *testing.T) {
	dir := t.TempDir()
	p, err := Load(dir, []string{"8.8.8.8:18018", "9.9.9.9:18018"})
	require.NoError(t, err)

	p.MarkInactive("8.8.8.8:18018")
	require.Equal(t, []string{"9.9.9.9:18018"}, p.ActivePeers())

	p.MarkActive("8.8.8.8:18018")
	require.ElementsMatch(t, []string{"8.8.8.8:18018", "9.9.9.9:18018"}, p.ActivePeers())
}

func TestAddPersistsAcrossReload(t *testing.T) {
	dir := t.TempDir()
	p, err := Load(dir, nil)
	require.NoError(t, err)

	p.Add([]string{"8.8.8.8:18018"})

	reloaded, err := Load(dir, nil)
	require.NoError(t, err)
	require.Equal(t, []string{"8.8.8.8:18018"}, reloaded.Snapshot())
}


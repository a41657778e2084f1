package main

import (
	"context"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/danmuck/decompctl/internal/engine"
	"github.com/danmuck/decompctl/internal/factstore"
	"github.com/danmuck/decompctl/internal/peer"
	"github.com/danmuck/decompctl/internal/protocol"
	"github.com/danmuck/decompctl/internal/protocol/session"
	"github.com/danmuck/decompctl/internal/testutil/testlog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testFixture = `
answers:
  - query: getCodeLabel
    args: ["ram:0x401000"]
    string: main
  - query: getMappedSymbolsXML
    args: ["ram:0x401000"]
    document: <mapsym><symbol name="main"/></mapsym>
regions:
  - address: ram:0x401000
    hex: 554889e5
`

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out strings.Builder
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func writeConfig(t *testing.T, dir string) string {
	t.Helper()
	path := filepath.Join(dir, "decompctl.toml")
	body := "log_level = \"warn\"\nfacts_db = \"" + filepath.ToSlash(filepath.Join(dir, "facts.db")) + "\"\n"
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestConfigInitAndValidate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "decompctl.toml")

	out, err := execute(t, "config", "init", path)
	require.NoError(t, err)
	assert.Contains(t, out, "wrote")

	_, err = execute(t, "config", "init", path)
	require.Error(t, err, "init refuses to overwrite without --force")

	_, err = execute(t, "config", "init", "--force", path)
	require.NoError(t, err)

	out, err = execute(t, "config", "validate", path)
	require.NoError(t, err)
	assert.Contains(t, out, "log_level=info")
}

func TestFactsImport(t *testing.T) {
	dir := t.TempDir()
	cfgPath := writeConfig(t, dir)
	fixture := filepath.Join(dir, "facts.yaml")
	require.NoError(t, os.WriteFile(fixture, []byte(testFixture), 0o600))

	out, err := execute(t, "--config", cfgPath, "facts", "import", fixture)
	require.NoError(t, err)
	assert.Contains(t, out, "2 answers, 0 failures, 1 regions")

	store, err := factstore.Open(filepath.Join(dir, "facts.db"), testlog.Start(t))
	require.NoError(t, err)
	defer store.Close()
	img, err := store.ReadImage(context.Background(), protocol.Address{Space: "ram", Offset: 0x401000}, 4)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x55, 0x48, 0x89, 0xe5}, img)
}

func TestFactsImportRejectsMissingFile(t *testing.T) {
	dir := t.TempDir()
	_, err := execute(t, "--config", writeConfig(t, dir), "facts", "import", filepath.Join(dir, "nope.yaml"))
	require.Error(t, err)
}

func TestProbeArgs(t *testing.T) {
	_, err := execute(t, "probe", "127.0.0.1:1")
	require.Error(t, err, "probe needs at least one address")

	_, err = execute(t, "probe", "127.0.0.1:1", "not-an-address")
	require.Error(t, err)
}

func TestRunProbeAgainstHost(t *testing.T) {
	logger := testlog.Start(t)
	store, err := factstore.Open(filepath.Join(t.TempDir(), "facts.db"), logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	_, err = store.Import(context.Background(), strings.NewReader(testFixture))
	require.NoError(t, err)

	engineEnd, clientEnd := net.Pipe()
	t.Cleanup(func() {
		_ = engineEnd.Close()
		_ = clientEnd.Close()
	})
	host := engine.NewHost(engineEnd, engineEnd, session.DefaultConfig(), logger)
	go func() { _ = host.Run(context.Background()) }()

	c := peer.NewConn(clientEnd, clientEnd, store, logger)
	setup := session.Setup{TranslationSpec: "define space ram type=ram_space size=4;"}
	addrs := []protocol.Address{
		{Space: "ram", Offset: 0x401000},
		{Space: "ram", Offset: 0x402000},
	}

	var out strings.Builder
	require.NoError(t, runProbe(context.Background(), c, setup, addrs, &out))

	text := out.String()
	assert.Contains(t, text, `name="main"`)
	assert.Contains(t, text, `name="FUN_00402000"`)
	assert.Contains(t, text, "warnings:")
	assert.Empty(t, host.Programs(), "probe deregisters its program")
}

func TestSetupFromFlagsPassesBlobsThrough(t *testing.T) {
	dir := t.TempDir()
	sla := filepath.Join(dir, "x86.slaspec")
	require.NoError(t, os.WriteFile(sla, []byte("define space ram type=ram_space size=4;"), 0o600))

	cmd := newProbeCmd()
	require.NoError(t, cmd.Flags().Set("translation", sla))
	setup, err := setupFromFlags(cmd)
	require.NoError(t, err)
	assert.Equal(t, session.Setup{TranslationSpec: "define space ram type=ram_space size=4;"}, setup)

	require.NoError(t, cmd.Flags().Set("processor", filepath.Join(dir, "missing.pspec")))
	_, err = setupFromFlags(cmd)
	require.Error(t, err)
}

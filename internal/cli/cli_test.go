package cli

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docsign/pkg/compositor"
	"docsign/pkg/compositor/compositortest"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	buf := new(bytes.Buffer)
	rootCmd.SetOut(buf)
	rootCmd.SetErr(buf)
	rootCmd.SetArgs(args)
	defer rootCmd.SetArgs(nil)
	err := rootCmd.Execute()
	return buf.String(), err
}

func TestRootCmd_HasSubcommands(t *testing.T) {
	names := make([]string, 0)
	for _, cmd := range rootCmd.Commands() {
		names = append(names, cmd.Name())
	}
	for _, want := range []string{"stamp", "inspect", "migrate", "keygen", "version"} {
		assert.Contains(t, names, want)
	}
}

func TestVersionCmd_Executes(t *testing.T) {
	originalVersion := version
	version = "test-1.2.3"
	defer func() { version = originalVersion }()

	out, err := execute(t, "version")

	assert.NoError(t, err)
	assert.Contains(t, out, "docsignctl version test-1.2.3")
}

func TestStampAndInspect(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, "in.pdf")
	sig := filepath.Join(dir, "sig.txt")
	out := filepath.Join(dir, "out.pdf")
	require.NoError(t, os.WriteFile(in, compositortest.PDF(2), 0o644))
	require.NoError(t, os.WriteFile(sig, []byte(compositortest.DataURI(compositortest.PNG(80, 20, true))), 0o644))

	stdout, err := execute(t, "stamp", "--in", in, "--signature", sig, "--out", out, "--page", "0", "--x", "50", "--y", "60")
	require.NoError(t, err)
	assert.Contains(t, stdout, "Signed page 1 of 2 (40x10 pt)")

	signed, err := os.ReadFile(out)
	require.NoError(t, err)
	info, err := compositor.Inspect(signed)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 0}, info.Images)

	stdout, err = execute(t, "inspect", out, "--text", "0")
	require.NoError(t, err)
	assert.Contains(t, stdout, "Pages: 2")
	assert.Contains(t, stdout, "page 0: 1 image(s)")
	assert.NotContains(t, stdout, "Warning")

	stdout, err = execute(t, "inspect", in, "--text", "1")
	require.NoError(t, err)
	assert.Contains(t, stdout, "Page 1")
	assert.NotContains(t, stdout, "Page 2")
}

func TestStampAcceptsRawPNG(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, "in.pdf")
	sig := filepath.Join(dir, "sig.png")
	out := filepath.Join(dir, "out.pdf")
	require.NoError(t, os.WriteFile(in, compositortest.PDF(1), 0o644))
	require.NoError(t, os.WriteFile(sig, compositortest.PNG(40, 40, false), 0o644))

	stdout, err := execute(t, "stamp", "--in", in, "--signature", sig, "--out", out, "--page=-1", "--x", "0", "--y", "0")
	require.NoError(t, err)
	assert.Contains(t, stdout, "Signed page 1 of 1")
}

func TestStampRejectsOutOfRangePage(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, "in.pdf")
	sig := filepath.Join(dir, "sig.png")
	out := filepath.Join(dir, "out.pdf")
	require.NoError(t, os.WriteFile(in, compositortest.PDF(1), 0o644))
	require.NoError(t, os.WriteFile(sig, compositortest.PNG(10, 10, false), 0o644))

	_, err := execute(t, "stamp", "--in", in, "--signature", sig, "--out", out, "--page", "5")
	require.Error(t, err)
	assert.ErrorIs(t, err, compositor.ErrPageOutOfRange)
	_, statErr := os.Stat(out)
	assert.True(t, os.IsNotExist(statErr))
}

func TestInspectRejectsGarbage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "junk.pdf")
	require.NoError(t, os.WriteFile(path, []byte("not a pdf"), 0o644))

	_, err := execute(t, "inspect", path, "--text", "0")
	assert.Error(t, err)
}

func TestInspectRequiresExactlyOneArg(t *testing.T) {
	_, err := execute(t, "inspect")

	assert.Error(t, err)
	assert.Contains(t, err.Error(), "accepts 1 arg(s)")
}

func TestKeygenWritesKeyPair(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "keys")

	stdout, err := execute(t, "keygen", "--out-dir", dir, "--bits", "2048", "--prefix", "session")
	require.NoError(t, err)
	assert.Contains(t, stdout, "session-private.pem")

	priv, err := os.Stat(filepath.Join(dir, "session-private.pem"))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), priv.Mode().Perm())
	pub, err := os.ReadFile(filepath.Join(dir, "session-public.pem"))
	require.NoError(t, err)
	assert.Contains(t, string(pub), "PUBLIC KEY")

	_, err = execute(t, "keygen", "--out-dir", dir, "--bits", "2048", "--prefix", "session")
	assert.Error(t, err, "existing keys must not be overwritten")

	_, err = execute(t, "keygen", "--out-dir", dir, "--bits", "1024", "--prefix", "weak")
	assert.Error(t, err)
}

func TestMigrateSQLite(t *testing.T) {
	dsn := "sqlite:" + filepath.Join(t.TempDir(), "meta.db")

	stdout, err := execute(t, "migrate", "--database-url", dsn)
	require.NoError(t, err)
	assert.Contains(t, stdout, "Migrations applied")

	_, err = execute(t, "migrate", "--database-url", " ")
	assert.Error(t, err)
}

package main

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/plaenen/liststate/pkg/credentials"
)

const testKeeper = "base64key://smGbjm71Nxd1Ig5FS0wj9SlbzAIrnolCz9bQQ6uAhl4="

func execute(t *testing.T, args ...string) (string, string, error) {
	t.Helper()

	var stdout, stderr bytes.Buffer
	root := newRootCmd()
	root.SetArgs(args)
	root.SetOut(&stdout)
	root.SetErr(&stderr)

	err := root.ExecuteContext(context.Background())
	return stdout.String(), stderr.String(), err
}

func TestVersionCommand(t *testing.T) {
	out, _, err := execute(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "liststate dev")
}

func TestShow_BootstrapOnMemoryBackend(t *testing.T) {
	t.Setenv("LISTSTATE_BACKEND", "memory")
	t.Setenv("LISTSTATE_STREAMS", "Audit.Exchange,DLP.All")

	out, errOut, err := execute(t, "show")
	require.NoError(t, err)
	assert.Contains(t, out, "STREAM")
	assert.Contains(t, out, "Audit.Exchange")
	assert.Contains(t, out, "DLP.All")
	assert.Contains(t, errOut, "bootstrap")
}

func TestShow_RejectsUnknownOutput(t *testing.T) {
	_, _, err := execute(t, "show", "--output", "yaml")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "yaml")
}

func TestRunOnceThenShow_SQLite(t *testing.T) {
	t.Setenv("LISTSTATE_BACKEND", "sqlite")
	t.Setenv("LISTSTATE_SQLITE_DSN", filepath.Join(t.TempDir(), "state.db"))
	t.Setenv("LISTSTATE_STREAMS", "Audit.General")

	_, _, err := execute(t, "run", "--once")
	require.NoError(t, err)

	out, errOut, err := execute(t, "show", "-o", "json")
	require.NoError(t, err)
	assert.Contains(t, out, `"streamName": "Audit.General"`)
	assert.NotContains(t, errOut, "bootstrap")

	// show committed the slot back, so it can be read again right away.
	_, _, err = execute(t, "show")
	require.NoError(t, err)
}

func TestReset_SQLite(t *testing.T) {
	t.Setenv("LISTSTATE_BACKEND", "sqlite")
	t.Setenv("LISTSTATE_SQLITE_DSN", filepath.Join(t.TempDir(), "state.db"))
	t.Setenv("LISTSTATE_STREAMS", "Audit.General")

	_, _, err := execute(t, "reset")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--yes")

	out, _, err := execute(t, "reset", "--yes")
	require.NoError(t, err)
	assert.Contains(t, out, "nothing to reset")

	_, _, err = execute(t, "run", "--once")
	require.NoError(t, err)

	out, _, err = execute(t, "reset", "--yes")
	require.NoError(t, err)
	assert.Contains(t, out, "deleted")

	_, errOut, err := execute(t, "show")
	require.NoError(t, err)
	assert.Contains(t, errOut, "bootstrap")
}

func TestRun_FlagOverridesAreValidated(t *testing.T) {
	t.Setenv("LISTSTATE_BACKEND", "memory")

	_, _, err := execute(t, "run", "--once", "--backend", "carrier-pigeon")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "backend")

	_, _, err = execute(t, "run", "--interval", "0s")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "interval")
}

func TestSealCredentials(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nats.sealed")

	out, _, err := execute(t, "seal-credentials",
		"--keeper", testKeeper,
		"--out", path,
		"--type", "token",
		"--token", "s3cret-token",
	)
	require.NoError(t, err)
	assert.Contains(t, out, path)

	ctx := context.Background()
	provider, err := credentials.NewSealedFileProvider(ctx, testKeeper, path)
	require.NoError(t, err)
	defer provider.Close()

	creds, err := provider.GetCredentials(ctx)
	require.NoError(t, err)
	assert.Equal(t, credentials.CredentialTypeToken, creds.Type)
	assert.Equal(t, "s3cret-token", creds.Token)
}

func TestSealCredentials_WeakPassword(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nats.sealed")
	args := []string{"seal-credentials",
		"--keeper", testKeeper,
		"--out", path,
		"--type", "user_password",
		"--user", "collector",
		"--password", "password",
	}

	_, _, err := execute(t, args...)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "too weak")

	_, _, err = execute(t, append(args, "--allow-weak")...)
	require.NoError(t, err)
}

func TestSealCredentials_UnknownType(t *testing.T) {
	_, _, err := execute(t, "seal-credentials",
		"--keeper", testKeeper,
		"--out", filepath.Join(t.TempDir(), "x"),
		"--type", "kerberos",
	)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "kerberos")
}

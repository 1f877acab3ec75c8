package registry

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/CharanRayudu/SentryAI/internal/tools"
)

func TestNewLoadsBuiltinSchemas(t *testing.T) {
	r, err := New(t.TempDir())
	require.NoError(t, err)

	s, ok := r.Get("port_scan")
	require.True(t, ok)
	require.Equal(t, "port_scan", s.Name)
	require.NotEmpty(t, r.List())
}

func TestPutOverridesAndRemoveShadowsBuiltin(t *testing.T) {
	r, err := New(t.TempDir())
	require.NoError(t, err)

	custom := &tools.Schema{
		Name:           "port_scan",
		BinaryPath:     "/opt/custom/port_scan",
		OutputFormat:   tools.OutputJSON,
		DefaultTimeout: 30,
	}
	require.NoError(t, r.Put(custom))

	s, ok := r.Get("port_scan")
	require.True(t, ok)
	require.Equal(t, "/opt/custom/port_scan", s.BinaryPath, "on-disk schema should override the built-in of the same name")

	require.NoError(t, r.Remove("port_scan"))
	s, ok = r.Get("port_scan")
	require.True(t, ok)
	require.NotEqual(t, "/opt/custom/port_scan", s.BinaryPath, "removing the on-disk override should fall back to the built-in")
}

func TestPutRejectsInvalidSchema(t *testing.T) {
	r, err := New(t.TempDir())
	require.NoError(t, err)

	err = r.Put(&tools.Schema{Name: "bad"})
	require.Error(t, err)
	_, ok := r.Get("bad")
	require.False(t, ok)
}

func TestInstallRemoteNeverOverridesLocalSchema(t *testing.T) {
	r, err := New(t.TempDir())
	require.NoError(t, err)

	before, ok := r.Get("port_scan")
	require.True(t, ok)

	r.InstallRemote([]*tools.Schema{
		{Name: "port_scan", BinaryPath: "/remote/port_scan", OutputFormat: tools.OutputText, DefaultTimeout: 10},
		{Name: "remote_only", BinaryPath: "/remote/bin", OutputFormat: tools.OutputText, DefaultTimeout: 10},
	})

	after, ok := r.Get("port_scan")
	require.True(t, ok)
	require.Equal(t, before.BinaryPath, after.BinaryPath, "a federated schema must never override a locally served one")

	remote, ok := r.Get("remote_only")
	require.True(t, ok)
	require.Equal(t, "/remote/bin", remote.BinaryPath)
}

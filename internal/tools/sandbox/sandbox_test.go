package sandbox

import (
	"bytes"
	"testing"

	"github.com/docker/docker/client"
	"github.com/stretchr/testify/require"
)

func TestBoundedWriterTruncatesAtLimit(t *testing.T) {
	var buf bytes.Buffer
	w := &boundedWriter{buf: &buf, limit: 8}

	n, err := w.Write([]byte("abcdefgh"))
	require.NoError(t, err)
	require.Equal(t, 8, n)
	require.Equal(t, "abcdefgh", buf.String())

	n, err = w.Write([]byte("ignored"))
	require.NoError(t, err)
	require.Equal(t, 7, n, "Write must still report the full input length consumed")
	require.Equal(t, "abcdefgh", buf.String(), "writes past the limit are silently discarded")
}

func TestBoundedWriterAllowsPartialFill(t *testing.T) {
	var buf bytes.Buffer
	w := &boundedWriter{buf: &buf, limit: 5}

	_, err := w.Write([]byte("abc"))
	require.NoError(t, err)
	_, err = w.Write([]byte("xyz"))
	require.NoError(t, err)
	require.Equal(t, "abcxy", buf.String())
}

func TestNewAppliesDefaults(t *testing.T) {
	cli, err := client.NewClientWithOpts(client.FromEnv)
	require.NoError(t, err)

	d, err := New(Options{Client: cli})
	require.NoError(t, err)
	require.Equal(t, defaultImage, d.image)
	require.Equal(t, "bridge", d.networkMode)
	require.False(t, d.closeClient, "caller-supplied client must not be closed by Dispatcher.Close")

	require.NoError(t, d.Close())
}

func TestNewHonorsExplicitOptions(t *testing.T) {
	cli, err := client.NewClientWithOpts(client.FromEnv)
	require.NoError(t, err)

	d, err := New(Options{Client: cli, Image: "custom/image:v1", NetworkMode: "none"})
	require.NoError(t, err)
	require.Equal(t, "custom/image:v1", d.image)
	require.Equal(t, "none", d.networkMode)
}

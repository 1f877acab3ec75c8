package registry

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

func startFederationServer(t *testing.T, reg *Registry) string {
	t.Helper()
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	s := grpc.NewServer()
	RegisterFederationServer(s, reg)
	go func() { _ = s.Serve(lis) }()
	t.Cleanup(s.Stop)

	return lis.Addr().String()
}

func dialFederation(t *testing.T, addr string) *FederationClient {
	t.Helper()
	c, err := DialFederation(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestFederationClientFetchSchemaRoundTrips(t *testing.T) {
	reg, err := New(t.TempDir())
	require.NoError(t, err)
	addr := startFederationServer(t, reg)
	client := dialFederation(t, addr)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	schema, err := client.FetchSchema(ctx, "port_scan")
	require.NoError(t, err)
	require.Equal(t, "port_scan", schema.Name)
}

func TestFederationClientFetchSchemaNotFound(t *testing.T) {
	reg, err := New(t.TempDir())
	require.NoError(t, err)
	addr := startFederationServer(t, reg)
	client := dialFederation(t, addr)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err = client.FetchSchema(ctx, "does_not_exist")
	require.Error(t, err)
}

func TestFederationClientFetchAllReturnsEveryLocalSchema(t *testing.T) {
	reg, err := New(t.TempDir())
	require.NoError(t, err)
	want := len(reg.List())
	addr := startFederationServer(t, reg)
	client := dialFederation(t, addr)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	schemas, err := client.FetchAll(ctx)
	require.NoError(t, err)
	require.Len(t, schemas, want)
}

func TestFetchedSchemasInstallRemoteIntoAnotherRegistry(t *testing.T) {
	source, err := New(t.TempDir())
	require.NoError(t, err)
	addr := startFederationServer(t, source)
	client := dialFederation(t, addr)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	fetched, err := client.FetchAll(ctx)
	require.NoError(t, err)

	dest, err := New(t.TempDir())
	require.NoError(t, err)
	before := len(dest.List())
	dest.InstallRemote(fetched)
	require.Len(t, dest.List(), before, "federating schemas already served locally must not add duplicates")
}

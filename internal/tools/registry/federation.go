package registry

import (
	"context"
	"encoding/json"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/CharanRayudu/SentryAI/internal/tools"
)

// federationServiceName names the optional remote Tool Registry federation
// endpoint (component C): wired only if a remote registry is configured,
// the embedded on-disk Registry needs neither this server nor
// FederationClient. Every request and reply is a google.protobuf.Struct, so
// no .proto file or protoc step is required — the service is registered by
// hand via a grpc.ServiceDesc against pre-generated structpb types.
const federationServiceName = "sentryai.tools.ToolFederation"

// RegisterFederationServer exposes reg's current snapshot to remote callers
// over gRPC.
func RegisterFederationServer(s *grpc.Server, reg *Registry) {
	s.RegisterService(&federationServiceDesc, &federationServer{reg: reg})
}

type federationServer struct {
	reg *Registry
}

func (f *federationServer) list(_ context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	schemas := f.reg.List()
	raw, err := json.Marshal(schemas)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "marshal schemas: %v", err)
	}
	var rows []any
	if err := json.Unmarshal(raw, &rows); err != nil {
		return nil, status.Errorf(codes.Internal, "decode schemas: %v", err)
	}
	out, err := structpb.NewStruct(map[string]any{"schemas": rows})
	if err != nil {
		return nil, status.Errorf(codes.Internal, "encode response: %v", err)
	}
	return out, nil
}

func (f *federationServer) get(_ context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	nameVal, ok := req.GetFields()["name"]
	if !ok {
		return nil, status.Error(codes.InvalidArgument, `missing "name" field`)
	}
	name := nameVal.GetStringValue()
	schema, found := f.reg.Get(name)
	if !found {
		return nil, status.Errorf(codes.NotFound, "tool %q not registered", name)
	}
	raw, err := json.Marshal(schema)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "marshal schema: %v", err)
	}
	var asMap map[string]any
	if err := json.Unmarshal(raw, &asMap); err != nil {
		return nil, status.Errorf(codes.Internal, "decode schema: %v", err)
	}
	out, err := structpb.NewStruct(asMap)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "encode response: %v", err)
	}
	return out, nil
}

var federationServiceDesc = grpc.ServiceDesc{
	ServiceName: federationServiceName,
	HandlerType: (*any)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "List", Handler: federationListHandler},
		{MethodName: "Get", Handler: federationGetHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "internal/tools/registry/federation.go",
}

func federationListHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(*federationServer).list(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + federationServiceName + "/List"}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(*federationServer).list(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

func federationGetHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(*federationServer).get(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + federationServiceName + "/Get"}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(*federationServer).get(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

// FederationClient dials a remote Tool Registry federation endpoint and
// fetches schemas the local embedded/on-disk Registry does not carry.
type FederationClient struct {
	conn *grpc.ClientConn
}

// DialFederation opens a connection to a remote federation endpoint.
func DialFederation(target string, opts ...grpc.DialOption) (*FederationClient, error) {
	conn, err := grpc.NewClient(target, opts...)
	if err != nil {
		return nil, fmt.Errorf("registry: dial federation endpoint %s: %w", target, err)
	}
	return &FederationClient{conn: conn}, nil
}

// Close releases the underlying gRPC connection.
func (c *FederationClient) Close() error { return c.conn.Close() }

// FetchSchema retrieves one named tool schema from the remote registry.
func (c *FederationClient) FetchSchema(ctx context.Context, name string) (*tools.Schema, error) {
	req, err := structpb.NewStruct(map[string]any{"name": name})
	if err != nil {
		return nil, err
	}
	reply := new(structpb.Struct)
	if err := c.conn.Invoke(ctx, "/"+federationServiceName+"/Get", req, reply); err != nil {
		return nil, fmt.Errorf("registry: federation Get(%q): %w", name, err)
	}
	raw, err := reply.MarshalJSON()
	if err != nil {
		return nil, fmt.Errorf("registry: encode federated reply: %w", err)
	}
	var s tools.Schema
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, fmt.Errorf("registry: decode federated schema %q: %w", name, err)
	}
	if err := s.Validate(); err != nil {
		return nil, fmt.Errorf("registry: federated schema %q failed validation: %w", name, err)
	}
	return &s, nil
}

// FetchAll retrieves every schema the remote registry currently carries.
func (c *FederationClient) FetchAll(ctx context.Context) ([]*tools.Schema, error) {
	req, err := structpb.NewStruct(map[string]any{})
	if err != nil {
		return nil, err
	}
	reply := new(structpb.Struct)
	if err := c.conn.Invoke(ctx, "/"+federationServiceName+"/List", req, reply); err != nil {
		return nil, fmt.Errorf("registry: federation List: %w", err)
	}
	listVal, ok := reply.GetFields()["schemas"]
	if !ok {
		return nil, nil
	}
	raw, err := listVal.MarshalJSON()
	if err != nil {
		return nil, fmt.Errorf("registry: encode federated schema list: %w", err)
	}
	var schemas []*tools.Schema
	if err := json.Unmarshal(raw, &schemas); err != nil {
		return nil, fmt.Errorf("registry: decode federated schema list: %w", err)
	}
	return schemas, nil
}

// InstallRemote merges federated schemas into the current snapshot without
// persisting them to dir; a name already served locally is never
// overridden by a federated one.
func (r *Registry) InstallRemote(schemas []*tools.Schema) {
	r.mu.Lock()
	defer r.mu.Unlock()

	next := make(map[string]*tools.Schema)
	if cur := r.snapshot.Load(); cur != nil {
		for k, v := range *cur {
			next[k] = v
		}
	}
	for _, s := range schemas {
		if _, exists := next[s.Name]; !exists {
			next[s.Name] = s
		}
	}
	r.snapshot.Store(&next)
}

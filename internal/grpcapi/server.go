// Package grpcapi exposes role administration over gRPC. Messages are
// google.protobuf.Struct values, so no generated code is needed.
package grpcapi

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/epehc/crm-auth-service/internal/audit"
	"github.com/epehc/crm-auth-service/internal/auth"
	"github.com/epehc/crm-auth-service/internal/obs"
)

const (
	ServiceName = "crm.auth.v1.RoleAdmin"

	MethodAssignRoles = "/" + ServiceName + "/AssignRoles"
	MethodGrantAdmin  = "/" + ServiceName + "/GrantAdmin"
	MethodRevokeAdmin = "/" + ServiceName + "/RevokeAdmin"
	MethodGetUser     = "/" + ServiceName + "/GetUser"
)

var methodOps = map[string]auth.Operation{
	MethodAssignRoles: auth.OpAssignRoles,
	MethodGrantAdmin:  auth.OpGrantAdmin,
	MethodRevokeAdmin: auth.OpRevokeAdmin,
	MethodGetUser:     auth.OpReadUser,
}

type readinessChecker interface {
	Check(ctx context.Context) error
}

type roleAdminServer interface {
	AssignRoles(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GrantAdmin(context.Context, *structpb.Struct) (*structpb.Struct, error)
	RevokeAdmin(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetUser(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

var roleAdminDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*roleAdminServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "AssignRoles", Handler: unary(MethodAssignRoles, roleAdminServer.AssignRoles)},
		{MethodName: "GrantAdmin", Handler: unary(MethodGrantAdmin, roleAdminServer.GrantAdmin)},
		{MethodName: "RevokeAdmin", Handler: unary(MethodRevokeAdmin, roleAdminServer.RevokeAdmin)},
		{MethodName: "GetUser", Handler: unary(MethodGetUser, roleAdminServer.GetUser)},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "crm/auth/v1/role_admin.proto",
}

func unary(fullMethod string, call func(roleAdminServer, context.Context, *structpb.Struct) (*structpb.Struct, error)) func(any, context.Context, func(any) error, grpc.UnaryServerInterceptor) (any, error) {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(structpb.Struct)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(roleAdminServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(srv.(roleAdminServer), ctx, req.(*structpb.Struct))
		}
		return interceptor(ctx, in, info, handler)
	}
}

// Server implements the RoleAdmin service on top of auth.Administration.
type Server struct {
	admin     *auth.Administration
	access    *auth.AccessController
	readiness readinessChecker
	health    *health.Server
}

func NewServer(admin *auth.Administration, access *auth.AccessController, readiness readinessChecker) *Server {
	return &Server{admin: admin, access: access, readiness: readiness, health: health.NewServer()}
}

// NewGRPCServer builds a grpc.Server with tracing, the auth interceptor, the
// RoleAdmin service and the standard health service.
func NewGRPCServer(s *Server, opts ...grpc.ServerOption) *grpc.Server {
	base := []grpc.ServerOption{
		grpc.StatsHandler(otelgrpc.NewServerHandler()),
		grpc.ChainUnaryInterceptor(s.UnaryAuthInterceptor()),
	}
	srv := grpc.NewServer(append(base, opts...)...)
	srv.RegisterService(&roleAdminDesc, s)
	healthpb.RegisterHealthServer(srv, s.health)
	s.RefreshHealth(context.Background())
	return srv
}

// RefreshHealth runs the readiness check and publishes the result to the
// health service.
func (s *Server) RefreshHealth(ctx context.Context) {
	st := healthpb.HealthCheckResponse_SERVING
	if s.readiness != nil {
		checkCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		err := s.readiness.Check(checkCtx)
		cancel()
		if err != nil {
			st = healthpb.HealthCheckResponse_NOT_SERVING
		}
	}
	obs.SetReady(st == healthpb.HealthCheckResponse_SERVING)
	s.health.SetServingStatus("", st)
	s.health.SetServingStatus(ServiceName, st)
}

// WatchHealth refreshes the health status every interval until ctx ends.
func (s *Server) WatchHealth(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			s.health.Shutdown()
			return
		case <-ticker.C:
			s.RefreshHealth(ctx)
		}
	}
}

// UnaryAuthInterceptor authorizes RoleAdmin calls from the bearer token in
// the authorization metadata. Other services pass through.
func (s *Server) UnaryAuthInterceptor() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		op, guarded := methodOps[info.FullMethod]
		if !guarded {
			return handler(ctx, req)
		}
		token := bearerFromMetadata(ctx)
		if token == "" {
			obs.ObserveAuthDecision("unauthenticated")
			return nil, status.Error(codes.Unauthenticated, "missing bearer token")
		}
		id, err := s.access.AuthorizeOperation(token, op)
		if err != nil {
			if errors.Is(err, auth.ErrForbidden) {
				obs.ObserveAuthDecision("forbidden")
			} else {
				obs.ObserveAuthDecision("unauthenticated")
			}
			return nil, toStatus(err)
		}
		obs.ObserveAuthDecision("allowed")
		ctx = auth.ContextWithIdentity(ctx, id)
		if md, ok := metadata.FromIncomingContext(ctx); ok {
			if rid := md.Get("x-request-id"); len(rid) > 0 {
				ctx = audit.WithRequestID(ctx, rid[0])
			}
		}
		return handler(ctx, req)
	}
}

func (s *Server) AssignRoles(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	roles, err := stringList(in, "roles")
	if err != nil {
		return nil, err
	}
	u, err := s.admin.AssignRoles(ctx, stringField(in, "userId"), roles)
	if err != nil {
		return nil, toStatus(err)
	}
	return roleChange("Roles updated successfully", u)
}

func (s *Server) GrantAdmin(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	u, err := s.admin.GrantAdmin(ctx, stringField(in, "userId"))
	if err != nil {
		return nil, toStatus(err)
	}
	return roleChange("User is now an admin", u)
}

func (s *Server) RevokeAdmin(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	u, err := s.admin.RevokeAdmin(ctx, stringField(in, "userId"))
	if err != nil {
		return nil, toStatus(err)
	}
	return roleChange("User is no longer an admin", u)
}

func (s *Server) GetUser(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	u, err := s.admin.GetUser(ctx, stringField(in, "userId"))
	if err != nil {
		return nil, toStatus(err)
	}
	view, err := userStruct(u.View())
	if err != nil {
		return nil, status.Error(codes.Internal, "encode user")
	}
	return &structpb.Struct{Fields: map[string]*structpb.Value{"user": structpb.NewStructValue(view)}}, nil
}

func roleChange(msg string, u auth.User) (*structpb.Struct, error) {
	view, err := userStruct(u.View())
	if err != nil {
		return nil, status.Error(codes.Internal, "encode user")
	}
	return &structpb.Struct{Fields: map[string]*structpb.Value{
		"message": structpb.NewStringValue(msg),
		"user":    structpb.NewStructValue(view),
	}}, nil
}

func userStruct(v auth.UserView) (*structpb.Struct, error) {
	roles := make([]any, 0, len(v.Roles))
	for _, r := range v.Roles {
		roles = append(roles, string(r))
	}
	return structpb.NewStruct(map[string]any{
		"id":    v.ID,
		"name":  v.Name,
		"email": v.Email,
		"roles": roles,
	})
}

func stringField(in *structpb.Struct, key string) string {
	return strings.TrimSpace(in.GetFields()[key].GetStringValue())
}

func stringList(in *structpb.Struct, key string) ([]string, error) {
	values := in.GetFields()[key].GetListValue().GetValues()
	out := make([]string, 0, len(values))
	for _, v := range values {
		s, ok := v.GetKind().(*structpb.Value_StringValue)
		if !ok {
			return nil, status.Errorf(codes.InvalidArgument, "%s must be a list of strings", key)
		}
		out = append(out, s.StringValue)
	}
	return out, nil
}

func bearerFromMetadata(ctx context.Context) string {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return ""
	}
	for _, v := range md.Get("authorization") {
		v = strings.TrimSpace(v)
		if len(v) > 7 && strings.EqualFold(v[:7], "bearer ") {
			return strings.TrimSpace(v[7:])
		}
	}
	return ""
}

// toStatus maps core errors onto gRPC codes.
func toStatus(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, auth.ErrInvalidAssertion), errors.Is(err, auth.ErrUnauthenticated):
		return status.Error(codes.Unauthenticated, err.Error())
	case errors.Is(err, auth.ErrForbidden):
		return status.Error(codes.PermissionDenied, err.Error())
	case errors.Is(err, auth.ErrConflict):
		return status.Error(codes.AlreadyExists, err.Error())
	case errors.Is(err, auth.ErrNotFound):
		return status.Error(codes.NotFound, err.Error())
	case errors.Is(err, auth.ErrValidation):
		return status.Error(codes.InvalidArgument, err.Error())
	}
	obs.Error("grpc call failed", err, nil)
	return status.Error(codes.Internal, "internal error")
}

package grpcapi

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/epehc/crm-auth-service/internal/auth"
)

// Client calls RoleAdmin with a fixed bearer token.
type Client struct {
	conn  *grpc.ClientConn
	token string
}

// Dial opens a plaintext connection to addr.
func Dial(addr, token string) (*Client, error) {
	conn, err := grpc.NewClient(addr,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithStatsHandler(otelgrpc.NewClientHandler()),
	)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}
	return NewClient(conn, token), nil
}

func NewClient(conn *grpc.ClientConn, token string) *Client {
	return &Client{conn: conn, token: token}
}

func (c *Client) Close() error { return c.conn.Close() }

// RoleChange is the reply of the role mutations.
type RoleChange struct {
	Message string
	User    auth.UserView
}

func (c *Client) AssignRoles(ctx context.Context, userID string, roles []string) (RoleChange, error) {
	list := make([]any, 0, len(roles))
	for _, r := range roles {
		list = append(list, r)
	}
	return c.roleCall(ctx, MethodAssignRoles, map[string]any{"userId": userID, "roles": list})
}

func (c *Client) GrantAdmin(ctx context.Context, userID string) (RoleChange, error) {
	return c.roleCall(ctx, MethodGrantAdmin, map[string]any{"userId": userID})
}

func (c *Client) RevokeAdmin(ctx context.Context, userID string) (RoleChange, error) {
	return c.roleCall(ctx, MethodRevokeAdmin, map[string]any{"userId": userID})
}

func (c *Client) GetUser(ctx context.Context, userID string) (auth.UserView, error) {
	out, err := c.invoke(ctx, MethodGetUser, map[string]any{"userId": userID})
	if err != nil {
		return auth.UserView{}, err
	}
	return userFromStruct(out.GetFields()["user"].GetStructValue())
}

func (c *Client) roleCall(ctx context.Context, method string, in map[string]any) (RoleChange, error) {
	out, err := c.invoke(ctx, method, in)
	if err != nil {
		return RoleChange{}, err
	}
	u, err := userFromStruct(out.GetFields()["user"].GetStructValue())
	if err != nil {
		return RoleChange{}, err
	}
	return RoleChange{Message: out.GetFields()["message"].GetStringValue(), User: u}, nil
}

func (c *Client) invoke(ctx context.Context, method string, in map[string]any) (*structpb.Struct, error) {
	req, err := structpb.NewStruct(in)
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}
	if c.token != "" {
		ctx = metadata.AppendToOutgoingContext(ctx, "authorization", "Bearer "+c.token)
	}
	out := new(structpb.Struct)
	if err := c.conn.Invoke(ctx, method, req, out); err != nil {
		return nil, fromStatus(err)
	}
	return out, nil
}

func userFromStruct(s *structpb.Struct) (auth.UserView, error) {
	if s == nil {
		return auth.UserView{}, errors.New("response carries no user")
	}
	f := s.GetFields()
	var names []string
	for _, v := range f["roles"].GetListValue().GetValues() {
		names = append(names, v.GetStringValue())
	}
	roles, err := auth.ParseRoleSet(names)
	if err != nil {
		return auth.UserView{}, err
	}
	return auth.UserView{
		ID:    f["id"].GetStringValue(),
		Name:  f["name"].GetStringValue(),
		Email: f["email"].GetStringValue(),
		Roles: roles,
	}, nil
}

// fromStatus turns a gRPC status back into the matching core error.
func fromStatus(err error) error {
	st, ok := status.FromError(err)
	if !ok {
		return err
	}
	var base error
	switch st.Code() {
	case codes.Unauthenticated:
		base = auth.ErrUnauthenticated
	case codes.PermissionDenied:
		base = auth.ErrForbidden
	case codes.AlreadyExists:
		base = auth.ErrConflict
	case codes.NotFound:
		base = auth.ErrNotFound
	case codes.InvalidArgument:
		base = auth.ErrValidation
	default:
		return err
	}
	return fmt.Errorf("%w: %s", base, st.Message())
}

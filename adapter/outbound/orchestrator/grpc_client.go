package orchestrator

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/ajkula/GoPIO/domain/model"
	"github.com/ajkula/GoPIO/domain/port/outbound"
)

// ServiceName is the gRPC service exposed by the engine. Every method takes a
// google.protobuf.Struct envelope and answers a google.protobuf.Value.
const ServiceName = "pio.Orchestrator"

// bearerCredentials attaches a fresh token to every RPC
type bearerCredentials struct {
	tokens *TokenIssuer
}

func (b bearerCredentials) GetRequestMetadata(ctx context.Context, uri ...string) (map[string]string, error) {
	token, err := b.tokens.Issue()
	if err != nil {
		return nil, err
	}
	return map[string]string{"authorization": "Bearer " + token}, nil
}

// the engine listens on a local or tunnelled port
func (bearerCredentials) RequireTransportSecurity() bool {
	return false
}

type grpcInvoker struct {
	conn   *grpc.ClientConn
	logger outbound.Logger
}

// NewGRPCClient connects to target lazily; the first RPC dials
func NewGRPCClient(target string, tokens *TokenIssuer, logger outbound.Logger, opts ...grpc.DialOption) (*Client, error) {
	dialOpts := []grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	}
	if tokens != nil {
		dialOpts = append(dialOpts, grpc.WithPerRPCCredentials(bearerCredentials{tokens: tokens}))
	}
	dialOpts = append(dialOpts, opts...)

	conn, err := grpc.NewClient(target, dialOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create gRPC client: %w", err)
	}
	return newClient(&grpcInvoker{conn: conn, logger: logger}, logger), nil
}

func (g *grpcInvoker) invoke(ctx context.Context, op, method string, args map[string]any) (any, error) {
	id := uuid.NewString()
	req, err := structpb.NewStruct(envelope(id, method, args))
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s request: %w", op, err)
	}

	resp := new(structpb.Value)
	if err := g.conn.Invoke(ctx, "/"+ServiceName+"/"+op, req, resp); err != nil {
		g.logger.Debug("Orchestrator RPC failed", "op", op, "id", id, "error", err)
		return nil, rpcError(ctx, op, err)
	}

	if _, isNull := resp.GetKind().(*structpb.Value_NullValue); isNull || resp.GetKind() == nil {
		return nil, nil
	}
	return resp.AsInterface(), nil
}

func rpcError(ctx context.Context, op string, err error) error {
	if ctx.Err() != nil {
		return fmt.Errorf("%s: %w", op, ctx.Err())
	}
	st, _ := status.FromError(err)
	switch st.Code() {
	case codes.Unavailable:
		return fmt.Errorf("%w: %s: %s", model.ErrRemoteUnreachable, op, st.Message())
	case codes.NotFound:
		return fmt.Errorf("%w: %s: %s", model.ErrUnknownService, op, st.Message())
	case codes.DeadlineExceeded:
		return fmt.Errorf("%w: %s: %s", model.ErrCallTimeout, op, st.Message())
	default:
		return fmt.Errorf("%s: %w", op, err)
	}
}

func (g *grpcInvoker) Close() error {
	return g.conn.Close()
}

package grpc

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/KlistenesLima/krt-bank-sub000/internal/domain"
)

// ServiceName is the fully qualified gRPC service name
const ServiceName = "krtbank.payments.v1.TransferService"

// TransferIntake is what the API needs from the intake use case
type TransferIntake interface {
	Initiate(ctx context.Context, input domain.NewTransferInput) (*domain.Transfer, bool, error)
	Get(ctx context.Context, id uuid.UUID) (*domain.Transfer, error)
}

// Server implements the TransferService gRPC server
type Server struct {
	Intake TransferIntake
}

// NewServer creates a new gRPC server instance
func NewServer(intake TransferIntake) *Server {
	return &Server{Intake: intake}
}

// InitiateTransfer handles the InitiateTransfer RPC
func (s *Server) InitiateTransfer(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	fields := req.GetFields()

	// Parse amount: strings keep full precision, numbers are accepted for convenience
	amount, err := parseAmount(fields["amount"])
	if err != nil {
		return nil, status.Errorf(codes.InvalidArgument, "invalid amount format: %v", err)
	}

	input := domain.NewTransferInput{
		SourceAccountID:      fields["sourceAccountId"].GetStringValue(),
		DestinationAccountID: fields["destinationAccountId"].GetStringValue(),
		Amount:               amount,
		Currency:             fields["currency"].GetStringValue(),
		DestinationKey:       fields["destinationKey"].GetStringValue(),
		Description:          fields["description"].GetStringValue(),
		IdempotencyKey:       fields["idempotencyKey"].GetStringValue(),
	}

	t, created, err := s.Intake.Initiate(ctx, input)
	if err != nil {
		return nil, mapError(err)
	}

	resp, err := transferToStruct(t)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "failed to encode transfer: %v", err)
	}
	resp.Fields["created"] = structpb.NewBoolValue(created)
	return resp, nil
}

// GetTransfer handles the GetTransfer RPC
func (s *Server) GetTransfer(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	id, err := uuid.Parse(req.GetFields()["id"].GetStringValue())
	if err != nil {
		return nil, status.Errorf(codes.InvalidArgument, "invalid id format: %v", err)
	}

	t, err := s.Intake.Get(ctx, id)
	if err != nil {
		return nil, mapError(err)
	}

	resp, err := transferToStruct(t)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "failed to encode transfer: %v", err)
	}
	return resp, nil
}

// Options configure NewGRPCServer
type Options struct {
	JWTSecret []byte
	Issuer    string
	Logger    *zap.Logger
}

// NewGRPCServer builds a gRPC server with logging and auth interceptors,
// the TransferService, the health service and reflection.
func NewGRPCServer(s *Server, opts Options) (*grpc.Server, *health.Server) {
	gs := grpc.NewServer(
		grpc.ChainUnaryInterceptor(
			LoggingInterceptor(opts.Logger),
			AuthInterceptor(opts.JWTSecret, opts.Issuer),
		),
	)

	Register(gs, s)

	healthServer := health.NewServer()
	healthServer.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(gs, healthServer)

	reflection.Register(gs)
	return gs, healthServer
}

// Register adds the TransferService to gs
func Register(gs grpc.ServiceRegistrar, s *Server) {
	gs.RegisterService(&transferServiceDesc, s)
}

type transferServiceServer interface {
	InitiateTransfer(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetTransfer(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

var transferServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*transferServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "InitiateTransfer",
			Handler: unaryHandler("InitiateTransfer", func(srv transferServiceServer) func(context.Context, *structpb.Struct) (*structpb.Struct, error) {
				return srv.InitiateTransfer
			}),
		},
		{
			MethodName: "GetTransfer",
			Handler: unaryHandler("GetTransfer", func(srv transferServiceServer) func(context.Context, *structpb.Struct) (*structpb.Struct, error) {
				return srv.GetTransfer
			}),
		},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "krtbank/payments/v1/transfer.proto",
}

func unaryHandler(
	method string,
	pick func(transferServiceServer) func(context.Context, *structpb.Struct) (*structpb.Struct, error),
) func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	fullMethod := "/" + ServiceName + "/" + method
	return func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
		in := new(structpb.Struct)
		if err := dec(in); err != nil {
			return nil, err
		}
		call := pick(srv.(transferServiceServer))
		if interceptor == nil {
			return call(ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		handler := func(ctx context.Context, req interface{}) (interface{}, error) {
			return call(ctx, req.(*structpb.Struct))
		}
		return interceptor(ctx, in, info, handler)
	}
}

// Client calls the TransferService
type Client struct {
	conn grpc.ClientConnInterface
}

// NewClient creates a TransferService client over conn
func NewClient(conn grpc.ClientConnInterface) *Client {
	return &Client{conn: conn}
}

// InitiateTransfer calls the InitiateTransfer RPC
func (c *Client) InitiateTransfer(ctx context.Context, req *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.conn.Invoke(ctx, "/"+ServiceName+"/InitiateTransfer", req, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

// GetTransfer calls the GetTransfer RPC
func (c *Client) GetTransfer(ctx context.Context, req *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.conn.Invoke(ctx, "/"+ServiceName+"/GetTransfer", req, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func parseAmount(v *structpb.Value) (decimal.Decimal, error) {
	switch kind := v.GetKind().(type) {
	case *structpb.Value_StringValue:
		return decimal.NewFromString(kind.StringValue)
	case *structpb.Value_NumberValue:
		return decimal.NewFromString(strconv.FormatFloat(kind.NumberValue, 'f', -1, 64))
	default:
		return decimal.Zero, errors.New("amount is required")
	}
}

// transferView is the wire representation of a transfer
func transferView(t *domain.Transfer) map[string]interface{} {
	view := map[string]interface{}{
		"id":                   t.ID.String(),
		"status":               string(t.Status),
		"sourceAccountId":      t.SourceAccountID,
		"destinationAccountId": t.DestinationAccountID,
		"amount":               t.Amount.StringFixed(2),
		"currency":             t.Currency,
		"destinationKey":       t.DestinationKey,
		"description":          t.Description,
		"idempotencyKey":       t.IdempotencyKey,
		"needsReconciliation":  t.NeedsReconciliation,
		"createdAt":            t.CreatedAt.UTC().Format(time.RFC3339Nano),
		"updatedAt":            t.UpdatedAt.UTC().Format(time.RFC3339Nano),
	}
	if t.FailureReason != "" {
		view["failureReason"] = t.FailureReason
	}
	if t.FraudScore != nil {
		view["fraudScore"] = t.FraudScore.String()
	}
	if t.CompletedAt != nil {
		view["completedAt"] = t.CompletedAt.UTC().Format(time.RFC3339Nano)
	}
	return view
}

func transferToStruct(t *domain.Transfer) (*structpb.Struct, error) {
	return structpb.NewStruct(transferView(t))
}

// mapError converts domain errors to gRPC status errors
func mapError(err error) error {
	if err == nil {
		return nil
	}

	errorMsg := err.Error()

	switch {
	case errors.Is(err, domain.ErrValidation):
		return status.Errorf(codes.InvalidArgument, "%s", errorMsg)
	case errors.Is(err, domain.ErrNotFound):
		return status.Errorf(codes.NotFound, "%s", errorMsg)
	case errors.Is(err, domain.ErrIdempotencyConflict):
		return status.Errorf(codes.AlreadyExists, "%s", errorMsg)
	case errors.Is(err, domain.ErrInvalidState), errors.Is(err, domain.ErrVersionConflict):
		return status.Errorf(codes.FailedPrecondition, "%s", errorMsg)
	case errors.Is(err, context.DeadlineExceeded):
		return status.Errorf(codes.DeadlineExceeded, "%s", errorMsg)
	}

	// Default to Internal error for unknown errors
	return status.Errorf(codes.Internal, "%s", errorMsg)
}

// Package grpcclient provides a gRPC transport for the classifier. The
// service exchanges google.protobuf.Struct messages that mirror the JSON
// contract, so no generated stubs are required.
package grpcclient

import (
	"context"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/example/skin-analysis/internal/classifier"
	"github.com/example/skin-analysis/internal/logging"
)

// DefaultMethod is the fully qualified unary method invoked per analysis.
const DefaultMethod = "/classifier.Classifier/Classify"

// DialClassifier returns a ready-to-use classifier transport over gRPC.
func DialClassifier(ctx context.Context, addr string, logger *zap.Logger, opts ...grpc.DialOption) (classifier.Transport, *grpc.ClientConn, error) {
	dialCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	dialOpts := append([]grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithBlock(),
	}, opts...)

	conn, err := grpc.DialContext(dialCtx, addr, dialOpts...)
	if err != nil {
		wrapped := logging.NewOperationError("grpcclient.dial_classifier", "", err)
		logger.Error("failed to dial classifier", zap.Error(wrapped), zap.String("addr", addr))
		return nil, nil, wrapped
	}
	return NewTransport(conn, DefaultMethod, logger), conn, nil
}

// NewTransport wraps an existing connection.
func NewTransport(conn grpc.ClientConnInterface, method string, logger *zap.Logger) classifier.Transport {
	if method == "" {
		method = DefaultMethod
	}
	return &grpcTransport{conn: conn, method: method, logger: logger}
}

type grpcTransport struct {
	conn   grpc.ClientConnInterface
	method string
	logger *zap.Logger
}

// Send invokes the classify method and renders the reply as JSON so the
// classifier client parses both transports identically.
func (g *grpcTransport) Send(ctx context.Context, req classifier.Request) ([]byte, error) {
	in, err := structpb.NewStruct(map[string]any{req.ImageField: req.Image})
	if err != nil {
		return nil, logging.NewOperationError("grpcclient.build_request", "", err)
	}

	out := &structpb.Struct{}
	if err := g.conn.Invoke(ctx, g.method, in, out); err != nil {
		wrapped := logging.NewOperationError("grpcclient.classify", "", err)
		g.logger.Error("classifier call failed", zap.Error(wrapped), zap.String("method", g.method))
		return nil, wrapped
	}
	return protojson.Marshal(out)
}

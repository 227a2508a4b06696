package api

import (
	"bytes"
	"context"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

func TestAccessLogInterceptor(t *testing.T) {
	request, err := structpb.NewStruct(map[string]any{"addr": "10.0.0.5"})
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name        string
		err         error
		wantContain []string
	}{
		{
			name: "completed",
			wantContain: []string{
				`"addr":"10.0.0.5"`,
				`"level":"info","msg":"completed gRPC execution"`,
			},
		},
		{
			name: "rejected",
			err:  status.Error(codes.NotFound, "unknown scope"),
			wantContain: []string{
				`"level":"warn","msg":"rejected gRPC execution"`,
				`"status":"NotFound"`,
			},
		},
		{
			name: "failed",
			err:  status.Error(codes.Internal, "boom"),
			wantContain: []string{
				`"level":"error","msg":"failed to execute gRPC"`,
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf := new(bytes.Buffer)
			logger := zap.New(zapcore.NewCore(
				zapcore.NewJSONEncoder(zapcore.EncoderConfig{
					MessageKey:  "msg",
					LevelKey:    "level",
					EncodeLevel: zapcore.LowercaseLevelEncoder,
				}),
				zapcore.AddSync(buf),
				zap.DebugLevel,
			)).Sugar()

			interceptor := AccessLogInterceptor(logger)
			info := &grpc.UnaryServerInfo{FullMethod: methodResolve}

			_, _ = interceptor(context.Background(), request, info, func(ctx context.Context, req any) (any, error) {
				return nil, tt.err
			})
			_ = logger.Sync()

			for _, want := range tt.wantContain {
				if !bytes.Contains(buf.Bytes(), []byte(want)) {
					t.Errorf("log output = %q, want to contain %q", buf.String(), want)
				}
			}
		})
	}
}

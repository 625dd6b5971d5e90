package grpctransport

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/porthorian/procureauth/pkg/gateway"
)

const authorizationKey = "authorization"

// UnaryClientInterceptor attaches the session credential to outgoing calls of
// remote-procedure collaborators (ledger, contract query) and applies the
// refresh-and-retry-once policy when a call fails with codes.Unauthenticated.
func UnaryClientInterceptor(core *gateway.Gateway) grpc.UnaryClientInterceptor {
	return func(ctx context.Context, method string, req, reply any, cc *grpc.ClientConn, invoker grpc.UnaryInvoker, opts ...grpc.CallOption) error {
		return core.Call(ctx, func(ctx context.Context, credential string) (bool, error) {
			outgoing := metadata.AppendToOutgoingContext(ctx, authorizationKey, "Bearer "+credential)
			err := invoker(outgoing, method, req, reply, cc, opts...)
			if status.Code(err) == codes.Unauthenticated {
				return true, nil
			}
			return false, err
		})
	}
}

package testutil

import (
	"net"
	"testing"

	"google.golang.org/grpc"
)

// StartGRPCServer serves server on a loopback port until the test ends and
// returns the address.
func StartGRPCServer(t *testing.T, server *grpc.Server) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	go func() {
		_ = server.Serve(ln)
	}()
	t.Cleanup(func() {
		server.GracefulStop()
		_ = ln.Close()
	})
	return ln.Addr().String()
}

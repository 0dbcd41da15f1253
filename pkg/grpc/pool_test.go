package grpc

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
)

func TestPool_ReusesConnection(t *testing.T) {
	p := NewPool()
	defer p.Close()

	c1, err := p.GetConnection("localhost:50051")
	require.NoError(t, err)
	c2, err := p.GetConnection("localhost:50051")
	require.NoError(t, err)
	assert.Same(t, c1, c2)

	c3, err := p.GetConnection("localhost:50052")
	require.NoError(t, err)
	assert.NotSame(t, c1, c3)
}

func TestPool_ReplacesClosedConnection(t *testing.T) {
	p := NewPool()
	defer p.Close()

	c1, err := p.GetConnection("localhost:50051")
	require.NoError(t, err)
	require.NoError(t, c1.Close())

	c2, err := p.GetConnection("localhost:50051")
	require.NoError(t, err)
	assert.NotSame(t, c1, c2)
}

func TestPool_Concurrent(t *testing.T) {
	p := NewPool()
	defer p.Close()

	const n = 32
	conns := make([]*grpc.ClientConn, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			c, err := p.GetConnection("localhost:50051")
			assert.NoError(t, err)
			conns[i] = c
		}(i)
	}
	wg.Wait()
	for _, c := range conns {
		assert.Same(t, conns[0], c)
	}
}

func TestPool_Options(t *testing.T) {
	unary := func(ctx context.Context, method string, req, reply any, cc *grpc.ClientConn, invoker grpc.UnaryInvoker, opts ...grpc.CallOption) error {
		return invoker(ctx, method, req, reply, cc, opts...)
	}
	p := NewPool(WithInterceptor(unary), WithInterceptor(unary), WithDialOptions(grpc.WithUserAgent("ledgerctl")))
	defer p.Close()

	assert.Len(t, p.unary, 2)
	assert.Len(t, p.dialOpts, 1)

	_, err := p.GetConnection("localhost:50051")
	require.NoError(t, err)
}

func TestPool_CloseEmptiesPool(t *testing.T) {
	p := NewPool()
	_, err := p.GetConnection("localhost:50051")
	require.NoError(t, err)
	require.NoError(t, p.Close())

	count := 0
	p.conns.Range(func(_, _ any) bool { count++; return true })
	assert.Zero(t, count)
}

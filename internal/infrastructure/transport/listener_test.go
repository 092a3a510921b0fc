package transport

import (
	"context"
	"errors"
	"net"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type handlerFunc func(ctx context.Context, conn net.Conn) error

func (f handlerFunc) Handle(ctx context.Context, conn net.Conn) error {
	return f(ctx, conn)
}

func TestSupervisor_BindFailureIsFatal(t *testing.T) {
	t.Parallel()

	occupied, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer occupied.Close()

	noop := handlerFunc(func(ctx context.Context, conn net.Conn) error { return conn.Close() })
	supervisor := NewSupervisor(newTestLogger(),
		Endpoint{Name: EndpointHTTP, Addr: "127.0.0.1:0", Handler: noop},
		Endpoint{Name: EndpointSocks5, Addr: occupied.Addr().String(), Handler: noop},
	)

	err = supervisor.Start(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), EndpointSocks5)
	assert.Nil(t, supervisor.Addr(EndpointHTTP))
}

func TestSupervisor_HandlerFailuresAreIsolated(t *testing.T) {
	t.Parallel()

	var calls int32
	served := make(chan struct{}, 8)
	handler := handlerFunc(func(ctx context.Context, conn net.Conn) error {
		defer conn.Close()
		switch atomic.AddInt32(&calls, 1) {
		case 1:
			panic("handler blew up")
		case 2:
			return errors.New("handler failed")
		}
		served <- struct{}{}
		return nil
	})

	supervisor := NewSupervisor(newTestLogger(), Endpoint{Name: EndpointHTTP, Addr: "127.0.0.1:0", Handler: handler})
	require.NoError(t, supervisor.Start(context.Background()))
	defer supervisor.Stop()
	addr := supervisor.Addr(EndpointHTTP).String()

	for i := 0; i < 3; i++ {
		conn, err := net.Dial("tcp", addr)
		require.NoError(t, err)
		conn.Close()
	}

	select {
	case <-served:
	case <-time.After(5 * time.Second):
		t.Fatal("third connection was not served")
	}
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestSupervisor_ServesConnectionsConcurrently(t *testing.T) {
	t.Parallel()

	// each handler blocks until both connections are being served
	var entered sync.WaitGroup
	entered.Add(2)
	released := make(chan struct{})
	done := make(chan struct{}, 2)

	handler := handlerFunc(func(ctx context.Context, conn net.Conn) error {
		defer conn.Close()
		entered.Done()
		<-released
		done <- struct{}{}
		return nil
	})

	supervisor := NewSupervisor(newTestLogger(),
		Endpoint{Name: EndpointHTTP, Addr: "127.0.0.1:0", Handler: handler},
		Endpoint{Name: EndpointSocks5, Addr: "127.0.0.1:0", Handler: handler},
	)
	require.NoError(t, supervisor.Start(context.Background()))
	defer supervisor.Stop()

	for _, name := range []string{EndpointHTTP, EndpointSocks5} {
		conn, err := net.Dial("tcp", supervisor.Addr(name).String())
		require.NoError(t, err)
		defer conn.Close()
	}

	waited := make(chan struct{})
	go func() {
		entered.Wait()
		close(waited)
	}()
	select {
	case <-waited:
	case <-time.After(5 * time.Second):
		t.Fatal("connections were not served concurrently")
	}
	close(released)
	<-done
	<-done
}

func TestSupervisor_Stop(t *testing.T) {
	t.Parallel()

	noop := handlerFunc(func(ctx context.Context, conn net.Conn) error { return conn.Close() })
	supervisor := NewSupervisor(newTestLogger(), Endpoint{Name: EndpointHTTP, Addr: "127.0.0.1:0", Handler: noop})
	require.NoError(t, supervisor.Start(context.Background()))
	addr := supervisor.Addr(EndpointHTTP).String()

	supervisor.Stop()

	_, err := net.DialTimeout("tcp", addr, time.Second)
	assert.Error(t, err)
	assert.Error(t, supervisor.Start(context.Background()))
}

package util

import (
	"sync"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// ConnectionPool shares one client connection per endpoint.
type ConnectionPool struct {
	sync.Map
}

func (p *ConnectionPool) GetConnection(address string) (*grpc.ClientConn, error) {
	if conn, ok := p.getConnection(address); ok {
		return conn, nil
	}

	conn, err := grpc.Dial(address, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, err
	}

	if existing, loaded := p.LoadOrStore(address, conn); loaded {
		conn.Close()
		return existing.(*grpc.ClientConn), nil
	}
	return conn, nil
}

func (p *ConnectionPool) Close() error {
	var firstErr error
	p.Range(func(key, value any) bool {
		if err := value.(*grpc.ClientConn).Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		p.Delete(key)
		return true
	})
	return firstErr
}

func (p *ConnectionPool) getConnection(address string) (*grpc.ClientConn, bool) {
	if item, ok := p.Load(address); !ok {
		return nil, false
	} else {
		return item.(*grpc.ClientConn), true
	}
}

package kvstore

import (
	"context"
	"time"

	clientv3 "go.etcd.io/etcd/client/v3"
	"go.etcd.io/etcd/client/v3/concurrency"
)

// EtcdKV adapts an etcd clientv3.Client to the KV interface.
type EtcdKV struct {
	cli *clientv3.Client
}

func DialEtcd(endpoints []string, dialTimeout time.Duration) (*EtcdKV, error) {
	cli, err := clientv3.New(clientv3.Config{
		Endpoints:   endpoints,
		DialTimeout: dialTimeout,
	})
	if err != nil {
		return nil, err
	}
	return &EtcdKV{cli: cli}, nil
}

func (e *EtcdKV) Put(ctx context.Context, key string, value []byte, leaseID LeaseID) error {
	opts := []clientv3.OpOption{}
	if leaseID != 0 {
		opts = append(opts, clientv3.WithLease(clientv3.LeaseID(leaseID)))
	}
	_, err := e.cli.Put(ctx, key, string(value), opts...)
	return err
}

func (e *EtcdKV) Get(ctx context.Context, prefix string) ([]KeyValue, error) {
	resp, err := e.cli.Get(ctx, prefix, clientv3.WithPrefix())
	if err != nil {
		return nil, err
	}
	out := make([]KeyValue, 0, len(resp.Kvs))
	for _, kv := range resp.Kvs {
		out = append(out, KeyValue{Key: string(kv.Key), Value: kv.Value})
	}
	return out, nil
}

func (e *EtcdKV) Delete(ctx context.Context, key string) error {
	_, err := e.cli.Delete(ctx, key)
	return err
}

func (e *EtcdKV) LeaseGrant(ctx context.Context, ttl time.Duration) (LeaseID, error) {
	resp, err := e.cli.Grant(ctx, int64(ttl.Seconds()))
	if err != nil {
		return 0, err
	}
	return LeaseID(resp.ID), nil
}

func (e *EtcdKV) LeaseKeepAlive(ctx context.Context, id LeaseID) error {
	ch, err := e.cli.KeepAlive(ctx, clientv3.LeaseID(id))
	if err != nil {
		return err
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case resp, ok := <-ch:
			if !ok || resp == nil {
				return ErrLeaseGone
			}
		}
	}
}

func (e *EtcdKV) Watch(ctx context.Context, prefix string) (<-chan Event, error) {
	out := make(chan Event, 64)
	wch := e.cli.Watch(ctx, prefix, clientv3.WithPrefix())
	go func() {
		defer close(out)
		for resp := range wch {
			for _, ev := range resp.Events {
				e := Event{Key: string(ev.Kv.Key), Value: ev.Kv.Value}
				if ev.Type == clientv3.EventTypeDelete {
					e.Type = EventDelete
				} else {
					e.Type = EventPut
				}
				select {
				case out <- e:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

type etcdUnlocker struct {
	session *concurrency.Session
	mutex   *concurrency.Mutex
}

func (u *etcdUnlocker) Unlock(ctx context.Context) error {
	defer u.session.Close()
	select {
	case <-u.session.Done():
		return ErrLockLost
	default:
	}
	return u.mutex.Unlock(ctx)
}

func (e *EtcdKV) Lock(ctx context.Context, name string) (Unlocker, error) {
	session, err := concurrency.NewSession(e.cli)
	if err != nil {
		return nil, err
	}
	mutex := concurrency.NewMutex(session, name)
	if err := mutex.Lock(ctx); err != nil {
		session.Close()
		return nil, err
	}
	return &etcdUnlocker{session: session, mutex: mutex}, nil
}

func (e *EtcdKV) Close() error { return e.cli.Close() }

package engine

import "context"

// Future 是已提交任务的结果句柄，任务完成后恰好兑现一次。
type Future[T any] struct {
	done  chan struct{}
	value T
	err   error
}

func newFuture[T any]() *Future[T] {
	return &Future[T]{done: make(chan struct{})}
}

func (f *Future[T]) complete(value T, err error) {
	f.value = value
	f.err = err
	close(f.done)
}

// Done 在任务完成（成功或失败）后关闭。
func (f *Future[T]) Done() <-chan struct{} {
	return f.done
}

// Wait 阻塞直到任务完成或 ctx 结束。ctx 结束只影响等待方，不会中断已开始的任务。
func (f *Future[T]) Wait(ctx context.Context) (T, error) {
	select {
	case <-f.done:
		return f.value, f.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

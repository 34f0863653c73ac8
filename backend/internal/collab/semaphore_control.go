package collab

import (
	"context"
	"errors"
)

// SemaphoreControl 固定容量的计数信号量，限制在途的外部调用数
type SemaphoreControl struct {
	ch chan struct{}
}

func NewSemaphoreControl(capacity int) *SemaphoreControl {
	if capacity <= 0 {
		capacity = 100
	}
	return &SemaphoreControl{ch: make(chan struct{}, capacity)}
}

func (s *SemaphoreControl) Acquire(ctx context.Context) error {
	select {
	case s.ch <- struct{}{}:
		return nil
	case <-ctx.Done():
		return errors.New("Acquire Reach time limit")
	}
}

// AcquireBlocking 后台 worker 用：可以一直等
func (s *SemaphoreControl) AcquireBlocking() error {
	s.ch <- struct{}{}
	return nil
}

func (s *SemaphoreControl) Release() error {
	select {
	case <-s.ch:
		return nil
	default:
		return errors.New("Release Failed, semaphore is not acquired")
	}
}

package service

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func TestBackground_RunsDetached(t *testing.T) {
	bg := NewBackground(testLogger())

	var ran atomic.Bool
	bg.Go("detached", func(ctx context.Context) error {
		if _, ok := ctx.Deadline(); !ok {
			return errors.New("у задачи нет таймаута")
		}
		ran.Store(true)
		return nil
	})

	ctx, done := context.WithTimeout(context.Background(), time.Second)
	defer done()
	if err := bg.Wait(ctx); err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if !ran.Load() {
		t.Error("задача не выполнена")
	}
}

// TestBackground_ErrorsAndPanics: ошибки и panic задачи не роняют процесс.
func TestBackground_ErrorsAndPanics(t *testing.T) {
	bg := NewBackground(testLogger())
	var after atomic.Bool

	bg.Go("fails", func(context.Context) error { return errors.New("boom") })
	bg.Go("panics", func(context.Context) error { panic("unexpected") })
	bg.Go("ok", func(context.Context) error {
		after.Store(true)
		return nil
	})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := bg.Wait(ctx); err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if !after.Load() {
		t.Error("остальные задачи должны выполняться")
	}
}

func TestBackground_WaitTimeout(t *testing.T) {
	bg := NewBackground(testLogger())
	release := make(chan struct{})
	bg.Go("slow", func(context.Context) error {
		<-release
		return nil
	})
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := bg.Wait(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("ожидался DeadlineExceeded, получено %v", err)
	}
}

package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/yaya84/arkab/internal/model"
)

func TestLockContentionTimesOut(t *testing.T) {
	l := newEntityLocks()
	ctx := context.Background()

	release, err := l.acquire(ctx, "host-1", time.Second)
	if err != nil {
		t.Fatalf("first acquire: %v", err)
	}

	_, err = l.acquire(ctx, "host-1", 20*time.Millisecond)
	if !errors.Is(err, model.ErrEntityLockTimeout) {
		t.Fatalf("second acquire err = %v, want ErrEntityLockTimeout", err)
	}

	release()
	release2, err := l.acquire(ctx, "host-1", 20*time.Millisecond)
	if err != nil {
		t.Fatalf("acquire after release: %v", err)
	}
	release2()
}

func TestDistinctKeysDoNotContend(t *testing.T) {
	l := newEntityLocks()
	ctx := context.Background()

	r1, err := l.acquire(ctx, "host-1", 20*time.Millisecond)
	if err != nil {
		t.Fatalf("host-1: %v", err)
	}
	defer r1()

	r2, err := l.acquire(ctx, "host-2", 20*time.Millisecond)
	if err != nil {
		t.Fatalf("host-2: %v", err)
	}
	defer r2()
}

func TestAcquireHonorsContextCancel(t *testing.T) {
	l := newEntityLocks()

	release, err := l.acquire(context.Background(), "host-1", time.Second)
	if err != nil {
		t.Fatalf("first acquire: %v", err)
	}
	defer release()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := l.acquire(ctx, "host-1", time.Second); !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
}

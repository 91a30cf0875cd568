package loadtest

import (
	"context"
	"errors"
	"io"
	"net"
	"strings"
	"sync"
	"syscall"
	"testing"
	"time"
)

type fakeStore struct {
	mu       sync.Mutex
	objects  map[string]int64
	putErr   error
	delErr   error
	putDelay time.Duration
	puts     int
	deletes  int
}

func newFakeStore() *fakeStore {
	return &fakeStore{objects: make(map[string]int64)}
}

func (s *fakeStore) Put(ctx context.Context, key string, r io.Reader, size int64) (time.Duration, error) {
	s.mu.Lock()
	s.puts++
	err := s.putErr
	delay := s.putDelay
	s.mu.Unlock()
	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return 0, ctx.Err()
		}
	}
	if err != nil {
		return 0, err
	}
	n, rerr := io.Copy(io.Discard, r)
	if rerr != nil {
		return 0, rerr
	}
	s.mu.Lock()
	s.objects[key] = n
	s.mu.Unlock()
	return time.Millisecond, nil
}

func (s *fakeStore) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deletes++
	if s.delErr != nil {
		return s.delErr
	}
	delete(s.objects, key)
	return nil
}

func (s *fakeStore) EnsureBucket(ctx context.Context) error { return nil }

func (s *fakeStore) setDelErr(err error) {
	s.mu.Lock()
	s.delErr = err
	s.mu.Unlock()
}

func (s *fakeStore) objectCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.objects)
}

func TestStorageWorkerUploadsAndDeletes(t *testing.T) {
	store := newFakeStore()
	w := NewStorageWorker(store, 1024, "testrun", nil)

	res := w.RunCycle(context.Background(), time.Second)
	if !res.Succeeded {
		t.Fatalf("cycle failed (%q): %v", res.Failure, res.Err)
	}
	if res.UploadedBytes != 1024 {
		t.Fatalf("uploaded = %d, want 1024", res.UploadedBytes)
	}
	if !res.Deleted || res.Orphaned {
		t.Fatalf("deleted=%v orphaned=%v, want deleted and not orphaned", res.Deleted, res.Orphaned)
	}
	if store.objectCount() != 0 {
		t.Fatalf("%d objects left in store, want 0", store.objectCount())
	}
}

func TestStorageWorkerKeysAreUniquePerCycle(t *testing.T) {
	store := newFakeStore()
	store.setDelErr(errors.New("keep objects around"))
	w := NewStorageWorker(store, 64, "testrun", nil)

	for i := 0; i < 5; i++ {
		w.RunCycle(context.Background(), time.Second)
	}
	if store.objectCount() != 5 {
		t.Fatalf("object count = %d, want 5 distinct keys", store.objectCount())
	}
	for key := range store.objects {
		if !strings.HasPrefix(key, "loadtest/testrun/") || !strings.HasSuffix(key, ".bin") {
			t.Fatalf("unexpected key shape: %q", key)
		}
	}
}

func TestStorageWorkerOrphansOnDeleteFailure(t *testing.T) {
	store := newFakeStore()
	store.setDelErr(errors.New("access denied"))
	w := NewStorageWorker(store, 256, "testrun", nil)

	res := w.RunCycle(context.Background(), time.Second)
	if res.Succeeded {
		t.Fatal("expected failure when delete fails")
	}
	if res.Failure != FailureDeleteFailed {
		t.Fatalf("failure = %q, want %q", res.Failure, FailureDeleteFailed)
	}
	if !res.Orphaned {
		t.Fatal("expected result to be marked orphaned")
	}
	if got := w.OrphanKeys(); len(got) != 1 {
		t.Fatalf("orphan keys = %v, want exactly one", got)
	}
}

func TestStorageWorkerReleaseSweepsOrphans(t *testing.T) {
	store := newFakeStore()
	store.setDelErr(errors.New("transient"))
	w := NewStorageWorker(store, 256, "testrun", nil)
	w.RunCycle(context.Background(), time.Second)
	w.RunCycle(context.Background(), time.Second)

	store.setDelErr(nil)
	if err := w.Release(context.Background()); err != nil {
		t.Fatalf("release: %v", err)
	}
	if store.objectCount() != 0 {
		t.Fatalf("%d orphans left after sweep, want 0", store.objectCount())
	}
	if got := w.OrphanKeys(); len(got) != 0 {
		t.Fatalf("orphan keys after sweep = %v, want none", got)
	}
}

func TestStorageWorkerClassifiesFailures(t *testing.T) {
	tests := []struct {
		name   string
		putErr error
		want   FailureKind
	}{
		{
			name:   "unreachable backend",
			putErr: &net.OpError{Op: "dial", Net: "tcp", Err: syscall.ECONNREFUSED},
			want:   FailureStorageUnavailable,
		},
		{
			name:   "rejected upload",
			putErr: errors.New("SignatureDoesNotMatch"),
			want:   FailureUploadFailed,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newFakeStore()
			store.putErr = tt.putErr
			w := NewStorageWorker(store, 128, "testrun", nil)
			res := w.RunCycle(context.Background(), time.Second)
			if res.Succeeded {
				t.Fatal("expected failure")
			}
			if res.Failure != tt.want {
				t.Fatalf("failure = %q, want %q", res.Failure, tt.want)
			}
		})
	}
}

func TestStorageWorkerTimeout(t *testing.T) {
	store := newFakeStore()
	store.putDelay = time.Second
	w := NewStorageWorker(store, 128, "testrun", nil)

	res := w.RunCycle(context.Background(), 50*time.Millisecond)
	if res.Succeeded {
		t.Fatal("expected timeout failure")
	}
	if res.Failure != FailureTimeout {
		t.Fatalf("failure = %q, want %q", res.Failure, FailureTimeout)
	}
}

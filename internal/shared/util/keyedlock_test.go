package util

import (
	"context"
	"errors"
	"sync"
	"testing"
)

func TestKeyedLockSerializesSameKey(t *testing.T) {
	kl := NewKeyedLock()
	ctx := context.Background()

	const workers = 8
	counter := 0
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			release, err := kl.Acquire(ctx, "doc-1")
			if err != nil {
				t.Errorf("acquire: %v", err)
				return
			}
			counter++
			release()
		}()
	}
	wg.Wait()

	if counter != workers {
		t.Fatalf("counter = %d, want %d", counter, workers)
	}
}

func TestKeyedLockIndependentKeys(t *testing.T) {
	kl := NewKeyedLock()
	ctx := context.Background()

	release1, err := kl.Acquire(ctx, "doc-1")
	if err != nil {
		t.Fatalf("acquire doc-1: %v", err)
	}
	defer release1()

	// A different key must not block behind doc-1.
	release2, err := kl.Acquire(ctx, "doc-2")
	if err != nil {
		t.Fatalf("acquire doc-2: %v", err)
	}
	release2()
}

func TestKeyedLockCancelledContext(t *testing.T) {
	kl := NewKeyedLock()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	release, err := kl.Acquire(context.Background(), "doc-1")
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	defer release()

	if _, err := kl.Acquire(ctx, "doc-1"); err == nil {
		t.Fatalf("cancelled acquire must fail")
	}
}

func TestSanitizeFileName(t *testing.T) {
	cases := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"report.pdf", "report.pdf", false},
		{" 決算短信.pdf ", "決算短信.pdf", false},
		{"a/b.pdf", "a_b.pdf", false},
		{"../etc/passwd", "", true},
		{"   ", "", true},
	}
	for _, tc := range cases {
		got, err := SanitizeFileName(tc.in)
		if tc.wantErr != (err != nil) {
			t.Fatalf("SanitizeFileName(%q) err = %v", tc.in, err)
		}
		if tc.wantErr && !errors.Is(err, ErrInvalidFileName) {
			t.Fatalf("SanitizeFileName(%q) err = %v, want ErrInvalidFileName", tc.in, err)
		}
		if got != tc.want {
			t.Fatalf("SanitizeFileName(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

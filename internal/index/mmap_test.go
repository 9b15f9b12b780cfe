package index

import (
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"
)

func TestMap_ReadAt(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "a.rec")
	if err := os.WriteFile(path, []byte("0123456789"), 0o644); err != nil {
		t.Fatal(err)
	}

	m, err := Map(path)
	if err != nil {
		t.Fatal(err)
	}
	defer m.Close()

	if m.Size() != 10 {
		t.Fatalf("Size = %d, want 10", m.Size())
	}

	buf := make([]byte, 4)
	n, err := m.ReadAt(buf, 3)
	if err != nil || n != 4 || string(buf) != "3456" {
		t.Fatalf("ReadAt = %d %q %v", n, buf, err)
	}

	n, err = m.ReadAt(buf, 8)
	if n != 2 || err != io.EOF {
		t.Fatalf("tail ReadAt = %d %v, want 2 io.EOF", n, err)
	}

	if _, err := m.ReadAt(buf, 10); err != io.EOF {
		t.Fatalf("ReadAt past end = %v, want io.EOF", err)
	}
}

func TestMap_EmptyFile(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "empty.rec")
	if err := os.WriteFile(path, nil, 0o644); err != nil {
		t.Fatal(err)
	}
	m, err := Map(path)
	if err != nil {
		t.Fatal(err)
	}
	defer m.Close()
	if _, err := m.ReadAt(make([]byte, 1), 0); err != io.EOF {
		t.Fatalf("err = %v, want io.EOF", err)
	}
}

func TestMap_ReadAfterClose(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "b.rec")
	if err := os.WriteFile(path, []byte("abc"), 0o644); err != nil {
		t.Fatal(err)
	}
	m, err := Map(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := m.Close(); err != nil {
		t.Fatal(err)
	}
	if _, err := m.ReadAt(make([]byte, 1), 0); !errors.Is(err, ErrClosed) {
		t.Fatalf("err = %v, want ErrClosed", err)
	}
	if err := m.Close(); err != nil {
		t.Fatalf("second Close = %v", err)
	}
}

package catalog

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"camrec/internal/models"
	"camrec/internal/rec"
)

func writeRecording(t *testing.T, path string, n int, tsStep uint64) {
	t.Helper()
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	w := rec.NewWriter(f, 0, false)
	for i := 0; i < n; i++ {
		fr := &models.FrameRecord{
			Width: 4, Height: 4, Stride: 4,
			Coding:          models.CodingRaw8,
			Filter:          models.FilterBGGR,
			TotalBytes:      16,
			TimestampMicros: 5_000_000 + uint64(i)*tsStep,
			PixelData:       make([]byte, 16),
		}
		if _, err := w.WriteFrame(fr); err != nil {
			t.Fatal(err)
		}
	}
}

func TestInspect(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "a.rec")
	writeRecording(t, path, 11, 100_000)

	e, err := Inspect(path, 0)
	if err != nil {
		t.Fatal(err)
	}
	if e.FrameCount != 11 {
		t.Errorf("FrameCount = %d, want 11", e.FrameCount)
	}
	if e.DurationMs != 1000 {
		t.Errorf("DurationMs = %d, want 1000", e.DurationMs)
	}
	if e.Coding != "RAW8" || e.Filter != "BGGR" || e.Width != 4 {
		t.Errorf("entry = %+v", e)
	}
	if e.Truncated {
		t.Error("Truncated = true")
	}
	if e.Size == "" {
		t.Error("Size not formatted")
	}
}

func TestScan(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	writeRecording(t, filepath.Join(dir, "b.rec"), 3, 1000)
	writeRecording(t, filepath.Join(dir, "a.rec"), 2, 1000)
	if err := os.WriteFile(filepath.Join(dir, "bad.rec"), []byte("garbage garbage garbage garbage garbage"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	c := New(dir, 0, 2)
	if got := c.Status().Status; got != "not_loaded" {
		t.Errorf("Status = %q before scan", got)
	}
	if err := c.Scan(context.Background()); err != nil {
		t.Fatal(err)
	}

	entries := c.Entries()
	if len(entries) != 3 {
		t.Fatalf("len(entries) = %d, want 3", len(entries))
	}
	if entries[0].Name != "a.rec" || entries[0].FrameCount != 2 {
		t.Errorf("entries[0] = %+v", entries[0])
	}
	if entries[1].Name != "b.rec" || entries[1].FrameCount != 3 {
		t.Errorf("entries[1] = %+v", entries[1])
	}
	if entries[2].Error == "" {
		t.Error("corrupt file has no error")
	}

	st := c.Status()
	if st.Status != "ready" || st.Cached != 3 {
		t.Errorf("Status = %+v", st)
	}
	if _, ok := c.Lookup("b.rec"); !ok {
		t.Error("Lookup(b.rec) failed")
	}
}

func TestPathFor(t *testing.T) {
	t.Parallel()
	c := New("/data", 0, 1)
	got, err := c.PathFor("clip")
	if err != nil || got != filepath.Join("/data", "clip.rec") {
		t.Errorf("PathFor(clip) = %q, %v", got, err)
	}
	for _, bad := range []string{"", "../etc/passwd", "a/b.rec", ".hidden"} {
		if _, err := c.PathFor(bad); !errors.Is(err, ErrUnknownRecording) {
			t.Errorf("PathFor(%q) = %v, want ErrUnknownRecording", bad, err)
		}
	}
}

package rec

import (
	"bytes"
	"errors"
	"io"
	"testing"
)

func TestWriterReader_Sequential(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	w := NewWriter(&buf, 4, false)
	for i := 0; i < 5; i++ {
		f := makeFrame(4, 2, 4, 8, uint64(i))
		f.Aux = []byte{byte(i)}
		if _, err := w.WriteFrame(f); err != nil {
			t.Fatal(err)
		}
		// 每帧写完必须已刷新到 sink
		if want := int64(i+1) * RecordSize(8, 4); int64(buf.Len()) != want {
			t.Fatalf("after frame %d sink has %d bytes, want %d", i, buf.Len(), want)
		}
	}
	if w.Frames() != 5 || w.Bytes() != 5*RecordSize(8, 4) {
		t.Errorf("Frames/Bytes = %d/%d", w.Frames(), w.Bytes())
	}

	r := NewReader(&buf, 4)
	for i := 0; i < 5; i++ {
		f, err := r.Next()
		if err != nil {
			t.Fatalf("frame %d: %v", i, err)
		}
		if f.TimestampMicros != uint64(i) || f.Aux[0] != byte(i) {
			t.Errorf("frame %d: ts=%d aux=%v", i, f.TimestampMicros, f.Aux)
		}
	}
	if _, err := r.Next(); err != io.EOF {
		t.Fatalf("err = %v, want io.EOF", err)
	}
	if r.Truncated() {
		t.Error("clean stream reported as truncated")
	}
}

func TestReader_TruncatedTailIsEndOfStream(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	w := NewWriter(&buf, 0, false)
	for i := 0; i < 3; i++ {
		if _, err := w.WriteFrame(makeFrame(4, 4, 4, 16, uint64(i))); err != nil {
			t.Fatal(err)
		}
	}
	data := buf.Bytes()[:buf.Len()-5]

	r := NewReader(bytes.NewReader(data), 0)
	n := 0
	for {
		_, err := r.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatal(err)
		}
		n++
	}
	if n != 2 || r.Count() != 2 {
		t.Errorf("read %d frames, want 2", n)
	}
	if !r.Truncated() {
		t.Error("Truncated() = false, want true")
	}
}

func TestWriter_FailureIsReported(t *testing.T) {
	t.Parallel()
	w := NewWriter(&shortWriter{limit: 10}, 0, false)
	_, err := w.WriteFrame(makeFrame(4, 4, 4, 16, 0))
	var ioErr *IOError
	if !errors.As(err, &ioErr) {
		t.Fatalf("err = %v, want *IOError", err)
	}
	if w.Frames() != 0 {
		t.Errorf("Frames = %d, want 0", w.Frames())
	}
}

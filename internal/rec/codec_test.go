package rec

import (
	"bytes"
	"errors"
	"io"
	"testing"

	"camrec/internal/models"
)

func makeFrame(w, h, stride uint32, total uint64, ts uint64) *models.FrameRecord {
	f := &models.FrameRecord{
		Width:           w,
		Height:          h,
		Stride:          stride,
		Coding:          models.CodingMono8,
		TotalBytes:      total,
		TimestampMicros: ts,
	}
	if total > 0 {
		f.PixelData = make([]byte, total)
		for i := range f.PixelData {
			f.PixelData[i] = byte(i*7 + 3)
		}
	}
	return f
}

func framesEqual(t *testing.T, got, want *models.FrameRecord) {
	t.Helper()
	if got.Width != want.Width || got.Height != want.Height || got.Stride != want.Stride {
		t.Errorf("geometry = %dx%d/%d, want %dx%d/%d",
			got.Width, got.Height, got.Stride, want.Width, want.Height, want.Stride)
	}
	if got.Coding != want.Coding || got.Filter != want.Filter {
		t.Errorf("coding/filter = %v/%v, want %v/%v", got.Coding, got.Filter, want.Coding, want.Filter)
	}
	if got.TotalBytes != want.TotalBytes {
		t.Errorf("TotalBytes = %d, want %d", got.TotalBytes, want.TotalBytes)
	}
	if got.TimestampMicros != want.TimestampMicros {
		t.Errorf("TimestampMicros = %d, want %d", got.TimestampMicros, want.TimestampMicros)
	}
	if !bytes.Equal(got.PixelData, want.PixelData) {
		t.Error("pixel data mismatch")
	}
}

func TestEncodeDecode_RoundTrip(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name  string
		frame *models.FrameRecord
	}{
		{"dropped frame", makeFrame(4, 3, 4, 0, 10)},
		{"one byte", makeFrame(1, 1, 1, 1, 11)},
		{"stride times height", makeFrame(8, 4, 8, 32, 12)},
		{"padded stride", makeFrame(6, 4, 8, 32, 13)},
		{"trailing padding", makeFrame(8, 4, 8, 45, 14)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			var buf bytes.Buffer
			n, err := Encode(&buf, tt.frame, 0)
			if err != nil {
				t.Fatal(err)
			}
			if n != RecordSize(tt.frame.TotalBytes, 0) || int64(buf.Len()) != n {
				t.Fatalf("wrote %d (buf %d), want %d", n, buf.Len(), RecordSize(tt.frame.TotalBytes, 0))
			}
			got, err := Decode(&buf, 0)
			if err != nil {
				t.Fatal(err)
			}
			framesEqual(t, got, tt.frame)
		})
	}
}

func TestDecode_DroppedFrameHasNoBuffer(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	if _, err := Encode(&buf, makeFrame(2, 2, 2, 0, 1), 0); err != nil {
		t.Fatal(err)
	}
	got, err := Decode(&buf, 0)
	if err != nil {
		t.Fatal(err)
	}
	if got.PixelData != nil {
		t.Errorf("PixelData = %v, want nil for empty frame", got.PixelData)
	}
}

func TestEncodeDecode_RawFilterPreserved(t *testing.T) {
	t.Parallel()
	f := makeFrame(4, 2, 4, 8, 99)
	f.Coding = models.CodingRaw8
	f.Filter = models.FilterGBRG

	var buf bytes.Buffer
	if _, err := Encode(&buf, f, 0); err != nil {
		t.Fatal(err)
	}
	got, err := Decode(&buf, 0)
	if err != nil {
		t.Fatal(err)
	}
	framesEqual(t, got, f)
}

func TestEncodeDecode_AuxPayload(t *testing.T) {
	t.Parallel()
	f := makeFrame(2, 2, 2, 4, 5)
	f.Aux = []byte{1, 2, 3}

	var buf bytes.Buffer
	n, err := Encode(&buf, f, 8)
	if err != nil {
		t.Fatal(err)
	}
	if n != RecordSize(4, 8) {
		t.Fatalf("wrote %d, want %d", n, RecordSize(4, 8))
	}
	got, err := Decode(&buf, 8)
	if err != nil {
		t.Fatal(err)
	}
	want := []byte{1, 2, 3, 0, 0, 0, 0, 0}
	if !bytes.Equal(got.Aux, want) {
		t.Errorf("Aux = %v, want %v", got.Aux, want)
	}
	framesEqual(t, got, f)
}

func TestEncode_AuxTooLong(t *testing.T) {
	t.Parallel()
	f := makeFrame(2, 2, 2, 4, 5)
	f.Aux = make([]byte, 9)
	_, err := Encode(io.Discard, f, 8)
	if !errors.Is(err, ErrAuxLength) {
		t.Fatalf("err = %v, want ErrAuxLength", err)
	}
}

func TestEncode_RejectsInvalidFrame(t *testing.T) {
	t.Parallel()
	f := makeFrame(4, 4, 4, 16, 0)
	f.PixelData = f.PixelData[:10]
	if _, err := Encode(io.Discard, f, 0); !errors.Is(err, models.ErrPixelLength) {
		t.Fatalf("err = %v, want ErrPixelLength", err)
	}

	f = makeFrame(4, 4, 2, 16, 0)
	if _, err := Encode(io.Discard, f, 0); !errors.Is(err, models.ErrBadStride) {
		t.Fatalf("err = %v, want ErrBadStride", err)
	}
}

type shortWriter struct {
	limit int
	n     int
}

func (w *shortWriter) Write(p []byte) (int, error) {
	room := w.limit - w.n
	if room <= 0 {
		return 0, errors.New("disk full")
	}
	if len(p) > room {
		w.n += room
		return room, nil
	}
	w.n += len(p)
	return len(p), nil
}

func TestEncode_ShortWriteIsIOError(t *testing.T) {
	t.Parallel()
	f := makeFrame(8, 8, 8, 64, 0)
	_, err := Encode(&shortWriter{limit: FullHeaderSize + 10}, f, 0)
	var ioErr *IOError
	if !errors.As(err, &ioErr) {
		t.Fatalf("err = %v, want *IOError", err)
	}
	if !errors.Is(err, io.ErrShortWrite) {
		t.Errorf("err = %v, want wrapping io.ErrShortWrite", err)
	}
}

func TestDecode_Truncated(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	if _, err := Encode(&buf, makeFrame(8, 8, 8, 64, 0), 0); err != nil {
		t.Fatal(err)
	}
	full := buf.Bytes()

	for _, cut := range []int{1, FullHeaderSize - 1, FullHeaderSize, FullHeaderSize + 63} {
		got, err := Decode(bytes.NewReader(full[:cut]), 0)
		if !errors.Is(err, ErrTruncatedRecord) {
			t.Errorf("cut %d: err = %v, want ErrTruncatedRecord", cut, err)
		}
		if got != nil {
			t.Errorf("cut %d: got partial record", cut)
		}
	}
}

func TestDecode_TruncatedAux(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	if _, err := Encode(&buf, makeFrame(2, 2, 2, 4, 0), 4); err != nil {
		t.Fatal(err)
	}
	data := buf.Bytes()[:buf.Len()-2]
	if _, err := Decode(bytes.NewReader(data), 4); !errors.Is(err, ErrTruncatedRecord) {
		t.Fatalf("err = %v, want ErrTruncatedRecord", err)
	}
}

func TestDecode_EmptyStreamIsEOF(t *testing.T) {
	t.Parallel()
	if _, err := Decode(bytes.NewReader(nil), 0); err != io.EOF {
		t.Fatalf("err = %v, want io.EOF", err)
	}
}

func TestDecode_CorruptHeader(t *testing.T) {
	t.Parallel()
	hdr := make([]byte, FullHeaderSize)
	// width = 0
	if _, err := Decode(bytes.NewReader(hdr), 0); !errors.Is(err, ErrCorruptRecord) {
		t.Fatalf("err = %v, want ErrCorruptRecord", err)
	}
}

func TestDecode_RejectsOversizedGeometry(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name  string
		frame models.FrameRecord
	}{
		// 宽度乘以位深超出 32 位
		{"stride wrap", models.FrameRecord{Width: 1 << 29, Height: 1, Stride: 1, Coding: models.CodingMono8, TotalBytes: 1}},
		{"rgb16 stride wrap", models.FrameRecord{Width: 1 << 28, Height: 1, Stride: 8, Coding: models.CodingRGB16, TotalBytes: 8}},
		{"empty frame too large", models.FrameRecord{Width: 1 << 29, Height: 1, Stride: 1 << 29, Coding: models.CodingMono8}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			var hdr [FullHeaderSize]byte
			putHeader(hdr[:], &tt.frame)
			data := append(hdr[:], make([]byte, tt.frame.TotalBytes)...)
			got, err := Decode(bytes.NewReader(data), 0)
			if !errors.Is(err, ErrCorruptRecord) {
				t.Fatalf("err = %v, want ErrCorruptRecord", err)
			}
			if got != nil {
				t.Error("got record for corrupt header")
			}
		})
	}
}

func TestEncode_RejectsWrappedStride(t *testing.T) {
	t.Parallel()
	f := &models.FrameRecord{Width: 1 << 29, Height: 1, Stride: 1, Coding: models.CodingMono8, TotalBytes: 1, PixelData: []byte{0}}
	if _, err := Encode(io.Discard, f, 0); !errors.Is(err, models.ErrBadStride) {
		t.Fatalf("err = %v, want ErrBadStride", err)
	}
}

func TestHeaderOnly_RoundTrip(t *testing.T) {
	t.Parallel()
	f := makeFrame(640, 480, 640, 640*480, 0)
	f.Coding = models.CodingRaw8
	f.Filter = models.FilterBGGR

	var buf bytes.Buffer
	if err := EncodeHeader(&buf, f); err != nil {
		t.Fatal(err)
	}
	if buf.Len() != HeaderOnlySize {
		t.Fatalf("header size = %d, want %d", buf.Len(), HeaderOnlySize)
	}
	got, err := DecodeHeader(&buf)
	if err != nil {
		t.Fatal(err)
	}
	if got.Width != 640 || got.Height != 480 || got.TotalBytes != 640*480 ||
		got.Coding != models.CodingRaw8 || got.Filter != models.FilterBGGR || got.Stride != 640 {
		t.Errorf("header = %+v", got)
	}
	if got.PixelData != nil {
		t.Error("header-only decode must not carry pixel data")
	}
}

func TestPeekHeader(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	for i := 0; i < 3; i++ {
		if _, err := Encode(&buf, makeFrame(4, 4, 4, 16, uint64(100+i)), 0); err != nil {
			t.Fatal(err)
		}
	}
	r := bytes.NewReader(buf.Bytes())
	f, err := PeekHeader(r, 2*RecordSize(16, 0))
	if err != nil {
		t.Fatal(err)
	}
	if f.TimestampMicros != 102 {
		t.Errorf("TimestampMicros = %d, want 102", f.TimestampMicros)
	}
}

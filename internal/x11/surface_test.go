package x11

import (
	"testing"
)

func TestRGBAToBGRX(t *testing.T) {
	// 2x2 frame with a stride of 3 pixels.
	pix := []byte{
		1, 2, 3, 4, 5, 6, 7, 8, 0, 0, 0, 0,
		9, 10, 11, 12, 13, 14, 15, 16, 0, 0, 0, 0,
	}
	got, err := RGBAToBGRX(pix, 2, 2, 3)
	if err != nil {
		t.Fatalf("RGBAToBGRX: %v", err)
	}
	want := []byte{
		3, 2, 1, 0, 7, 6, 5, 0,
		11, 10, 9, 0, 15, 14, 13, 0,
	}
	if string(got) != string(want) {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestRGBAToBGRXRejectsShortFrame(t *testing.T) {
	if _, err := RGBAToBGRX(make([]byte, 10), 2, 2, 2); err == nil {
		t.Error("expected error for short frame")
	}
	if _, err := RGBAToBGRX(make([]byte, 64), 4, 2, 2); err == nil {
		t.Error("expected error for stride < width")
	}
}

func TestBands(t *testing.T) {
	tests := []struct {
		name                       string
		height, rowBytes, maxBytes int
		want                       []Band
	}{
		{"single", 10, 100, 1000, []Band{{0, 10}}},
		{"split", 10, 100, 400, []Band{{0, 4}, {4, 4}, {8, 2}}},
		{"row larger than max", 3, 500, 400, []Band{{0, 1}, {1, 1}, {2, 1}}},
		{"empty", 0, 100, 400, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Bands(tt.height, tt.rowBytes, tt.maxBytes)
			if len(got) != len(tt.want) {
				t.Fatalf("got %v, want %v", got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("band %d = %v, want %v", i, got[i], tt.want[i])
				}
			}
		})
	}
}

package canbus

import (
	"errors"
	"testing"
)

func TestFrame_Validate_Marshal_Unmarshal_String(t *testing.T) {
	cases := []struct {
		name    string
		frame   Frame
		wantStr string
	}{
		{
			name:    "standard frame with data",
			frame:   MustFrame(0x123, []byte{0xDE, 0xAD}),
			wantStr: "123 [2] DE AD",
		},
		{
			name:    "extended RTR, zero length",
			frame:   Frame{ID: 0x1ABCDEFF, Extended: true, RTR: true, Len: 0},
			wantStr: "1ABCDEFF [0] RTR",
		},
		{
			name:    "extended data",
			frame:   MustFrame(0x0E3FC021, []byte{0x09, 0x01, 0xFE}),
			wantStr: "0E3FC021 [3] 09 01 FE",
		},
	}

	for _, tc := range cases {
		if err := tc.frame.Validate(); err != nil {
			t.Fatalf("%s: Validate() error = %v", tc.name, err)
		}
		b, err := tc.frame.MarshalBinary()
		if err != nil {
			t.Fatalf("%s: MarshalBinary() error = %v", tc.name, err)
		}
		if len(b) != FrameSize {
			t.Fatalf("%s: marshal size %d", tc.name, len(b))
		}
		var g Frame
		if err := g.UnmarshalBinary(b); err != nil {
			t.Fatalf("%s: UnmarshalBinary() error = %v", tc.name, err)
		}
		if g != tc.frame {
			t.Fatalf("%s: roundtrip mismatch: got %+v want %+v", tc.name, g, tc.frame)
		}
		if got := g.String(); got != tc.wantStr {
			t.Fatalf("%s: String() = %q, want %q", tc.name, got, tc.wantStr)
		}
	}
}

func TestFrame_Invalid(t *testing.T) {
	if err := (Frame{ID: 0x800}).Validate(); !errors.Is(err, ErrInvalidID) {
		t.Fatalf("expected invalid standard ID, got %v", err)
	}
	if err := (Frame{ID: 0x20000000, Extended: true}).Validate(); !errors.Is(err, ErrInvalidID) {
		t.Fatalf("expected invalid extended ID, got %v", err)
	}
	if err := (Frame{Len: 9}).Validate(); !errors.Is(err, ErrInvalidLen) {
		t.Fatalf("expected invalid len, got %v", err)
	}
	var g Frame
	if err := g.UnmarshalBinary(make([]byte, 8)); err == nil {
		t.Fatalf("expected short buffer error")
	}
	if _, err := ExtendedFrame(0x10, make([]byte, 9)); !errors.Is(err, ErrInvalidLen) {
		t.Fatalf("ExtendedFrame len 9: %v", err)
	}
	func() {
		defer func() {
			if r := recover(); r == nil {
				t.Fatalf("MustFrame should panic for len>8")
			}
		}()
		_ = MustFrame(0x123, make([]byte, 9))
	}()
}

func TestExtendedFrame_LowID(t *testing.T) {
	f, err := ExtendedFrame(0x7, []byte{1})
	if err != nil {
		t.Fatal(err)
	}
	if !f.Extended || f.ID != 0x7 || f.Len != 1 {
		t.Fatalf("unexpected frame %+v", f)
	}
	if f.String() != "00000007 [1] 01" {
		t.Fatalf("string: %q", f.String())
	}
}

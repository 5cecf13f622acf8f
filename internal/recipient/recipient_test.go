package recipient

import (
	"reflect"
	"testing"
)

func TestNormalize(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		raw  string
		want []Address
	}{
		{name: "empty", raw: "", want: nil},
		{name: "letters only", raw: "abc", want: nil},
		{name: "semicolons and newlines", raw: "628111111;\n628222222\r\n628333333", want: []Address{"628111111", "628222222", "628333333"}},
		{name: "dedup keeps first occurrence", raw: "628222222;628111111;628222222", want: []Address{"628222222", "628111111"}},
		{name: "leading zero", raw: "08123456789", want: []Address{"628123456789"}},
		{name: "formatting stripped", raw: "+62 812-3456-789", want: []Address{"628123456789"}},
		{name: "zero and country code collapse", raw: "08123456789;628123456789", want: []Address{"628123456789"}},
		{name: "too short", raw: "12345", want: nil},
		{name: "too long", raw: "1234567890123456", want: nil},
		{name: "bounds", raw: "123456;123456789012345", want: []Address{"123456", "123456789012345"}},
		{name: "blank tokens", raw: " ;; \n ;628111111; ", want: []Address{"628111111"}},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := Normalize(tt.raw, "62")
			if !reflect.DeepEqual(got, tt.want) {
				t.Fatalf("Normalize(%q) = %v, want %v", tt.raw, got, tt.want)
			}
		})
	}
}

func TestNormalizeCustomCountryCode(t *testing.T) {
	got := Normalize("0612345678", "31")
	want := []Address{"31612345678"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("Normalize = %v, want %v", got, want)
	}
}

func TestQualify(t *testing.T) {
	if got := Qualify("628111111"); got != "628111111@s.whatsapp.net" {
		t.Fatalf("Qualify = %q", got)
	}
	if got := Qualify("12036302@g.us"); got != "12036302@g.us" {
		t.Fatalf("Qualify(group) = %q", got)
	}
}

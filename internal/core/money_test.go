package core

import (
	"encoding/json"
	"testing"
)

func TestParseAmount(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    int64
		wantErr bool
	}{
		{name: "plain integer", input: "12", want: 1200},
		{name: "two decimals", input: "12.34", want: 1234},
		{name: "comma separator", input: "12,34", want: 1234},
		{name: "one decimal", input: "0.5", want: 50},
		{name: "third decimal rounds down", input: "12.344", want: 1234},
		{name: "third decimal rounds up", input: "12.345", want: 1235},
		{name: "leading whitespace", input: " 7.10", want: 710},
		{name: "zero rejected", input: "0", wantErr: true},
		{name: "zero with decimals rejected", input: "0.00", wantErr: true},
		{name: "negative rejected", input: "-5", wantErr: true},
		{name: "empty rejected", input: "", wantErr: true},
		{name: "garbage rejected", input: "abc", wantErr: true},
		{name: "two dots rejected", input: "1.2.3", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseAmount(tt.input)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("ParseAmount(%q) = %d, want error", tt.input, got.Cents)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseAmount(%q) unexpected error: %v", tt.input, err)
			}
			if got.Cents != tt.want {
				t.Errorf("ParseAmount(%q) = %d cents, want %d", tt.input, got.Cents, tt.want)
			}
		})
	}
}

func TestMoneyString(t *testing.T) {
	tests := []struct {
		cents int64
		want  string
	}{
		{1234, "12.34"},
		{100, "1.00"},
		{5, "0.05"},
		{0, "0.00"},
	}
	for _, tt := range tests {
		if got := (Money{Cents: tt.cents}).String(); got != tt.want {
			t.Errorf("Money{%d}.String() = %q, want %q", tt.cents, got, tt.want)
		}
	}
}

func TestMoneyJSON(t *testing.T) {
	body, err := json.Marshal(Money{Cents: 1234})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(body) != `"12.34"` {
		t.Errorf("marshal = %s, want \"12.34\"", body)
	}

	var m Money
	if err := json.Unmarshal([]byte(`"7.50"`), &m); err != nil || m.Cents != 750 {
		t.Errorf("unmarshal string = (%d, %v), want (750, nil)", m.Cents, err)
	}
	if err := json.Unmarshal([]byte(`7.5`), &m); err != nil || m.Cents != 750 {
		t.Errorf("unmarshal number = (%d, %v), want (750, nil)", m.Cents, err)
	}
	if err := json.Unmarshal([]byte(`"-1"`), &m); err == nil {
		t.Error("negative amount accepted")
	}
}

func TestMoneyArithmetic(t *testing.T) {
	a := Money{Cents: 100}
	b := Money{Cents: 40}
	if got := a.Sub(b); got.Cents != 60 {
		t.Errorf("Sub = %d, want 60", got.Cents)
	}
	if got := a.Add(b); got.Cents != 140 {
		t.Errorf("Add = %d, want 140", got.Cents)
	}
}

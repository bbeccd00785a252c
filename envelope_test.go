package sconcomm

import (
	"encoding/json"
	"testing"

	"github.com/pkg/errors"
)

func TestCheckReserved(t *testing.T) {
	if err := checkReserved(Envelope{"hello": "world"}); err != nil {
		t.Errorf("unexpected error: %v", err)
	}

	for _, key := range []string{KeyID, KeyData, KeyStream} {
		err := checkReserved(Envelope{"hello": "world", key: 1})
		if !errors.Is(err, ErrReservedField) {
			t.Errorf("key %q: expected ErrReservedField, got %v", key, err)
		}
	}
}

func TestEnvelopeClone(t *testing.T) {
	env := Envelope{"a": "b"}
	out := env.clone()
	out["c"] = "d"

	if _, ok := env["c"]; ok {
		t.Error("clone shares storage with its source")
	}
	if out["a"] != "b" {
		t.Errorf("clone lost key a: %v", out)
	}
}

func TestUintField(t *testing.T) {
	tests := []struct {
		name    string
		value   any
		want    uint64
		wantErr bool
	}{
		{name: "uint64", value: uint64(7), want: 7},
		{name: "uint8", value: uint8(255), want: 255},
		{name: "int", value: 42, want: 42},
		{name: "int8", value: int8(3), want: 3},
		{name: "int64", value: int64(1 << 40), want: 1 << 40},
		{name: "float64", value: float64(12), want: 12},
		{name: "json.Number", value: json.Number("99"), want: 99},
		{name: "negative int", value: -1, wantErr: true},
		{name: "negative float", value: float64(-2), wantErr: true},
		{name: "fraction", value: 1.5, wantErr: true},
		{name: "huge float", value: float64(1 << 64), wantErr: true},
		{name: "bad json.Number", value: json.Number("1e3x"), wantErr: true},
		{name: "string", value: "12", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			n, ok, err := uintField(Envelope{"k": tt.value}, "k")
			if !ok {
				t.Fatal("field reported absent")
			}
			if tt.wantErr {
				if err == nil {
					t.Errorf("expected error, got %d", n)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if n != tt.want {
				t.Errorf("value = %d, want %d", n, tt.want)
			}
		})
	}
}

func TestUintField_Absent(t *testing.T) {
	for _, env := range []Envelope{{}, {"k": nil}} {
		_, ok, err := uintField(env, "k")
		if ok || err != nil {
			t.Errorf("uintField(%v) = ok %v, err %v; want absent", env, ok, err)
		}
	}
}

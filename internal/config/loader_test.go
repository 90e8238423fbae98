package config

import (
	"reflect"
	"testing"
	"time"
)

func TestAsString(t *testing.T) {
	tests := []struct {
		input interface{}
		want  string
	}{
		{"hello", "hello"},
		{123, "123"},
		{true, "true"},
		{nil, ""},
		{[]byte("bytes"), "bytes"},
	}

	for _, tt := range tests {
		got, err := asString(tt.input)
		if err != nil {
			t.Errorf("asString(%v) error = %v", tt.input, err)
		}
		if got != tt.want {
			t.Errorf("asString(%v) = %q, want %q", tt.input, got, tt.want)
		}
	}
}

func TestAsInt(t *testing.T) {
	tests := []struct {
		input interface{}
		want  int
	}{
		{123, 123},
		{" 456 ", 456},
		{int64(789), 789},
		{float64(10.0), 10},
		{nil, 0},
	}

	for _, tt := range tests {
		got, err := asInt(tt.input)
		if err != nil {
			t.Errorf("asInt(%v) error = %v", tt.input, err)
		}
		if got != tt.want {
			t.Errorf("asInt(%v) = %d, want %d", tt.input, got, tt.want)
		}
	}

	if _, err := asInt(2.5); err == nil {
		t.Error("asInt(2.5) should reject fractional values")
	}
	if _, err := asInt([]int{1}); err == nil {
		t.Error("asInt([]int) should fail")
	}
}

func TestAsBool(t *testing.T) {
	tests := []struct {
		input interface{}
		want  bool
	}{
		{true, true},
		{"true", true},
		{"0", false},
		{"", false},
		{nil, false},
	}

	for _, tt := range tests {
		got, err := asBool(tt.input)
		if err != nil {
			t.Errorf("asBool(%v) error = %v", tt.input, err)
		}
		if got != tt.want {
			t.Errorf("asBool(%v) = %v, want %v", tt.input, got, tt.want)
		}
	}
}

func TestAsDuration(t *testing.T) {
	tests := []struct {
		input interface{}
		want  time.Duration
	}{
		{"250ms", 250 * time.Millisecond},
		{2, 2 * time.Second},
		{1.5, 1500 * time.Millisecond},
		{uint64(3), 3 * time.Second},
		{time.Minute, time.Minute},
		{nil, 0},
	}

	for _, tt := range tests {
		got, err := asDuration(tt.input)
		if err != nil {
			t.Errorf("asDuration(%v) error = %v", tt.input, err)
		}
		if got != tt.want {
			t.Errorf("asDuration(%v) = %s, want %s", tt.input, got, tt.want)
		}
	}

	if _, err := asDuration("soon"); err == nil {
		t.Error("asDuration(\"soon\") should fail")
	}
}

func TestAsStringSlice(t *testing.T) {
	got, err := asStringSlice([]interface{}{"http", "resource"})
	if err != nil {
		t.Fatalf("asStringSlice() error = %v", err)
	}
	if !reflect.DeepEqual(got, []string{"http", "resource"}) {
		t.Errorf("got %v", got)
	}

	got, err = asStringSlice("a,b")
	if err != nil {
		t.Fatalf("asStringSlice() error = %v", err)
	}
	if !reflect.DeepEqual(got, []string{"a", "b"}) {
		t.Errorf("got %v", got)
	}
}

func TestLookupSettingCaseInsensitive(t *testing.T) {
	settings := map[string]interface{}{"externalurl": "https://x"}
	if v, ok := lookupSetting(settings, "externalUrl"); !ok || v != "https://x" {
		t.Errorf("lookupSetting() = %v, %v", v, ok)
	}
	if _, ok := lookupSetting(settings, "missing"); ok {
		t.Error("lookupSetting() found a missing key")
	}
}

func TestNormalizeList(t *testing.T) {
	got := normalizeList([]string{" http , resource", "", "measure"})
	want := []string{"http", "resource", "measure"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("normalizeList() = %v, want %v", got, want)
	}
}

func TestApplyTracingSettingsFromYAMLMap(t *testing.T) {
	var cfg TracingConfig
	err := applyTracingSettings(&cfg, map[interface{}]interface{}{
		"Endpoint":    "localhost:4318",
		"protocol":    "HTTP",
		"sample_rate": "0.25",
	})
	if err != nil {
		t.Fatalf("applyTracingSettings() error = %v", err)
	}
	if cfg.Endpoint != "localhost:4318" || cfg.Protocol != "http" || cfg.SampleRate != 0.25 {
		t.Errorf("cfg = %+v", cfg)
	}
}

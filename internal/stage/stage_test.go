package stage

import (
	"testing"
	"time"
)

func TestOrder(t *testing.T) {
	order := Order()
	want := []Stage{StageClassify, StageEnhance, StageGenerate, StagePolish}
	if len(order) != len(want) {
		t.Fatalf("order length = %d, want %d", len(order), len(want))
	}
	for i, st := range want {
		if order[i] != st {
			t.Errorf("order[%d] = %s, want %s", i, order[i], st)
		}
		if Index(st) != i {
			t.Errorf("Index(%s) = %d, want %d", st, Index(st), i)
		}
		if !Known(st) {
			t.Errorf("Known(%s) = false", st)
		}
	}
	if Known("bogus") {
		t.Error("Known(bogus) = true")
	}
	if Index("bogus") != -1 {
		t.Error("Index(bogus) != -1")
	}
}

func TestStatusTerminal(t *testing.T) {
	for status, want := range map[Status]bool{
		StatusPending: false,
		StatusRunning: false,
		StatusSuccess: true,
		StatusFailed:  true,
		StatusSkipped: true,
	} {
		if status.Terminal() != want {
			t.Errorf("%s.Terminal() = %v, want %v", status, status.Terminal(), want)
		}
	}
}

func TestConfigValidate(t *testing.T) {
	valid := Config{
		Stage:       StageEnhance,
		Version:     "v1",
		Timeout:     time.Minute,
		MaxAttempts: 3,
	}
	if err := valid.Validate(); err != nil {
		t.Fatalf("valid config rejected: %v", err)
	}

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"unknown stage", func(c *Config) { c.Stage = "bogus" }},
		{"missing version", func(c *Config) { c.Version = "" }},
		{"zero attempts", func(c *Config) { c.MaxAttempts = 0 }},
		{"zero timeout", func(c *Config) { c.Timeout = 0 }},
		{"floor above low water", func(c *Config) {
			c.LengthSensitive = true
			c.LowWaterRatio = 0.3
			c.HardFloorRatio = 0.6
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid
			tt.mutate(&cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

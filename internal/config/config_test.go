package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultValidates(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected default config to validate, got %v", err)
	}
}

func TestValidateRejectsHopExceedingFrameSize(t *testing.T) {
	cfg := Default()
	cfg.Spectral.Hop = cfg.Spectral.FrameSize + 1
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error when hop exceeds frame size")
	}
}

func TestValidateRejectsUnknownBackend(t *testing.T) {
	cfg := Default()
	cfg.Storage.Backend = "s3"
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for unrecognised storage backend")
	}
}

func TestValidateRejectsInvertedTimeFactors(t *testing.T) {
	cfg := Default()
	cfg.Matcher.MinTimeFactor = 1.5
	cfg.Matcher.MaxTimeFactor = 1.2
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error when min_time_factor >= max_time_factor")
	}
}

func TestLoadOverridesOnlySetKeys(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	yaml := "spectral:\n  sample_rate: 22050\n"
	if err := os.WriteFile(path, []byte(yaml), 0o644); err != nil {
		t.Fatalf("writing test config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Spectral.SampleRate != 22050 {
		t.Fatalf("expected overridden sample rate 22050, got %d", cfg.Spectral.SampleRate)
	}
	if cfg.Spectral.FrameSize != Default().Spectral.FrameSize {
		t.Fatalf("expected untouched frame_size to keep its default, got %d", cfg.Spectral.FrameSize)
	}
}

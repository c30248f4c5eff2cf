package main

import (
	"testing"

	"github.com/pthm-cable/densityfit/config"
)

func TestParamVector(t *testing.T) {
	cfg, err := config.Load("")
	if err != nil {
		t.Fatalf("config.Load: %v", err)
	}
	cfg.Kernel.Sigma = [3]float64{0.9, 1.0, 1.1}
	pv := NewParamVector(cfg)

	if pv.Dim() != 3 {
		t.Fatalf("Dim = %d, want 3", pv.Dim())
	}
	if got := pv.DefaultVector(); got[0] != 0.9 || got[2] != 1.1 {
		t.Errorf("DefaultVector = %v", got)
	}

	got := pv.Sigma([]float64{0.01, 2, 100})
	want := [3]float64{cfg.SigmaRefine.MinSigma, 2, cfg.SigmaRefine.MaxSigma}
	if got != want {
		t.Errorf("Sigma = %v, want %v", got, want)
	}

	pv.ApplyToConfig(cfg, []float64{1.2, 1.3, 1.4})
	if cfg.Kernel.Sigma != [3]float64{1.2, 1.3, 1.4} {
		t.Errorf("ApplyToConfig left sigma %v", cfg.Kernel.Sigma)
	}
}

func TestParseSigma(t *testing.T) {
	tests := []struct {
		in      string
		want    [3]float64
		wantErr bool
	}{
		{"1.5", [3]float64{1.5, 1.5, 1.5}, false},
		{"1, 2,3", [3]float64{1, 2, 3}, false},
		{"1,2", [3]float64{}, true},
		{"a", [3]float64{}, true},
	}
	for _, tt := range tests {
		got, err := parseSigma(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("parseSigma(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if !tt.wantErr && got != tt.want {
			t.Errorf("parseSigma(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

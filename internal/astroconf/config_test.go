package astroconf

import (
	"os"
	"path/filepath"
	"testing"
)

func TestValidate(t *testing.T) {
	cases := []struct {
		name string
		cfg  Config
		ok   bool
	}{
		{"valid", Config{ID: 1, UAVRadius: 0.5, MsgRange: 100, ContactRangeRatio: 0.95, MaxV: 5}, true},
		{"zero id reserved for GCS", Config{ID: 0, UAVRadius: 0.5, MsgRange: 100, ContactRangeRatio: 0.95, MaxV: 5}, false},
		{"non-positive radius", Config{ID: 1, UAVRadius: 0, MsgRange: 100, ContactRangeRatio: 0.95, MaxV: 5}, false},
		{"non-positive msg range", Config{ID: 1, UAVRadius: 0.5, MsgRange: 0, ContactRangeRatio: 0.95, MaxV: 5}, false},
		{"ratio too high", Config{ID: 1, UAVRadius: 0.5, MsgRange: 100, ContactRangeRatio: 1.5, MaxV: 5}, false},
		{"non-positive max_v", Config{ID: 1, UAVRadius: 0.5, MsgRange: 100, ContactRangeRatio: 0.95, MaxV: 0}, false},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			err := c.cfg.Validate()
			if c.ok && err != nil {
				t.Errorf("unexpected error: %v", err)
			}
			if !c.ok && err == nil {
				t.Errorf("expected error, got nil")
			}
		})
	}
}

func TestContactRange(t *testing.T) {
	c := Config{MsgRange: 100, ContactRangeRatio: 0.95}
	if got := c.ContactRange(); got != 95 {
		t.Errorf("ContactRange() = %v, want 95", got)
	}
}

func TestLoadOverlay_MissingFileIsNotError(t *testing.T) {
	base := Default()
	base.ID = 7
	got, err := LoadOverlay(filepath.Join(t.TempDir(), "missing.json5"), base)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != base {
		t.Errorf("got %+v, want unchanged base %+v", got, base)
	}
}

func TestLoadOverlay_OverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "overlay.json5")
	content := "{\n  // shrink the contact range for a dense test swarm\n  contact_range_ratio: 0.8,\n}\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write overlay: %v", err)
	}
	base := Default()
	base.ID = 3
	base.UAVRadius = 0.5

	got, err := LoadOverlay(path, base)
	if err != nil {
		t.Fatalf("LoadOverlay: %v", err)
	}
	if got.ContactRangeRatio != 0.8 {
		t.Errorf("ContactRangeRatio = %v, want 0.8", got.ContactRangeRatio)
	}
	if got.ID != 3 || got.UAVRadius != 0.5 {
		t.Errorf("unrelated fields should be preserved from base, got %+v", got)
	}
}

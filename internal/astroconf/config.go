// Package astroconf holds the per-agent configuration: the CLI-bound values
// from spec §6, plus an optional JSON5 overlay that can set the same Config
// fields. The overlay covers only those fields; subsystem thresholds such as
// the in-range hysteresis and the timeouts stay at their package defaults.
// CLI flags always win over the overlay.
package astroconf

import (
	"fmt"
	"os"

	"github.com/titanous/json5"
)

// Config is the validated, fully-resolved configuration for one agent
// process.
type Config struct {
	ID                uint32  `json:"id"`
	UAVRadius         float32 `json:"uav_radius"`
	MsgRange          float32 `json:"msg_range"`
	ContactRangeRatio float32 `json:"contact_range_ratio"`
	MaxV              float32 `json:"max_v"`
}

// DefaultContactRangeRatio matches spec §6's documented default.
const DefaultContactRangeRatio = 0.95

// Default returns a Config with every field at its spec-documented default
// except the required ones (ID, UAVRadius, MsgRange, MaxV), which the caller
// must still supply.
func Default() Config {
	return Config{ContactRangeRatio: DefaultContactRangeRatio}
}

// ContactRange is the effective contact_range fed to the contacts tracker:
// msg_range scaled down so links don't fail instantly at the edge of radio
// range.
func (c Config) ContactRange() float32 {
	return c.MsgRange * c.ContactRangeRatio
}

// Validate enforces spec §6: id must be nonzero (0 is reserved for the GCS
// pseudo-node) and uav_radius must be positive.
func (c Config) Validate() error {
	if c.ID == 0 {
		return fmt.Errorf("astroconf: id must be >= 1 (0 is reserved for the GCS)")
	}
	if c.UAVRadius <= 0 {
		return fmt.Errorf("astroconf: uav_radius must be > 0, got %v", c.UAVRadius)
	}
	if c.MsgRange <= 0 {
		return fmt.Errorf("astroconf: msg_range must be > 0, got %v", c.MsgRange)
	}
	if c.ContactRangeRatio <= 0 || c.ContactRangeRatio > 1 {
		return fmt.Errorf("astroconf: contact_range_ratio must be in (0,1], got %v", c.ContactRangeRatio)
	}
	if c.MaxV <= 0 {
		return fmt.Errorf("astroconf: max_v must be > 0, got %v", c.MaxV)
	}
	return nil
}

// LoadOverlay reads an optional JSON5 file of default overrides. A missing
// file is not an error — CLI flags are the primary configuration source and
// the overlay exists only to avoid repeating rarely-changed values on every
// invocation.
func LoadOverlay(path string, base Config) (Config, error) {
	if path == "" {
		return base, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return base, nil
		}
		return base, fmt.Errorf("astroconf: read overlay %s: %w", path, err)
	}
	overlay := base
	if err := json5.Unmarshal(data, &overlay); err != nil {
		return base, fmt.Errorf("astroconf: parse overlay %s: %w", path, err)
	}
	return overlay, nil
}

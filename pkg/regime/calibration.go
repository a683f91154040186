package regime

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// SourceDefault marks a calibration that fell back to built-in thresholds
const SourceDefault = "default"

// Band is a pair of lower/upper percentile boundaries
type Band struct {
	P25 float64 `yaml:"p25" json:"p25"`
	P75 float64 `yaml:"p75" json:"p75"`
}

// WidthBand is the 20th/80th percentile band used for Bollinger width
type WidthBand struct {
	P20 float64 `yaml:"p20" json:"p20"`
	P80 float64 `yaml:"p80" json:"p80"`
}

// DatasetRange records the data window a calibration was computed on
type DatasetRange struct {
	Start string `yaml:"start" json:"start"`
	End   string `yaml:"end" json:"end"`
}

// Calibration is the versioned threshold document read at startup. It is
// never modified after loading.
type Calibration struct {
	Version           string       `yaml:"version" json:"version"`
	CalibrationDate   string       `yaml:"calibration_date" json:"calibration_date"`
	DatasetRange      DatasetRange `yaml:"dataset_range" json:"dataset_range"`
	Pairs             []string     `yaml:"pairs" json:"pairs"`
	ADX               Band         `yaml:"adx" json:"adx"`
	ATRRatio          Band         `yaml:"atr_ratio" json:"atr_ratio"`
	RBSpeed           Band         `yaml:"rb_speed" json:"rb_speed"`
	BBWidth           WidthBand    `yaml:"bb_width" json:"bb_width"`
	ADXSlopeThreshold float64      `yaml:"adx_slope_threshold" json:"adx_slope_threshold"`
	CSMWidenPct       float64      `yaml:"csm_widen_pct" json:"csm_widen_pct"`
	CSMNarrowPct      float64      `yaml:"csm_narrow_pct" json:"csm_narrow_pct"`

	// Source is "default" or the file the document was read from
	Source string `yaml:"-" json:"-"`
}

// DefaultCalibration returns the documented fallback thresholds
func DefaultCalibration() Calibration {
	return Calibration{
		Version:           SourceDefault,
		ADX:               Band{P25: 18, P75: 25},
		ATRRatio:          Band{P25: 0.85, P75: 1.25},
		RBSpeed:           Band{P25: 1, P75: 3},
		BBWidth:           WidthBand{P20: 0.002, P80: 0.008},
		ADXSlopeThreshold: 0.2,
		CSMWidenPct:       10,
		CSMNarrowPct:      30,
		Source:            SourceDefault,
	}
}

// IsDefault reports whether the calibration is the built-in fallback
func (c Calibration) IsDefault() bool {
	return c.Source == SourceDefault
}

// Validate checks that every band is finite, positive and ordered
func (c Calibration) Validate() error {
	check := func(name string, lo, hi float64) error {
		if math.IsNaN(lo) || math.IsNaN(hi) || math.IsInf(lo, 0) || math.IsInf(hi, 0) {
			return fmt.Errorf("%s band is not finite", name)
		}
		if lo < 0 || hi <= 0 {
			return fmt.Errorf("%s band must be positive (got %v/%v)", name, lo, hi)
		}
		if lo > hi {
			return fmt.Errorf("%s lower bound %v exceeds upper bound %v", name, lo, hi)
		}
		return nil
	}
	if err := check("adx", c.ADX.P25, c.ADX.P75); err != nil {
		return err
	}
	if err := check("atr_ratio", c.ATRRatio.P25, c.ATRRatio.P75); err != nil {
		return err
	}
	if err := check("rb_speed", c.RBSpeed.P25, c.RBSpeed.P75); err != nil {
		return err
	}
	if err := check("bb_width", c.BBWidth.P20, c.BBWidth.P80); err != nil {
		return err
	}
	if c.ADXSlopeThreshold <= 0 {
		return fmt.Errorf("adx_slope_threshold must be positive")
	}
	if c.CSMWidenPct <= 0 || c.CSMNarrowPct <= 0 || c.CSMNarrowPct >= 100 {
		return fmt.Errorf("csm_widen_pct/csm_narrow_pct out of range")
	}
	return nil
}

// LoadCalibration reads a calibration document (YAML, or JSON by .json
// extension). On any failure it returns the defaults together with the
// reason, so callers can warn and carry on.
func LoadCalibration(path string) (Calibration, error) {
	if path == "" {
		return DefaultCalibration(), fmt.Errorf("no calibration path configured")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return DefaultCalibration(), fmt.Errorf("failed to read calibration: %w", err)
	}

	var cal Calibration
	if isJSON(path) {
		err = json.Unmarshal(data, &cal)
	} else {
		err = yaml.Unmarshal(data, &cal)
	}
	if err != nil {
		return DefaultCalibration(), fmt.Errorf("failed to parse calibration %s: %w", path, err)
	}
	if err := cal.Validate(); err != nil {
		return DefaultCalibration(), fmt.Errorf("inconsistent calibration %s: %w", path, err)
	}
	cal.Source = path
	return cal, nil
}

// Save writes the calibration as YAML, or JSON for a .json path
func (c Calibration) Save(path string) error {
	var (
		data []byte
		err  error
	)
	if isJSON(path) {
		data, err = json.MarshalIndent(c, "", "  ")
	} else {
		data, err = yaml.Marshal(c)
	}
	if err != nil {
		return fmt.Errorf("failed to encode calibration: %v", err)
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create calibration directory: %v", err)
		}
	}
	return os.WriteFile(path, data, 0644)
}

func isJSON(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".json")
}

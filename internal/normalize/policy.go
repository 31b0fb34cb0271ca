package normalize

import (
	"os"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"
)

// Policy holds the tunable parts of foreign-key resolution. The inference
// precedence itself is fixed (direct field, related-field inference,
// geographic inference, unclassified sentinel); the policy tunes what each
// step recognizes. Upstream classification logic has been revised often
// enough that these live in data, not code.
type Policy struct {
	// PropertyTypeCodes maps upstream property-type codes to canonical
	// dimension codes.
	PropertyTypeCodes map[string]string `yaml:"property_type_codes"`

	// TradeTypeCodes maps upstream trade-type codes to canonical dimension
	// codes.
	TradeTypeCodes map[string]string `yaml:"trade_type_codes"`

	// MinSaleAmount is the floor below which a populated sale field is
	// treated as noise rather than a sale offer.
	MinSaleAmount int64 `yaml:"min_sale_amount"`

	// MinMonthlyRent is the floor below which a populated rent field does
	// not imply a monthly tenancy.
	MinMonthlyRent int64 `yaml:"min_monthly_rent"`

	// RegionBoxes optionally overrides region bounding boxes by region code
	// (min_lat, min_lon, max_lat, max_lon).
	RegionBoxes map[string][4]float64 `yaml:"region_boxes"`
}

// Canonical dimension codes produced by inference.
const (
	TradeSale        = "sale"
	TradeMonthlyRent = "monthly_rent"
	TradeDeposit     = "deposit"
)

// DefaultPolicy returns the built-in resolution policy.
func DefaultPolicy() Policy {
	return Policy{
		PropertyTypeCodes: map[string]string{
			"APT":        "apartment",
			"OPST":       "officetel",
			"VL":         "villa",
			"DDDGG":      "house",
			"SG":         "commercial",
			"TJ":         "land",
			"OR":         "one_room",
			"apartment":  "apartment",
			"officetel":  "officetel",
			"villa":      "villa",
			"house":      "house",
			"commercial": "commercial",
			"land":       "land",
		},
		TradeTypeCodes: map[string]string{
			"A1":           TradeSale,
			"B1":           TradeDeposit,
			"B2":           TradeMonthlyRent,
			"sale":         TradeSale,
			"jeonse":       TradeDeposit,
			"deposit":      TradeDeposit,
			"monthly_rent": TradeMonthlyRent,
			"rent":         TradeMonthlyRent,
		},
		MinSaleAmount:  1_000_000,
		MinMonthlyRent: 10_000,
	}
}

// LoadPolicy reads a YAML policy file and merges it over the defaults.
// An empty path returns the defaults unchanged.
func LoadPolicy(path string) (Policy, error) {
	policy := DefaultPolicy()
	if path == "" {
		return policy, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return Policy{}, eris.Wrapf(err, "normalize: read policy %s", path)
	}

	var override Policy
	if err := yaml.Unmarshal(data, &override); err != nil {
		return Policy{}, eris.Wrapf(err, "normalize: parse policy %s", path)
	}

	for k, v := range override.PropertyTypeCodes {
		policy.PropertyTypeCodes[k] = v
	}
	for k, v := range override.TradeTypeCodes {
		policy.TradeTypeCodes[k] = v
	}
	if override.MinSaleAmount > 0 {
		policy.MinSaleAmount = override.MinSaleAmount
	}
	if override.MinMonthlyRent > 0 {
		policy.MinMonthlyRent = override.MinMonthlyRent
	}
	if len(override.RegionBoxes) > 0 {
		policy.RegionBoxes = override.RegionBoxes
	}
	return policy, nil
}

package aggregation

import "strconv"

// Sentinel is displayed for values with no underlying data.
const Sentinel = "--"

// FormatOptional renders v with the given precision, or Sentinel when nil.
func FormatOptional(v *float64, decimals int) string {
	if v == nil {
		return Sentinel
	}
	return strconv.FormatFloat(*v, 'f', decimals, 64)
}

// FormatKWh renders a watt-hour value as kWh.
func FormatKWh(wh *float64) string {
	if wh == nil {
		return Sentinel
	}
	kwh := *wh / 1000
	return FormatOptional(&kwh, 2)
}

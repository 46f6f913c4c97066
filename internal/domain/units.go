package domain

import (
	"fmt"
	"strings"
)

type temperatureUnit int

const (
	unitUnknown temperatureUnit = iota
	unitKelvin
	unitCelsius
	unitFahrenheit
)

func parseTemperatureUnit(u string) temperatureUnit {
	switch strings.ToLower(strings.TrimSpace(u)) {
	case "k", "kelvin", "kelvins":
		return unitKelvin
	case "degc", "deg_c", "c", "°c", "celsius", "degrees_celsius":
		return unitCelsius
	case "degf", "deg_f", "f", "°f", "fahrenheit", "degrees_fahrenheit":
		return unitFahrenheit
	default:
		return unitUnknown
	}
}

// SameUnit reports whether two unit strings denote the same temperature unit,
// or are textually equal.
func SameUnit(a, b string) bool {
	if strings.EqualFold(strings.TrimSpace(a), strings.TrimSpace(b)) {
		return true
	}
	ua, ub := parseTemperatureUnit(a), parseTemperatureUnit(b)
	return ua != unitUnknown && ua == ub
}

// TemperatureConverter returns a function converting values from one
// temperature unit to another. It fails if either unit is not a recognised
// temperature unit.
func TemperatureConverter(from, to string) (func(float64) float64, error) {
	uf, ut := parseTemperatureUnit(from), parseTemperatureUnit(to)
	if uf == unitUnknown || ut == unitUnknown {
		return nil, fmt.Errorf("cannot convert %q to %q", from, to)
	}
	toKelvin := map[temperatureUnit]func(float64) float64{
		unitKelvin:     func(v float64) float64 { return v },
		unitCelsius:    func(v float64) float64 { return v + 273.15 },
		unitFahrenheit: func(v float64) float64 { return (v-32)*5/9 + 273.15 },
	}
	fromKelvin := map[temperatureUnit]func(float64) float64{
		unitKelvin:     func(v float64) float64 { return v },
		unitCelsius:    func(v float64) float64 { return v - 273.15 },
		unitFahrenheit: func(v float64) float64 { return (v-273.15)*9/5 + 32 },
	}
	if uf == ut {
		return toKelvin[unitKelvin], nil
	}
	in, out := toKelvin[uf], fromKelvin[ut]
	return func(v float64) float64 { return out(in(v)) }, nil
}

// InUnit returns g expressed in unit to. g itself is returned when no
// conversion is needed; otherwise the values are copied and converted.
func (g *GriddedField) InUnit(to string) (*GriddedField, error) {
	if SameUnit(g.Unit, to) {
		return g, nil
	}
	conv, err := TemperatureConverter(g.Unit, to)
	if err != nil {
		return nil, err
	}
	out := *g
	out.Unit = to
	out.Values = make([]float64, len(g.Values))
	for k, v := range g.Values {
		if g.Valid[k] {
			v = conv(v)
		}
		out.Values[k] = v
	}
	return &out, nil
}

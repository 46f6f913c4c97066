package domain

// Role is the canonical meaning an axis or variable serves in a dataset.
type Role int

const (
	// RoleTime is the valid-time axis.
	RoleTime Role = iota
	// RoleLatitude is the latitude axis.
	RoleLatitude
	// RoleLongitude is the longitude axis.
	RoleLongitude
	// RoleVariable is the verified physical variable (2-meter temperature).
	RoleVariable
)

func (r Role) String() string {
	switch r {
	case RoleTime:
		return "time"
	case RoleLatitude:
		return "latitude"
	case RoleLongitude:
		return "longitude"
	case RoleVariable:
		return "variable"
	default:
		return "unknown"
	}
}

// AliasTable lists, per role, the names a dataset may use. Order matters:
// the first alias present in a dataset wins.
type AliasTable struct {
	Time      []string `yaml:"time"`
	Latitude  []string `yaml:"latitude"`
	Longitude []string `yaml:"longitude"`
	Variable  []string `yaml:"variable"`
}

// DefaultAliases returns the naming conventions found in ECMWF IFS/AIFS
// forecast output and ERA5 reanalysis files.
func DefaultAliases() AliasTable {
	return AliasTable{
		Time:      []string{"time", "valid_time"},
		Latitude:  []string{"lat", "latitude"},
		Longitude: []string{"lon", "longitude"},
		Variable:  []string{"t2m", "2t"},
	}
}

// For returns the alias list for a role.
func (a AliasTable) For(r Role) []string {
	switch r {
	case RoleTime:
		return a.Time
	case RoleLatitude:
		return a.Latitude
	case RoleLongitude:
		return a.Longitude
	case RoleVariable:
		return a.Variable
	default:
		return nil
	}
}

// Merge returns a copy of a where every empty role list is taken from fallback.
func (a AliasTable) Merge(fallback AliasTable) AliasTable {
	pick := func(v, fb []string) []string {
		if len(v) > 0 {
			return append([]string(nil), v...)
		}
		return append([]string(nil), fb...)
	}
	return AliasTable{
		Time:      pick(a.Time, fallback.Time),
		Latitude:  pick(a.Latitude, fallback.Latitude),
		Longitude: pick(a.Longitude, fallback.Longitude),
		Variable:  pick(a.Variable, fallback.Variable),
	}
}

// NameSource is anything that can report whether it exposes a named
// coordinate or variable.
type NameSource interface {
	Has(name string) bool
}

// CoordinateMapping associates each role with the name used by one dataset.
type CoordinateMapping struct {
	Time      string `json:"time"`
	Latitude  string `json:"latitude"`
	Longitude string `json:"longitude"`
	Variable  string `json:"variable"`
}

// Name returns the dataset name resolved for a role.
func (m CoordinateMapping) Name(r Role) string {
	switch r {
	case RoleTime:
		return m.Time
	case RoleLatitude:
		return m.Latitude
	case RoleLongitude:
		return m.Longitude
	case RoleVariable:
		return m.Variable
	default:
		return ""
	}
}

// ResolveCoordinates finds the time, latitude, longitude and variable names
// used by src. Roles are resolved independently; the first role that cannot be
// resolved is reported as a *CoordinateResolutionError.
func ResolveCoordinates(dataset string, src NameSource, aliases AliasTable) (CoordinateMapping, error) {
	var m CoordinateMapping
	for _, role := range []Role{RoleTime, RoleLatitude, RoleLongitude, RoleVariable} {
		candidates := aliases.For(role)
		name, ok := firstPresent(src, candidates)
		if !ok {
			return CoordinateMapping{}, &CoordinateResolutionError{
				Dataset: dataset,
				Role:    role,
				Tried:   append([]string(nil), candidates...),
			}
		}
		switch role {
		case RoleTime:
			m.Time = name
		case RoleLatitude:
			m.Latitude = name
		case RoleLongitude:
			m.Longitude = name
		case RoleVariable:
			m.Variable = name
		}
	}
	return m, nil
}

func firstPresent(src NameSource, candidates []string) (string, bool) {
	for _, name := range candidates {
		if name != "" && src.Has(name) {
			return name, true
		}
	}
	return "", false
}

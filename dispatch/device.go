package dispatch

// Role classifies a device symbol for the purposes of the per-iteration
// primal update.
type Role int

const (
	RoleGrid Role = iota
	RoleLoad
	RoleDESD
	RolePV
	RoleWT
)

func (r Role) String() string {
	switch r {
	case RoleGrid:
		return "grid"
	case RoleLoad:
		return "load"
	case RoleDESD:
		return "desd"
	case RolePV:
		return "pv"
	case RoleWT:
		return "wt"
	default:
		return "unknown"
	}
}

// DeviceParams is the per-device-type (P_min, P_max, E_init, E_full,
// price) tuple, as compile-time constants.
type DeviceParams struct {
	PMin, PMax float64
	EInit      [3]float64
	EFull      [3]float64
	Price      [3]float64
}

// gridParams/desdParams are the box- and envelope-constraint constants:
// Grid ∈ [0,20], DESD ∈ [−5,5]. The price and DESD energy envelope
// values are this repo's own fixed defaults, documented in DESIGN.md.
var gridParams = DeviceParams{
	PMin:  0,
	PMax:  20,
	Price: [3]float64{0.12, 0.15, 0.10},
}

var desdParams = DeviceParams{
	PMin:  -5,
	PMax:  5,
	EInit: [3]float64{1, 1, 1},
	EFull: [3]float64{5, 5, 5},
}

// knownSymbols maps the device symbols this deployment's topology uses
// to their roles: Grid 1, Loads 3 and 11, DESDs 4/7/10, PV 6, WT 9.
var knownSymbols = map[string]Role{
	"1":  RoleGrid,
	"3":  RoleLoad,
	"4":  RoleDESD,
	"6":  RolePV,
	"7":  RoleDESD,
	"9":  RoleWT,
	"10": RoleDESD,
	"11": RoleLoad,
}

// SeedVectors are the per-node initial ΔP_self: Load symbols 3 and 11
// use fixed demand triples, PV symbol 6 and WT symbol 9 use fixed
// generation triples, Grid and DESD symbols start at zero. Externalised
// as configuration rather than hard-coded, defaulted to the values this
// repo's scenarios and tests assume.
type SeedVectors map[string][3]float64

// DefaultSeedVectors returns the seed table this repo assumes absent an
// externally supplied one.
func DefaultSeedVectors() SeedVectors {
	return SeedVectors{
		"3":  {4.31, 4.25, 4.23},
		"11": {2.10, 2.05, 2.00},
		"6":  {-3.50, -4.00, -3.75},
		"9":  {-1.20, -1.40, -1.10},
	}
}

// paramsFor returns the DeviceParams for role. Load/PV/WT nodes have no
// box or envelope constraints of their own and run no primal update;
// their zero-value DeviceParams is never consulted.
func paramsFor(role Role) DeviceParams {
	switch role {
	case RoleGrid:
		return gridParams
	case RoleDESD:
		return desdParams
	default:
		return DeviceParams{}
	}
}

package satdata

import "fmt"

// Var identifies one variable of the fixed solar wind schema.
type Var int

const (
	VarTime Var = iota
	VarSpeed
	VarSpeedX
	VarDensity
	VarTemp
	VarPdyn
	VarBx
	VarBy
	VarBz
	VarBtot
	VarBr
	VarBt
	VarBn
	VarDst
	VarKp
	VarAurora
	VarEc
	VarAE

	numVars
)

var varNames = [numVars]string{
	VarTime:    "time",
	VarSpeed:   "speed",
	VarSpeedX:  "speedx",
	VarDensity: "density",
	VarTemp:    "temp",
	VarPdyn:    "pdyn",
	VarBx:      "bx",
	VarBy:      "by",
	VarBz:      "bz",
	VarBtot:    "btot",
	VarBr:      "br",
	VarBt:      "bt",
	VarBn:      "bn",
	VarDst:     "dst",
	VarKp:      "kp",
	VarAurora:  "aurora",
	VarEc:      "ec",
	VarAE:      "ae",
}

func (v Var) String() string {
	if v < 0 || v >= numVars {
		return fmt.Sprintf("Var(%d)", int(v))
	}
	return varNames[v]
}

// Valid reports whether v is part of the schema.
func (v Var) Valid() bool {
	return v >= 0 && v < numVars
}

// ParseVar resolves a schema variable by name.
func ParseVar(name string) (Var, error) {
	for i, n := range varNames {
		if n == name {
			return Var(i), nil
		}
	}
	return 0, fmt.Errorf("unknown variable %q: %w", name, ErrSchema)
}

// AllVars returns every data variable of the schema in order, without time.
func AllVars() []Var {
	out := make([]Var, 0, numVars-1)
	for v := VarTime + 1; v < numVars; v++ {
		out = append(out, v)
	}
	return out
}

// MagneticVars are the Cartesian field components rewritten by frame
// conversions.
var MagneticVars = []Var{VarBx, VarBy, VarBz}

// RTNVars are the spacecraft-frame field components.
var RTNVars = []Var{VarBr, VarBt, VarBn}

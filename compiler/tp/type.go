package tp

import "strconv"

type (
	Type interface {
		Size() int
		String() string
	}

	Int struct {
		Bits int16
	}

	Bool struct{}
)

var (
	I8  = Int{Bits: 8}
	I16 = Int{Bits: 16}
	I32 = Int{Bits: 32}
	I64 = Int{Bits: 64}

	B1 = Bool{}
)

func (x Int) Size() int {
	return int(x.Bits) / 8
}

func (x Int) String() string {
	return "i" + strconv.Itoa(int(x.Bits))
}

func (x Bool) Size() int {
	return 1
}

func (x Bool) String() string {
	return "b1"
}

// Valid reports whether t is one of the IR value types.
func Valid(t Type) bool {
	switch t := t.(type) {
	case Int:
		switch t.Bits {
		case 8, 16, 32, 64:
			return true
		}

		return false
	case Bool:
		return true
	default:
		return false
	}
}

func IsInt(t Type) bool {
	_, ok := t.(Int)
	return ok
}

func IsBool(t Type) bool {
	_, ok := t.(Bool)
	return ok
}

package arm64

type (
	Reg  uint32
	Cond uint32
)

const (
	X0 Reg = iota
	X1
	X2
	X3
	X4
	X5
	X6
	X7
	X8
	X9

	FP Reg = 29
	LR Reg = 30
	SP Reg = 31
	ZR Reg = 31
)

const (
	EQ Cond = 0
	NE Cond = 1
	HS Cond = 2
	LO Cond = 3
	HI Cond = 8
	LS Cond = 9
	GE Cond = 10
	LT Cond = 11
	GT Cond = 12
	LE Cond = 13
)

func (c Cond) Invert() Cond { return c ^ 1 }

// LDR Xt, [Xn, #off]; off is a multiple of 8.
func LDR(t, n Reg, off int) uint32 {
	return 0xf9400000 | uint32(off/8)<<10 | uint32(n)<<5 | uint32(t)
}

// STR Xt, [Xn, #off]; off is a multiple of 8.
func STR(t, n Reg, off int) uint32 {
	return 0xf9000000 | uint32(off/8)<<10 | uint32(n)<<5 | uint32(t)
}

// LDRB Wt, [Xn, Xm]
func LDRB(t, n, m Reg) uint32 {
	return 0x38606800 | uint32(m)<<16 | uint32(n)<<5 | uint32(t)
}

// STRB Wt, [Xn]
func STRB(t, n Reg) uint32 {
	return 0x39000000 | uint32(n)<<5 | uint32(t)
}

// MOVZ Xd, #imm, LSL #(hw*16)
func MOVZ(d Reg, imm uint16, hw int) uint32 {
	return 0xd2800000 | uint32(hw)<<21 | uint32(imm)<<5 | uint32(d)
}

// MOVK Xd, #imm, LSL #(hw*16)
func MOVK(d Reg, imm uint16, hw int) uint32 {
	return 0xf2800000 | uint32(hw)<<21 | uint32(imm)<<5 | uint32(d)
}

// MOV Xd, Xm
func MOV(d, m Reg) uint32 {
	return 0xaa0003e0 | uint32(m)<<16 | uint32(d)
}

func ADD(d, n, m Reg) uint32 {
	return 0x8b000000 | uint32(m)<<16 | uint32(n)<<5 | uint32(d)
}

func SUB(d, n, m Reg) uint32 {
	return 0xcb000000 | uint32(m)<<16 | uint32(n)<<5 | uint32(d)
}

func MUL(d, n, m Reg) uint32 {
	return 0x9b007c00 | uint32(m)<<16 | uint32(n)<<5 | uint32(d)
}

// ADDI Xd, Xn, #imm; n may be SP.
func ADDI(d, n Reg, imm int) uint32 {
	return 0x91000000 | uint32(imm)<<10 | uint32(n)<<5 | uint32(d)
}

// SUBI Xd, Xn, #imm; n may be SP.
func SUBI(d, n Reg, imm int) uint32 {
	return 0xd1000000 | uint32(imm)<<10 | uint32(n)<<5 | uint32(d)
}

func CMP(n, m Reg) uint32 {
	return 0xeb00001f | uint32(m)<<16 | uint32(n)<<5
}

// CSET Xd, c
func CSET(d Reg, c Cond) uint32 {
	return 0x9a9f07e0 | uint32(c.Invert())<<12 | uint32(d)
}

// CBZ Xt, #off; off is in instructions.
func CBZ(t Reg, off int) uint32 {
	return 0xb4000000 | uint32(off)&0x7ffff<<5 | uint32(t)
}

// CBZW Wt, #off
func CBZW(t Reg, off int) uint32 {
	return 0x34000000 | uint32(off)&0x7ffff<<5 | uint32(t)
}

// B #off; off is in instructions.
func B(off int) uint32 {
	return 0x14000000 | uint32(off)&0x3ffffff
}

func BLR(n Reg) uint32 {
	return 0xd63f0000 | uint32(n)<<5
}

func RET() uint32 { return 0xd65f03c0 }

func SVC() uint32 { return 0xd4000001 }

// STPPre is STP FP, LR, [SP, #-16]!
func STPPre() uint32 { return 0xa9bf7bfd }

// LDPPost is LDP FP, LR, [SP], #16
func LDPPost() uint32 { return 0xa8c17bfd }

package arm64

import "encoding/binary"

const sysWrite = 64

// Puts returns puts(s): write the NUL terminated s and a newline to fd.
// It returns the number of bytes written including the newline.
func (Arch) Puts(fd int) []byte {
	code := []uint32{
		MOV(X1, X0),
		MOVZ(X2, 0, 0),
		LDRB(X3, X1, X2), // loop:
		CBZW(X3, 3),      // to done
		ADDI(X2, X2, 1),
		B(-3), // to loop
		MOV(X4, X2), // done:
		MOVZ(X0, uint16(fd), 0),
		MOVZ(X8, sysWrite, 0),
		SVC(),

		SUBI(SP, SP, 16),
		MOVZ(X3, '\n', 0),
		STRB(X3, SP),
		ADDI(X1, SP, 0),
		MOVZ(X2, 1, 0),
		MOVZ(X0, uint16(fd), 0),
		MOVZ(X8, sysWrite, 0),
		SVC(),
		ADDI(SP, SP, 16),

		ADDI(X0, X4, 1),
		RET(),
	}

	b := make([]byte, 0, 4*len(code))

	for _, x := range code {
		b = binary.LittleEndian.AppendUint32(b, x)
	}

	return b
}

package amd64

import "encoding/binary"

const sysWrite = 1

// Puts returns puts(s): write the NUL terminated s and a newline to fd.
// It returns the number of bytes written including the newline.
func (Arch) Puts(fd int) []byte {
	var b []byte

	b = append(b,
		0x48, 0x89, 0xfe, // mov rsi, rdi
		0x31, 0xd2, // xor edx, edx
		// loop:
		0x80, 0x3c, 0x16, 0x00, // cmp byte [rsi+rdx], 0
		0x74, 0x05, // je done
		0x48, 0xff, 0xc2, // inc rdx
		0xeb, 0xf5, // jmp loop
		// done:
		0x49, 0x89, 0xd0, // mov r8, rdx
	)

	b = write(b, fd)

	b = append(b,
		0x6a, 0x0a, // push '\n'
		0x48, 0x89, 0xe6, // mov rsi, rsp
		0xba, 0x01, 0x00, 0x00, 0x00, // mov edx, 1
	)

	b = write(b, fd)

	b = append(b,
		0x59,             // pop rcx
		0x4c, 0x89, 0xc0, // mov rax, r8
		0x48, 0xff, 0xc0, // inc rax
		0xc3, // ret
	)

	return b
}

func write(b []byte, fd int) []byte {
	b = append(b, 0xb8) // mov eax, sysWrite
	b = binary.LittleEndian.AppendUint32(b, sysWrite)

	b = append(b, 0xbf) // mov edi, fd
	b = binary.LittleEndian.AppendUint32(b, uint32(fd))

	b = append(b, 0x0f, 0x05) // syscall

	return b
}

/*

Process of compilation

Builder calls (front) ->
	finalize ->
Intermediate Representation (ir) ->
	verify ->
Verified Function ->
	compile (back + asm/amd64, asm/arm64) ->
Object (code + relocations) ->
	link (jit) ->
Executable Memory ->
	call (jit.Func)

Intermediate Representation (ir) ->
	export (llvm) ->
LLVM Assembly Text

*/
package compiler

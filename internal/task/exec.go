package task

import (
	"bytes"
	"crypto/rand"
	"debug/elf"

	"github.com/aikernel/core/internal/kerrors"
	"github.com/aikernel/core/internal/mm"
)

// AArch64 auxv types (§4.5).
const (
	atNull   = 0
	atPhdr   = 3
	atPhent  = 4
	atPhnum  = 5
	atPagesz = 6
	atEntry  = 9
	atUID    = 11
	atEUID   = 12
	atGID    = 13
	atEGID   = 14
	atRandom = 25
)

// ExecImage is the prepared result of do_exec: the address space backing
// the new process image and the trap frame to resume into.
type ExecImage struct {
	MM   *mm.AddressSpace
	Trap TrapFrame
}

// DoExec implements §4.5's do_exec for a 64-bit ELF AArch64 binary: maps
// each PT_LOAD segment as a VMA with ELF-derived permissions (rejecting
// any segment that would be simultaneously writable and executable),
// then computes the initial user stack pointer for the layout
// buildUserStack describes. No stack VMA is mapped and no stack
// contents are written.
func DoExec(raw []byte, argv, envp []string, creds Credentials, alloc *mm.Allocator, userStackTop uintptr) (*ExecImage, error) {
	f, err := elf.NewFile(bytes.NewReader(raw))
	if err != nil {
		return nil, kerrors.InvalidArgument(err)
	}
	if f.Class != elf.ELFCLASS64 || f.Machine != elf.EM_AARCH64 {
		return nil, kerrors.InvalidArgument(kerrors.New("task: exec: not a 64-bit AArch64 ELF"))
	}

	as := mm.NewAddressSpace(alloc)
	for _, prog := range f.Progs {
		if prog.Type != elf.PT_LOAD {
			continue
		}
		flags := vmaFlagsFor(prog.Flags)
		if flags&mm.VMAWrite != 0 && flags&mm.VMAExec != 0 {
			return nil, kerrors.InvalidArgument(kerrors.New("task: exec: segment both writable and executable"))
		}
		start := alignDown(uintptr(prog.Vaddr), mm.PageSize)
		end := alignUp(uintptr(prog.Vaddr)+uintptr(prog.Memsz), mm.PageSize)
		if err := as.MapFixed(start, end, flags); err != nil {
			return nil, err
		}
	}

	sp, err := buildUserStack(userStackTop, argv, envp, f.Entry, creds)
	if err != nil {
		return nil, err
	}

	trap := TrapFrame{
		SP:     uint64(sp),
		PC:     f.Entry,
		PSTATE: 0, // EL0t, interrupts unmasked
	}
	return &ExecImage{MM: as, Trap: trap}, nil
}

func vmaFlagsFor(f elf.ProgFlag) mm.VMAFlags {
	var out mm.VMAFlags
	out |= mm.VMARead // segments are always at least readable once mapped
	if f&elf.PF_W != 0 {
		out |= mm.VMAWrite
	}
	if f&elf.PF_X != 0 {
		out |= mm.VMAExec
	}
	return out
}

func alignDown(v uintptr, align uintptr) uintptr { return v &^ (align - 1) }
func alignUp(v uintptr, align uintptr) uintptr   { return (v + align - 1) &^ (align - 1) }

// buildUserStack computes the stack pointer that results from laying
// out, top-down from top: 16 random bytes, envp strings (reversed), argv
// strings (reversed), alignment padding to 16 bytes, the auxv array, a
// NULL-terminated envp pointer array, a NULL-terminated argv pointer
// array, and argc — the order §4.5 specifies. It returns the final
// 16-byte-aligned stack pointer. Only the offsets are computed: none of
// these bytes are written anywhere, and the random bytes are drawn but
// not stored.
func buildUserStack(top uintptr, argv, envp []string, entry uint64, creds Credentials) (uintptr, error) {
	sp := top

	randBytes := make([]byte, 16)
	if _, err := rand.Read(randBytes); err != nil {
		return 0, kerrors.Unavailable(err)
	}
	sp -= 16
	atRandomAddr := sp

	var envPtrs, argvPtrs []uintptr
	for i := len(envp) - 1; i >= 0; i-- {
		sp -= uintptr(len(envp[i]) + 1)
		envPtrs = append([]uintptr{sp}, envPtrs...)
	}
	for i := len(argv) - 1; i >= 0; i-- {
		sp -= uintptr(len(argv[i]) + 1)
		argvPtrs = append([]uintptr{sp}, argvPtrs...)
	}

	sp = alignDown(sp, 16)

	auxv := []struct{ typ, val uint64 }{
		{atPagesz, mm.PageSize},
		{atPhdr, 0},
		{atPhent, 56},
		{atPhnum, 0},
		{atEntry, entry},
		{atUID, uint64(creds.UID)},
		{atEUID, uint64(creds.EUID)},
		{atGID, uint64(creds.GID)},
		{atEGID, uint64(creds.EGID)},
		{atRandom, uint64(atRandomAddr)},
		{atNull, 0},
	}
	sp -= uintptr(len(auxv) * 16)

	sp -= uintptr((len(envPtrs) + 1) * 8) // envp[] + NULL
	sp -= uintptr((len(argvPtrs) + 1) * 8) // argv[] + NULL
	sp -= 8                                // argc

	sp = alignDown(sp, 16)
	return sp, nil
}

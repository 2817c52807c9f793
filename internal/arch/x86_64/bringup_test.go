package x86_64_test

import (
	"testing"

	x86_64 "github.com/aikernel/core/internal/arch/x86_64"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGDTOrderValidation(t *testing.T) {
	gdt := x86_64.BuildGDT(0x1000, 0x67)
	require.NoError(t, gdt.Validate())

	userData, err := gdt.Selector(x86_64.SegUserData)
	require.NoError(t, err)
	userCode, err := gdt.Selector(x86_64.SegUserCode)
	require.NoError(t, err)
	assert.Less(t, userData, userCode, "user data must precede user code for SYSRET")
}

func TestGDTValidateRejectsBadOrder(t *testing.T) {
	gdt := &x86_64.GDT{Entries: []x86_64.GDTEntry{
		{Kind: x86_64.SegNull}, {Kind: x86_64.SegUserCode}, {Kind: x86_64.SegUserData},
		{Kind: x86_64.SegKernelCode}, {Kind: x86_64.SegKernelData}, {Kind: x86_64.SegTSS},
	}}
	assert.Error(t, gdt.Validate())
}

func TestUpdateTSSDescriptorIsPerCPU(t *testing.T) {
	cpu0 := x86_64.BuildGDT(0x1000, 0x67)
	cpu1 := x86_64.BuildGDT(0x2000, 0x67)

	require.NoError(t, cpu0.UpdateTSSDescriptor(0x9000, 0x67))
	sel0, _ := cpu0.Selector(x86_64.SegTSS)
	sel1, _ := cpu1.Selector(x86_64.SegTSS)
	assert.Equal(t, sel0, sel1, "selector index is the same across CPUs")
	assert.Equal(t, uint64(0x9000), cpu0.Entries[5].Base)
	assert.Equal(t, uint64(0x2000), cpu1.Entries[5].Base, "updating cpu0's TSS must not affect cpu1's")
}

func TestRebootFallbackSequence(t *testing.T) {
	action := x86_64.Reboot(func() bool { return false }, func() bool { return true })
	assert.Equal(t, x86_64.PowerActionKBCReset, action)

	action = x86_64.Reboot(func() bool { return false }, func() bool { return false })
	assert.Equal(t, x86_64.PowerActionTripleFault, action)
}

package wasmrun

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/hanzoai/compute/common"
)

// addWasm is a hand-assembled minimal module:
//   (func (export "add") (param i32 i32) (result i32)
//     local.get 0
//     local.get 1
//     i32.add)
var addWasm = []byte{
	0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00,
	0x01, 0x07, 0x01, 0x60, 0x02, 0x7f, 0x7f, 0x01, 0x7f,
	0x03, 0x02, 0x01, 0x00,
	0x07, 0x07, 0x01, 0x03, 0x61, 0x64, 0x64, 0x00, 0x00,
	0x0a, 0x09, 0x01, 0x07, 0x00, 0x20, 0x00, 0x20, 0x01, 0x6a, 0x0b,
}

// helloWasm imports env.memory, writes "hi\0" at offset 16 via its data
// segment, and exports hello() -> i32 returning 16 (spec §8 scenario 5).
var helloWasm = []byte{
	0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00,
	0x01, 0x05, 0x01, 0x60, 0x00, 0x01, 0x7f,
	0x02, 0x0f, 0x01, 0x03, 0x65, 0x6e, 0x76, 0x06, 0x6d, 0x65, 0x6d, 0x6f, 0x72, 0x79, 0x02, 0x00, 0x01,
	0x03, 0x02, 0x01, 0x00,
	0x07, 0x09, 0x01, 0x05, 0x68, 0x65, 0x6c, 0x6c, 0x6f, 0x00, 0x00,
	0x0a, 0x06, 0x01, 0x04, 0x00, 0x41, 0x10, 0x0b,
	0x0b, 0x09, 0x01, 0x00, 0x41, 0x10, 0x0b, 0x03, 0x68, 0x69, 0x00,
}

// spinWasm imports env.log and calls it twice with empty slices, used to
// exhaust a small fuel budget (spec P11).
var spinWasm = []byte{
	0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00,
	0x01, 0x09, 0x02, 0x60, 0x02, 0x7f, 0x7f, 0x00, 0x60, 0x00, 0x00,
	0x02, 0x0b, 0x01, 0x03, 0x65, 0x6e, 0x76, 0x03, 0x6c, 0x6f, 0x67, 0x00, 0x00,
	0x03, 0x02, 0x01, 0x01,
	0x07, 0x08, 0x01, 0x04, 0x73, 0x70, 0x69, 0x6e, 0x00, 0x01,
	0x0a, 0x10, 0x01, 0x0e, 0x00, 0x41, 0x00, 0x41, 0x00, 0x10, 0x00, 0x41, 0x00, 0x41, 0x00, 0x10, 0x00, 0x0b,
}

// TestRuntime_StringReturnConvention is spec §8 scenario 5.
func TestRuntime_StringReturnConvention(t *testing.T) {
	rt := NewRuntime(DefaultConfig())
	_, err := rt.LoadModule("greeter", "1.0.0", helloWasm)
	require.NoError(t, err)

	out, err := rt.Execute("greeter", "hello", nil)
	require.NoError(t, err)
	require.Equal(t, "hi", out)
}

// TestRuntime_ArithmeticParamMarshaling is spec §8 scenario 6.
func TestRuntime_ArithmeticParamMarshaling(t *testing.T) {
	rt := NewRuntime(DefaultConfig())
	info, err := rt.LoadModule("math", "1.0.0", addWasm)
	require.NoError(t, err)
	require.NotEmpty(t, info.Hash)
	require.Contains(t, info.Exports, "add")

	out, err := rt.Execute("math", "add", []byte(`{"a":2,"b":3}`))
	require.NoError(t, err)
	require.EqualValues(t, 5, out)

	out, err = rt.Execute("math", "add", []byte(`[2,3]`))
	require.NoError(t, err)
	require.EqualValues(t, 5, out)

	out, err = rt.Execute("math", "add", []byte(`2`))
	require.NoError(t, err)
	require.EqualValues(t, 2, out)
}

// TestRuntime_OutOfFuelLeavesRuntimeUsable is spec P11.
func TestRuntime_OutOfFuelLeavesRuntimeUsable(t *testing.T) {
	cfg := DefaultConfig()
	cfg.FuelLimit = 1
	rt := NewRuntime(cfg)

	_, err := rt.LoadModule("spinner", "1.0.0", spinWasm)
	require.NoError(t, err)

	_, err = rt.Execute("spinner", "spin", nil)
	require.Error(t, err)
	require.Equal(t, common.KindOutOfFuel, common.KindOf(err))

	_, err = rt.LoadModule("math", "1.0.0", addWasm)
	require.NoError(t, err)
	out, err := rt.Execute("math", "add", []byte(`[4,5]`))
	require.NoError(t, err)
	require.EqualValues(t, 9, out)
}

func TestRuntime_ExecuteBytesLoadsAndUnloads(t *testing.T) {
	rt := NewRuntime(DefaultConfig())
	out, err := rt.ExecuteBytes(addWasm, "add", []byte(`[10,20]`))
	require.NoError(t, err)
	require.EqualValues(t, 30, out)
	require.Empty(t, rt.ListModules())
}

func TestRuntime_UnknownFunctionNotFound(t *testing.T) {
	rt := NewRuntime(DefaultConfig())
	_, err := rt.LoadModule("math", "1.0.0", addWasm)
	require.NoError(t, err)

	_, err = rt.Execute("math", "subtract", nil)
	require.Error(t, err)
	require.Equal(t, common.KindNotFound, common.KindOf(err))
}

func TestRuntime_ClearModules(t *testing.T) {
	rt := NewRuntime(DefaultConfig())
	_, err := rt.LoadModule("math", "1.0.0", addWasm)
	require.NoError(t, err)
	require.Len(t, rt.ListModules(), 1)
	rt.ClearModules()
	require.Empty(t, rt.ListModules())
}

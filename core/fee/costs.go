package fee

// Reasons of consumption.
const (
	ReasonTransaction = "transaction"
	ReasonInstruction = "instruction"
	ReasonSignature   = "signature"
	ReasonInvoke      = "invoke"
	ReasonLock        = "lock"
	ReasonRead        = "read"
	ReasonWrite       = "write"
	ReasonCreate      = "create"
	ReasonDrop        = "drop"
	ReasonWasm        = "wasm"
	ReasonApplication = "application"
)

// CostTable is the number of units of each kernel operation.
type CostTable struct {
	Transaction    uint64 `yaml:"transaction"`
	PerInstruction uint64 `yaml:"perInstruction"`
	PerSignature   uint64 `yaml:"perSignature"`
	Invoke         uint64 `yaml:"invoke"`
	InvokePerKiB   uint64 `yaml:"invokePerKiB"`
	Lock           uint64 `yaml:"lock"`
	Read           uint64 `yaml:"read"`
	Write          uint64 `yaml:"write"`
	Create         uint64 `yaml:"create"`
	Drop           uint64 `yaml:"drop"`
	WasmCall       uint64 `yaml:"wasmCall"`
	WasmPerKiB     uint64 `yaml:"wasmPerKiB"`
}

// DefaultCosts returns the default cost table.
func DefaultCosts() CostTable {
	return CostTable{
		Transaction:    5,
		PerInstruction: 1,
		PerSignature:   2,
		Invoke:         2,
		InvokePerKiB:   1,
		Lock:           1,
		Read:           0,
		Write:          1,
		Create:         1,
		Drop:           0,
		WasmCall:       5,
		WasmPerKiB:     1,
	}
}

// InvokeCost returns the cost of an invocation with arguments of the given size.
func (c CostTable) InvokeCost(size int) uint64 {
	return c.Invoke + c.InvokePerKiB*uint64(size/1024)
}

// WasmCost returns the cost of running a module of the given size.
func (c CostTable) WasmCost(size int) uint64 {
	return c.WasmCall + c.WasmPerKiB*uint64(size/1024)
}

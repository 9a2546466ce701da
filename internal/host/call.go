package host

import (
	"fmt"
	"math/big"
	"slices"

	"github.com/shopspring/decimal"

	"github.com/yokecd/substreams/internal/abi"
)

// MaxLogBytes caps the log output of a single call. Further lines are dropped.
const MaxLogBytes = 128 * 1024

// PanicError is the failure a module reported through register_panic.
type PanicError struct {
	Message string
	File    string
	Line    uint32
	Column  uint32
}

func (err *PanicError) Error() string {
	return fmt.Sprintf("panic in the wasm: %q at %s:%d:%d", err.Message, err.File, err.Line, err.Column)
}

// Call holds the stores bound to one invocation and everything the invocation emitted.
// It implements abi.Host: writes go to the output store and reads address the inputs by index.
type Call struct {
	Entrypoint  string
	OutputStore *Store
	Inputs      []*Store

	ReturnValue   []byte
	PanicError    *PanicError
	Logs          []string
	LogsByteCount int
	LogsTruncated bool
}

var _ abi.Host = (*Call)(nil)

func NewCall(entrypoint string, output *Store, inputs ...*Store) *Call {
	return &Call{Entrypoint: entrypoint, OutputStore: output, Inputs: inputs}
}

func (call *Call) Output(data []byte) {
	call.ReturnValue = slices.Clone(data)
}

func (call *Call) RegisterPanic(report abi.Panic) {
	call.PanicError = &PanicError{
		Message: report.Message,
		File:    report.File,
		Line:    report.Line,
		Column:  report.Column,
	}
}

func (call *Call) Println(message string) {
	if call.LogsTruncated {
		return
	}
	if call.LogsByteCount+len(message) > MaxLogBytes {
		call.LogsTruncated = true
		return
	}
	call.Logs = append(call.Logs, message)
	call.LogsByteCount += len(message)
}

func (call *Call) Write(op abi.WriteOp, ordinal uint64, key string, value []byte) {
	switch op {
	case abi.WriteSet:
		call.output(op.String(), PolicySet).Set(ordinal, key, value)
	case abi.WriteSetIfNotExists:
		call.output(op.String(), PolicySetIfNotExists).SetIfNotExists(ordinal, key, value)
	case abi.WriteAppend:
		call.output(op.String(), PolicyAppend).Append(ordinal, key, value)
	default:
		panic(fmt.Sprintf("unknown write operation %s", op))
	}
}

func (call *Call) DeletePrefix(ordinal uint64, prefix string) {
	if call.OutputStore == nil {
		panic(fmt.Sprintf("%s: delete_prefix called without an output store", call.Entrypoint))
	}
	call.OutputStore.DeletePrefix(ordinal, prefix)
}

var mergePolicies = map[abi.MergeOp]Policy{
	abi.MergeAdd: PolicyAdd,
	abi.MergeMin: PolicyMin,
	abi.MergeMax: PolicyMax,
}

func (call *Call) Merge(op abi.MergeOp, ordinal uint64, key string, operand abi.Operand) {
	policy, ok := mergePolicies[op]
	if !ok {
		panic(fmt.Sprintf("unknown merge operation %s", op))
	}

	name := abi.ImportName(op, operand.Representation)
	store := call.output(name, policy)

	if valueType := operand.Representation.String(); !matchesValueType(store.ValueType(), valueType) {
		panic(fmt.Sprintf("invalid store operation %q, only valid for stores with updatePolicy == %q and valueType == %q", name, policy, valueType))
	}

	switch operand.Representation {
	case abi.Int64:
		mergeFuncs(op, store.SumInt64, store.SetMinInt64, store.SetMaxInt64)(ordinal, key, operand.Int)
	case abi.Float64:
		mergeFuncs(op, store.SumFloat64, store.SetMinFloat64, store.SetMaxFloat64)(ordinal, key, operand.Float)
	case abi.BigInt:
		value, ok := new(big.Int).SetString(operand.Text, 10)
		if !ok {
			panic(fmt.Sprintf("%s: invalid big integer %q for key %q", name, operand.Text, key))
		}
		mergeFuncs(op, store.SumBigInt, store.SetMinBigInt, store.SetMaxBigInt)(ordinal, key, value)
	case abi.BigDecimal:
		value, err := decimal.NewFromString(operand.Text)
		if err != nil {
			panic(fmt.Sprintf("%s: invalid big decimal %q for key %q: %v", name, operand.Text, key, err))
		}
		mergeFuncs(op, store.SumBigDecimal, store.SetMinBigDecimal, store.SetMaxBigDecimal)(ordinal, key, value)
	default:
		panic(fmt.Sprintf("unknown representation %s", operand.Representation))
	}
}

func mergeFuncs[T any](op abi.MergeOp, sum, setMin, setMax func(uint64, string, T)) func(uint64, string, T) {
	switch op {
	case abi.MergeMin:
		return setMin
	case abi.MergeMax:
		return setMax
	default:
		return sum
	}
}

// bigfloat is the former name of bigdecimal and is still accepted in manifests.
func matchesValueType(storeType, valueType string) bool {
	if storeType == "bigfloat" {
		storeType = "bigdecimal"
	}
	return storeType == valueType
}

// Get returns a copy of the value, so that callers cannot alter the store through it.
func (call *Call) Get(index uint32, query abi.Query, key string) ([]byte, bool) {
	store := call.input(index)

	var (
		value []byte
		found bool
	)
	switch query.Kind {
	case abi.QueryAt:
		value, found = store.GetAt(query.Ordinal, key)
	case abi.QueryFirst:
		value, found = store.GetFirst(key)
	case abi.QueryLast:
		value, found = store.GetLast(key)
	default:
		panic(fmt.Sprintf("unknown query %s", query))
	}

	return slices.Clone(value), found
}

func (call *Call) Has(index uint32, query abi.Query, key string) bool {
	store := call.input(index)
	switch query.Kind {
	case abi.QueryAt:
		return store.HasAt(query.Ordinal, key)
	case abi.QueryFirst:
		return store.HasFirst(key)
	case abi.QueryLast:
		return store.HasLast(key)
	default:
		panic(fmt.Sprintf("unknown query %s", query))
	}
}

func (call *Call) output(operation string, policy Policy) *Store {
	if call.OutputStore == nil {
		panic(fmt.Sprintf("%s: %s called without an output store", call.Entrypoint, operation))
	}
	if call.OutputStore.Policy() != policy {
		panic(fmt.Sprintf("invalid store operation %q, only valid for stores with updatePolicy == %q", operation, policy))
	}
	return call.OutputStore
}

func (call *Call) input(index uint32) *Store {
	if int(index) >= len(call.Inputs) {
		panic(fmt.Sprintf("%s: invalid store index %d, %d input stores bound", call.Entrypoint, index, len(call.Inputs)))
	}
	return call.Inputs[index]
}

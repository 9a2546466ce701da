// Package abi declares the host functions a module may call and hides them behind a single
// Host interface. Inside wasm the interface is backed by the imported functions; natively a
// Host is bound explicitly with Use.
package abi

import (
	"fmt"
	"sync"
)

type WriteOp uint8

const (
	WriteSet WriteOp = iota
	WriteSetIfNotExists
	WriteAppend
)

func (op WriteOp) String() string {
	switch op {
	case WriteSet:
		return "set"
	case WriteSetIfNotExists:
		return "set_if_not_exists"
	case WriteAppend:
		return "append"
	default:
		return fmt.Sprintf("WriteOp(%d)", op)
	}
}

type MergeOp uint8

const (
	MergeAdd MergeOp = iota
	MergeMin
	MergeMax
)

func (op MergeOp) String() string {
	switch op {
	case MergeAdd:
		return "add"
	case MergeMin:
		return "set_min"
	case MergeMax:
		return "set_max"
	default:
		return fmt.Sprintf("MergeOp(%d)", op)
	}
}

// Representation is the numeric encoding a merge operates on.
type Representation uint8

const (
	Int64 Representation = iota
	Float64
	BigInt
	BigDecimal
)

func (repr Representation) String() string {
	switch repr {
	case Int64:
		return "int64"
	case Float64:
		return "float64"
	case BigInt:
		return "bigint"
	case BigDecimal:
		return "bigdecimal"
	default:
		return fmt.Sprintf("Representation(%d)", repr)
	}
}

// Operand is the right hand side of a merge. Int64 and Float64 travel as scalars,
// arbitrary precision values as their decimal text.
type Operand struct {
	Representation Representation
	Int            int64
	Float          float64
	Text           string
}

// ImportName is the name of the state function implementing op for the representation,
// for example add_bigint or set_max_float64.
func ImportName(op MergeOp, repr Representation) string {
	return op.String() + "_" + repr.String()
}

type QueryKind uint8

const (
	QueryAt QueryKind = iota
	QueryFirst
	QueryLast
)

type Query struct {
	Kind    QueryKind
	Ordinal uint64
}

func At(ordinal uint64) Query { return Query{Kind: QueryAt, Ordinal: ordinal} }

var (
	First = Query{Kind: QueryFirst}
	Last  = Query{Kind: QueryLast}
)

func (kind QueryKind) String() string {
	switch kind {
	case QueryAt:
		return "at"
	case QueryFirst:
		return "first"
	case QueryLast:
		return "last"
	default:
		return fmt.Sprintf("QueryKind(%d)", kind)
	}
}

func (query Query) String() string {
	if query.Kind == QueryAt {
		return fmt.Sprintf("at(%d)", query.Ordinal)
	}
	return query.Kind.String()
}

// Panic is what a module reports before aborting a call. Line and Column are zero when unknown.
type Panic struct {
	Message string
	File    string
	Line    uint32
	Column  uint32
}

// Host is every function the host exposes to a module. All calls are synchronous.
// Writes target the call's output store; reads address input stores by index.
type Host interface {
	Output(data []byte)
	RegisterPanic(report Panic)
	Println(message string)

	Write(op WriteOp, ordinal uint64, key string, value []byte)
	DeletePrefix(ordinal uint64, prefix string)
	Merge(op MergeOp, ordinal uint64, key string, operand Operand)

	Get(store uint32, query Query, key string) ([]byte, bool)
	Has(store uint32, query Query, key string) bool
}

var active = struct {
	sync.Mutex
	host Host
}{host: imported()}

// Current returns the bound host.
func Current() Host {
	active.Lock()
	defer active.Unlock()
	return active.host
}

// Use binds host and returns a function restoring the previous binding.
func Use(host Host) (restore func()) {
	active.Lock()
	defer active.Unlock()

	previous := active.host
	active.host = host

	return func() {
		active.Lock()
		defer active.Unlock()
		active.host = previous
	}
}

//go:build !wasip1

package abi

import "fmt"

// Outside of wasm there are no imports to call. Every function panics until a host is bound with Use.
type unboundHost struct{}

func imported() Host { return unboundHost{} }

func unbound(name string) {
	panic(fmt.Sprintf("abi: %s called without a bound host: use abi.Use outside of wasm", name))
}

func (unboundHost) Output([]byte) { unbound("output") }

func (unboundHost) RegisterPanic(Panic) { unbound("register_panic") }

func (unboundHost) Println(string) { unbound("println") }

func (unboundHost) Write(op WriteOp, _ uint64, _ string, _ []byte) { unbound(op.String()) }

func (unboundHost) DeletePrefix(uint64, string) { unbound("delete_prefix") }

func (unboundHost) Merge(op MergeOp, _ uint64, _ string, operand Operand) {
	unbound(ImportName(op, operand.Representation))
}

func (unboundHost) Get(_ uint32, query Query, _ string) ([]byte, bool) {
	unbound("get_" + query.Kind.String())
	return nil, false
}

func (unboundHost) Has(_ uint32, query Query, _ string) bool {
	unbound("has_" + query.Kind.String())
	return false
}

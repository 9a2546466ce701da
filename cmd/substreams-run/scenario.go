package main

import (
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/yokecd/substreams/internal/host"
	"github.com/yokecd/substreams/internal/wasi"
)

// Scenario describes the stores a run keeps in memory and the calls made for each block.
type Scenario struct {
	Stores []StoreSpec `yaml:"stores"`
	Blocks []Block     `yaml:"blocks"`
}

type StoreSpec struct {
	Name           string      `yaml:"name"`
	Policy         host.Policy `yaml:"policy"`
	ValueType      string      `yaml:"valueType"`
	ItemSizeLimit  Size        `yaml:"itemSizeLimit,omitempty"`
	TotalSizeLimit Size        `yaml:"totalSizeLimit,omitempty"`
}

type Block struct {
	Number uint64 `yaml:"number"`
	Calls  []Call `yaml:"calls"`
}

type Call struct {
	Entrypoint string  `yaml:"entrypoint"`
	Output     string  `yaml:"output,omitempty"`
	Inputs     []Input `yaml:"inputs,omitempty"`
}

// Input is a single argument of a call. Exactly one field must be set.
type Input struct {
	Param  *string `yaml:"param,omitempty"`
	Bytes  *string `yaml:"bytes,omitempty"`
	Hex    *string `yaml:"hex,omitempty"`
	Store  *string `yaml:"store,omitempty"`
	Deltas *string `yaml:"deltas,omitempty"`
}

func LoadScenario(path string) (*Scenario, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	return ParseScenario(file)
}

func ParseScenario(r io.Reader) (*Scenario, error) {
	decoder := yaml.NewDecoder(r)
	decoder.KnownFields(true)

	var scenario Scenario
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to decode scenario: %w", err)
	}

	if err := scenario.Validate(); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}

	return &scenario, nil
}

func (scenario Scenario) Validate() error {
	stores := map[string]bool{}
	for i, store := range scenario.Stores {
		if store.Name == "" {
			return fmt.Errorf("stores[%d]: name is required", i)
		}
		if stores[store.Name] {
			return fmt.Errorf("stores[%d]: duplicate store %q", i, store.Name)
		}
		stores[store.Name] = true
	}

	var previous uint64
	for i, block := range scenario.Blocks {
		if i > 0 && block.Number <= previous {
			return fmt.Errorf("blocks[%d]: block %d does not follow block %d", i, block.Number, previous)
		}
		previous = block.Number

		for j, call := range block.Calls {
			if err := call.validate(stores); err != nil {
				return fmt.Errorf("blocks[%d].calls[%d]: %w", i, j, err)
			}
		}
	}

	return nil
}

func (call Call) validate(stores map[string]bool) error {
	if call.Entrypoint == "" {
		return errors.New("entrypoint is required")
	}
	if call.Output != "" && !stores[call.Output] {
		return fmt.Errorf("output: unknown store %q", call.Output)
	}
	for i, input := range call.Inputs {
		if err := input.validate(stores); err != nil {
			return fmt.Errorf("inputs[%d]: %w", i, err)
		}
	}
	return nil
}

func (input Input) validate(stores map[string]bool) error {
	var set int
	for _, field := range []*string{input.Param, input.Bytes, input.Hex, input.Store, input.Deltas} {
		if field != nil {
			set++
		}
	}
	if set != 1 {
		return fmt.Errorf("exactly one of param, bytes, hex, store or deltas must be set: got %d", set)
	}

	for _, name := range []*string{input.Store, input.Deltas} {
		if name != nil && !stores[*name] {
			return fmt.Errorf("unknown store %q", *name)
		}
	}

	return nil
}

// NewStores instantiates the in-memory stores the scenario declares, by name.
func (scenario Scenario) NewStores() map[string]*host.Store {
	stores := make(map[string]*host.Store, len(scenario.Stores))
	for _, spec := range scenario.Stores {
		stores[spec.Name] = host.NewStore(host.StoreConfig{
			Name:           spec.Name,
			Policy:         spec.Policy,
			ValueType:      spec.ValueType,
			ItemSizeLimit:  uint64(spec.ItemSizeLimit),
			TotalSizeLimit: uint64(spec.TotalSizeLimit),
		})
	}
	return stores
}

// Bind resolves the call against stores: the host call carrying its output and input stores,
// and the arguments to pass to the entry point. Store inputs are indexed in the order they appear.
func (call Call) Bind(stores map[string]*host.Store) (*host.Call, []wasi.Argument, error) {
	var (
		inputs []*host.Store
		args   []wasi.Argument
	)

	for i, input := range call.Inputs {
		switch {
		case input.Param != nil:
			args = append(args, wasi.Bytes(*input.Param))
		case input.Bytes != nil:
			data, err := base64.StdEncoding.DecodeString(*input.Bytes)
			if err != nil {
				return nil, nil, fmt.Errorf("inputs[%d]: invalid base64: %w", i, err)
			}
			args = append(args, wasi.Bytes(data))
		case input.Hex != nil:
			data, err := hex.DecodeString(*input.Hex)
			if err != nil {
				return nil, nil, fmt.Errorf("inputs[%d]: invalid hex: %w", i, err)
			}
			args = append(args, wasi.Bytes(data))
		case input.Store != nil:
			args = append(args, wasi.StoreIndex(len(inputs)))
			inputs = append(inputs, stores[*input.Store])
		case input.Deltas != nil:
			args = append(args, wasi.Deltas(stores[*input.Deltas].Deltas()))
		}
	}

	var output *host.Store
	if call.Output != "" {
		output = stores[call.Output]
	}

	return host.NewCall(call.Entrypoint, output, inputs...), args, nil
}

package host

import (
	"math/big"
	"strconv"

	"github.com/shopspring/decimal"
)

// numeric reads and writes one of the decimal text representations kept by merge stores.
type numeric[T any] struct {
	parse  func(string) (T, bool)
	format func(T) string
}

var (
	int64s = numeric[int64]{
		parse: func(text string) (int64, bool) {
			value, err := strconv.ParseInt(text, 10, 64)
			return value, err == nil
		},
		format: func(value int64) string { return strconv.FormatInt(value, 10) },
	}
	float64s = numeric[float64]{
		parse: func(text string) (float64, bool) {
			value, err := strconv.ParseFloat(text, 64)
			return value, err == nil
		},
		format: func(value float64) string { return strconv.FormatFloat(value, 'g', -1, 64) },
	}
	bigInts = numeric[*big.Int]{
		parse:  func(text string) (*big.Int, bool) { return new(big.Int).SetString(text, 10) },
		format: func(value *big.Int) string { return value.String() },
	}
	bigDecimals = numeric[decimal.Decimal]{
		parse: func(text string) (decimal.Decimal, bool) {
			value, err := decimal.NewFromString(text)
			return value, err == nil
		},
		format: func(value decimal.Decimal) string { return value.String() },
	}
)

// merge combines value with the value of key as of ordinal and writes the result at ordinal.
// A missing or unreadable previous value is replaced by value.
func merge[T any](store *Store, ordinal uint64, key string, value T, repr numeric[T], combine func(previous, value T) T) {
	result := value
	if data, found := store.GetAt(ordinal, key); found {
		if previous, ok := repr.parse(string(data)); ok {
			result = combine(previous, value)
		}
	}
	store.Set(ordinal, key, []byte(repr.format(result)))
}

func (store *Store) SumInt64(ordinal uint64, key string, value int64) {
	merge(store, ordinal, key, value, int64s, func(a, b int64) int64 { return a + b })
}

func (store *Store) SumFloat64(ordinal uint64, key string, value float64) {
	merge(store, ordinal, key, value, float64s, func(a, b float64) float64 { return a + b })
}

func (store *Store) SumBigInt(ordinal uint64, key string, value *big.Int) {
	merge(store, ordinal, key, value, bigInts, func(a, b *big.Int) *big.Int { return new(big.Int).Add(a, b) })
}

func (store *Store) SumBigDecimal(ordinal uint64, key string, value decimal.Decimal) {
	merge(store, ordinal, key, value, bigDecimals, decimal.Decimal.Add)
}

func (store *Store) SetMinInt64(ordinal uint64, key string, value int64) {
	merge(store, ordinal, key, value, int64s, func(a, b int64) int64 { return min(a, b) })
}

func (store *Store) SetMinFloat64(ordinal uint64, key string, value float64) {
	merge(store, ordinal, key, value, float64s, func(a, b float64) float64 { return min(a, b) })
}

func (store *Store) SetMinBigInt(ordinal uint64, key string, value *big.Int) {
	merge(store, ordinal, key, value, bigInts, func(a, b *big.Int) *big.Int {
		if b.Cmp(a) < 0 {
			return b
		}
		return a
	})
}

func (store *Store) SetMinBigDecimal(ordinal uint64, key string, value decimal.Decimal) {
	merge(store, ordinal, key, value, bigDecimals, func(a, b decimal.Decimal) decimal.Decimal { return decimal.Min(a, b) })
}

func (store *Store) SetMaxInt64(ordinal uint64, key string, value int64) {
	merge(store, ordinal, key, value, int64s, func(a, b int64) int64 { return max(a, b) })
}

func (store *Store) SetMaxFloat64(ordinal uint64, key string, value float64) {
	merge(store, ordinal, key, value, float64s, func(a, b float64) float64 { return max(a, b) })
}

func (store *Store) SetMaxBigInt(ordinal uint64, key string, value *big.Int) {
	merge(store, ordinal, key, value, bigInts, func(a, b *big.Int) *big.Int {
		if b.Cmp(a) > 0 {
			return b
		}
		return a
	})
}

func (store *Store) SetMaxBigDecimal(ordinal uint64, key string, value decimal.Decimal) {
	merge(store, ordinal, key, value, bigDecimals, func(a, b decimal.Decimal) decimal.Decimal { return decimal.Max(a, b) })
}

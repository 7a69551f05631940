package traceid

import (
	"fmt"
)

// Category classifies how a trace's run invocation was derived from its
// benchmark's parameter space.
type Category int

const (
	// CategoryBase is the single run accepted by the size search.
	CategoryBase Category = iota
	// CategoryNormal is one cell of the normal-parameter cross product.
	CategoryNormal
	// CategorySpecial is a run with exactly one special flag appended.
	CategorySpecial
)

// categoryDigits maps categories to their identifier digit.
const categoryDigits = "012"

// String returns the lowercase category name.
func (c Category) String() string {
	switch c {
	case CategoryBase:
		return "base"
	case CategoryNormal:
		return "normal"
	case CategorySpecial:
		return "special"
	default:
		return fmt.Sprintf("category(%d)", int(c))
	}
}

// Digit returns the single identifier digit encoding the category.
func (c Category) Digit() byte {
	return categoryDigits[int(c)]
}

// Valid reports whether c is one of the three defined categories.
func (c Category) Valid() bool {
	return c >= CategoryBase && c <= CategorySpecial
}

// ParseCategory parses a lowercase category name.
func ParseCategory(s string) (Category, error) {
	switch s {
	case "base":
		return CategoryBase, nil
	case "normal":
		return CategoryNormal, nil
	case "special":
		return CategorySpecial, nil
	default:
		return 0, ErrInvalidCategory
	}
}

// ID identifies one trace in the dataset.
// IDs are fixed-width 8-character strings that sort in assignment order
// within a benchmark: "D" + two-digit benchmark index + one category digit
// (0 base, 1 normal, 2 special) + four-digit sequence number.
// Example: D0310042 = benchmark 3, normal category, sequence 42.
type ID struct {
	Benchmark int
	Category  Category
	Sequence  int
}

// Encoded identifier dimensions.
const (
	EncodedLength = 8

	MinBenchmarkIndex = 1
	MaxBenchmarkIndex = 99
	MaxSequence       = 9999
)

// New builds an ID, validating that each component fits its field width.
func New(benchmark int, category Category, sequence int) (ID, error) {
	if benchmark < MinBenchmarkIndex || benchmark > MaxBenchmarkIndex {
		return ID{}, ErrBenchmarkIndexRange
	}
	if !category.Valid() {
		return ID{}, ErrInvalidCategory
	}
	if sequence < 0 || sequence > MaxSequence {
		return ID{}, ErrSequenceRange
	}
	return ID{Benchmark: benchmark, Category: category, Sequence: sequence}, nil
}

// String returns the 8-character encoded identifier.
func (id ID) String() string {
	return fmt.Sprintf("D%02d%c%04d", id.Benchmark, id.Category.Digit(), id.Sequence)
}

// TraceFile returns the dataset filename of the trace this ID names.
func (id ID) TraceFile() string {
	return id.String() + ".sqlite3"
}

// RecordFile returns the dataset filename of the ID's metadata record.
func (id ID) RecordFile() string {
	return id.String() + ".json"
}

// Compare orders IDs by benchmark index, then category, then sequence.
// Returns -1 if id < other, 0 if id == other, 1 if id > other.
// This matches lexicographic order of the encoded strings.
func (id ID) Compare(other ID) int {
	if id.Benchmark != other.Benchmark {
		if id.Benchmark < other.Benchmark {
			return -1
		}
		return 1
	}
	if id.Category != other.Category {
		if id.Category < other.Category {
			return -1
		}
		return 1
	}
	if id.Sequence != other.Sequence {
		if id.Sequence < other.Sequence {
			return -1
		}
		return 1
	}
	return 0
}

// Parse decodes an 8-character identifier string.
func Parse(s string) (ID, error) {
	if len(s) != EncodedLength {
		return ID{}, ErrInvalidIDLength
	}
	if s[0] != 'D' {
		return ID{}, ErrInvalidIDPrefix
	}

	benchmark, err := decodeDigits(s[1:3])
	if err != nil {
		return ID{}, err
	}
	if benchmark < MinBenchmarkIndex {
		return ID{}, ErrBenchmarkIndexRange
	}

	category, err := categoryFromDigit(s[3])
	if err != nil {
		return ID{}, err
	}

	sequence, err := decodeDigits(s[4:8])
	if err != nil {
		return ID{}, err
	}

	return ID{Benchmark: benchmark, Category: category, Sequence: sequence}, nil
}

// decodeDigits decodes a fixed-width decimal field, rejecting any
// non-digit character (strconv would tolerate signs and spaces).
func decodeDigits(s string) (int, error) {
	n := 0
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c < '0' || c > '9' {
			return 0, ErrInvalidIDCharacter
		}
		n = n*10 + int(c-'0')
	}
	return n, nil
}

// categoryFromDigit decodes a single category digit.
func categoryFromDigit(c byte) (Category, error) {
	switch c {
	case '0':
		return CategoryBase, nil
	case '1':
		return CategoryNormal, nil
	case '2':
		return CategorySpecial, nil
	default:
		return 0, ErrInvalidCategory
	}
}

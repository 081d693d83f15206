package dsp

import "fmt"

// Matrix is a dense row-major table indexed by Doppler hypothesis (row) and delay (column).
type Matrix[T complex128 | float64] struct {
	dopplerCount int
	delayCount   int
	data         []T
}

// NewMatrix allocates a zeroed dopplerCount x delayCount matrix.
func NewMatrix[T complex128 | float64](dopplerCount, delayCount int) *Matrix[T] {
	if dopplerCount < 0 || delayCount < 0 {
		panic(fmt.Sprintf("dsp: negative matrix dimension %dx%d", dopplerCount, delayCount))
	}
	return &Matrix[T]{
		dopplerCount: dopplerCount,
		delayCount:   delayCount,
		data:         make([]T, dopplerCount*delayCount),
	}
}

// DopplerCount returns the number of rows.
func (m *Matrix[T]) DopplerCount() int { return m.dopplerCount }

// DelayCount returns the number of columns.
func (m *Matrix[T]) DelayCount() int { return m.delayCount }

// At returns the element at the given Doppler row and delay column.
func (m *Matrix[T]) At(doppler, delay int) T {
	m.check(doppler, delay)
	return m.data[doppler*m.delayCount+delay]
}

// Set stores v at the given Doppler row and delay column.
func (m *Matrix[T]) Set(doppler, delay int, v T) {
	m.check(doppler, delay)
	m.data[doppler*m.delayCount+delay] = v
}

// Row returns the backing slice of one Doppler row. Writes through it modify the matrix.
func (m *Matrix[T]) Row(doppler int) []T {
	if doppler < 0 || doppler >= m.dopplerCount {
		panic(fmt.Sprintf("dsp: row %d out of range [0,%d)", doppler, m.dopplerCount))
	}
	off := doppler * m.delayCount
	return m.data[off : off+m.delayCount : off+m.delayCount]
}

func (m *Matrix[T]) check(doppler, delay int) {
	if doppler < 0 || doppler >= m.dopplerCount || delay < 0 || delay >= m.delayCount {
		panic(fmt.Sprintf("dsp: index (%d,%d) out of range (%d,%d)", doppler, delay, m.dopplerCount, m.delayCount))
	}
}

func (m *Matrix[T]) hasShape(dopplerCount, delayCount int) bool {
	return m != nil && m.dopplerCount == dopplerCount && m.delayCount == delayCount
}

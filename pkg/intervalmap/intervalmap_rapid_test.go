package intervalmap

import (
	"testing"

	"github.com/i5heu/ouroboros-pgtx/internal/testutil"
	"pgregory.net/rapid"
)

const modelSize = 64

// byteModel mirrors the map as a flat array. Every covered position holds
// the byte the map must report for it, -1 marks a hole.
type byteModel struct {
	cells [modelSize]int
	sut   *byteMap
	seq   int
}

func newByteModel() *byteModel {
	m := &byteModel{sut: newByteMap()}
	for i := range m.cells {
		m.cells[i] = -1
	}
	return m
}

func (m *byteModel) Insert(t *rapid.T) {
	off := rapid.IntRange(0, modelSize-1).Draw(t, "off")
	n := rapid.IntRange(0, modelSize-off).Draw(t, "len")

	m.seq++
	data := make([]byte, n)
	for i := range data {
		data[i] = byte((m.seq*31 + i) % 251)
	}

	m.sut.Insert(uint64(off), uint64(n), data)
	for i := 0; i < n; i++ {
		m.cells[off+i] = int(data[i])
	}
}

func (m *byteModel) Erase(t *rapid.T) {
	off := rapid.IntRange(0, modelSize-1).Draw(t, "off")
	n := rapid.IntRange(0, modelSize-off).Draw(t, "len")

	m.sut.Erase(uint64(off), uint64(n))
	for i := 0; i < n; i++ {
		m.cells[off+i] = -1
	}
}

func (m *byteModel) EraseToEnd(t *rapid.T) {
	off := rapid.IntRange(0, modelSize-1).Draw(t, "off")

	m.sut.Erase(uint64(off), ^uint64(0)-uint64(off))
	for i := off; i < modelSize; i++ {
		m.cells[i] = -1
	}
}

func (m *byteModel) Check(t *rapid.T) {
	var covered [modelSize]bool
	var prevEnd uint64
	for i, e := range m.sut.Extents() {
		if e.Len == 0 {
			t.Fatalf("extent %d at %d has zero length", i, e.Off)
		}
		if i > 0 && e.Off < prevEnd {
			t.Fatalf("extent at %d overlaps previous end %d", e.Off, prevEnd)
		}
		if uint64(len(e.Val)) != e.Len {
			t.Fatalf("extent at %d: value len %d != %d", e.Off, len(e.Val), e.Len)
		}
		for j := uint64(0); j < e.Len; j++ {
			pos := e.Off + j
			if m.cells[pos] != int(e.Val[j]) {
				t.Fatalf(
					"position %d: map has %d, model has %d",
					pos, e.Val[j], m.cells[pos],
				)
			}
			covered[pos] = true
		}
		prevEnd = e.End()
	}
	for pos, c := range m.cells {
		if c >= 0 && !covered[pos] {
			t.Fatalf("position %d lost from map", pos)
		}
	}
}

func TestIntervalMapProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		m := newByteModel()

		t.Repeat(map[string]func(*rapid.T){
			"Insert":     m.Insert,
			"Erase":      m.Erase,
			"EraseToEnd": m.EraseToEnd,
			"":           m.Check,
		})
	})
}

func TestContainingRangeProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		m := newByteModel()
		steps := rapid.IntRange(1, 30).Draw(t, "steps")
		for i := 0; i < steps; i++ {
			m.Insert(t)
		}

		off := uint64(rapid.IntRange(0, modelSize-1).Draw(t, "qoff"))
		n := uint64(rapid.IntRange(1, modelSize).Draw(t, "qlen"))
		last := off + n

		want := 0
		for _, e := range m.sut.Extents() {
			if e.Off < last && e.End() > off {
				want++
			}
		}
		got := m.sut.ContainingRange(off, n)
		if len(got) != want {
			t.Fatalf("ContainingRange(%d, %d): got %d extents, want %d", off, n, len(got), want)
		}
		for i := 1; i < len(got); i++ {
			if got[i].Off <= got[i-1].Off {
				t.Fatalf("ContainingRange not ascending at %d", i)
			}
		}
	})
}

// Every rapid.Check draws a fresh seed, so more rounds explore more
// operation sequences.
func TestIntervalMapPropertyRounds(t *testing.T) {
	testutil.RequireLong(t)
	for i := 0; i < testutil.Rounds(1, 25); i++ {
		TestIntervalMapProperty(t)
	}
}

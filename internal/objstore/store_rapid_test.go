package objstore

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	pgtx "github.com/i5heu/ouroboros-pgtx"
	"github.com/i5heu/ouroboros-pgtx/internal/testutil"
	"pgregory.net/rapid"
)

// Random transactions against one object must leave the store matching a
// plain byte slice that replays the same calls in order. Each transaction
// truncates at most once, first, so replaying in order is exact.
func TestStore_RandomTransactions(t *testing.T) {
	testutil.RequireLong(t)

	rapid.Check(t, func(t *rapid.T) {
		s, err := Open(Config{
			InMemory:     true,
			DataShards:   rapid.IntRange(0, 4).Draw(t, "dataShards"),
			ParityShards: 0,
			Logger:       slog.New(slog.NewTextHandler(io.Discard, nil)),
		})
		if err != nil {
			t.Fatalf("open: %v", err)
		}
		defer s.Close()
		ctx := context.Background()

		var model []byte
		exists := false

		rounds := rapid.IntRange(1, 8).Draw(t, "rounds")
		for r := 0; r < rounds; r++ {
			tx := pgtx.New()

			if exists && rapid.IntRange(0, 9).Draw(t, "remove") == 0 {
				tx.Remove(head)
				model, exists = nil, false
			} else {
				if rapid.Bool().Draw(t, "truncate") {
					off := rapid.Uint64Range(0, 96).Draw(t, "truncOff")
					tx.Truncate(head, off)
					model = resized(model, off)
				}
				steps := rapid.IntRange(1, 6).Draw(t, "steps")
				for i := 0; i < steps; i++ {
					off := rapid.Uint64Range(0, 64).Draw(t, "off")
					data := rapid.SliceOfN(rapid.Byte(), 1, 32).Draw(t, "data")
					if rapid.Bool().Draw(t, "zero") {
						tx.Zero(head, off, uint64(len(data)))
						data = make([]byte, len(data))
					} else {
						tx.Write(head, off, uint64(len(data)), data, 0)
					}
					if end := off + uint64(len(data)); end > uint64(len(model)) {
						model = resized(model, end)
					}
					copy(model[off:], data)
				}
				exists = true
			}

			if err := s.Apply(ctx, tx); err != nil {
				t.Fatalf("apply round %d: %v", r, err)
			}

			got, err := s.Read(ctx, head, 0, ^uint64(0))
			if !exists {
				if !errors.Is(err, ErrNotFound) {
					t.Fatalf("round %d: removed object still readable: %v", r, err)
				}
				continue
			}
			if err != nil {
				t.Fatalf("read round %d: %v", r, err)
			}
			if !bytes.Equal(got, model) {
				t.Fatalf("round %d: store has %q, model has %q", r, got, model)
			}
		}
	})
}

func resized(b []byte, size uint64) []byte {
	if size <= uint64(len(b)) {
		return b[:size]
	}
	return append(b, make([]byte, size-uint64(len(b)))...)
}

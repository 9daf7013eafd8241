package grammar

import (
	"testing"

	"github.com/maqao-project/madras-core/internal/bitstream"
)

// TestSubtableStepHashTable exercises the HashTable subtable kind, which
// Step resolves identically to SingleValue (a linear scan of mask+compare
// entries) but is otherwise unexercised anywhere in the sample grammar.
func TestSubtableStepHashTable(t *testing.T) {
	sub := &Subtable{
		Kind:    HashTable,
		Offsets: []int{0},
		Sizes:   []int{8},
		Entries: []SubtableEntry{
			{Value: 0x11, Mask: 0xFF, NextState: 1, TransitionLen: 8, HashKey: 0x11},
			{Value: 0x22, Mask: 0xFF, NextState: 2, TransitionLen: 8, HashKey: 0x22},
		},
	}

	stream := bitstream.New([]byte{0x22}, 0)
	res, err := sub.Step(stream)
	if err != nil {
		t.Fatalf("Step: %v", err)
	}
	if !res.Matched || res.NextState != 2 {
		t.Fatalf("res = %+v, want a match on state 2", res)
	}
}

func TestSubtableStepHashTableNoMatch(t *testing.T) {
	sub := &Subtable{
		Kind:    HashTable,
		Offsets: []int{0},
		Sizes:   []int{8},
		Entries: []SubtableEntry{
			{Value: 0x11, Mask: 0xFF, NextState: 1, TransitionLen: 8, HashKey: 0x11},
		},
	}

	stream := bitstream.New([]byte{0x99}, 0)
	res, err := sub.Step(stream)
	if err != nil {
		t.Fatalf("Step: %v", err)
	}
	if !res.Failed {
		t.Fatalf("res = %+v, want Failed", res)
	}
}

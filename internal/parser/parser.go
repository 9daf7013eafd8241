// Package parser drives one architecture's LR(0) automaton, as described by
// a grammar.Tables blob, over a bitstream.Stream, producing one "word" (one
// instruction) per ParseWord call (spec §4.3).
package parser

import (
	stderrors "errors"
	"fmt"

	"github.com/maqao-project/madras-core/errs"
	"github.com/maqao-project/madras-core/internal/bitstream"
	"github.com/maqao-project/madras-core/internal/grammar"
)

type bufferEntry struct {
	state      grammar.StateID
	isVariable bool
	length     int
	start, end bitstream.Position
}

type snapshot struct {
	stack          []bufferEntry
	reduced        []grammar.ReducedSymbol
	actions        []grammar.SemanticActionID
	lastReducedVar grammar.SymbolID
	transEnd       bitstream.Position
	reduce         *grammar.ReduceDetails
}

// Parser holds the per-word parsing state for one architecture's tables
// driven over one stream. A Parser is reused across words; Reset clears it.
type Parser struct {
	tables *grammar.Tables
	stream *bitstream.Stream

	stack       []bufferEntry
	reduced     []grammar.ReducedSymbol
	actions     []grammar.SemanticActionID
	finalAction grammar.FinalActionID
	altStack    []snapshot

	lastReducedVar grammar.SymbolID
	codingStart    bitstream.Position
	wordEnd        bitstream.Position
}

// New creates a Parser for tables over stream. Swapping tables mid-stream
// (interworking) is done by calling New again with a fresh Parser; the
// stream's cursor carries over unchanged.
func New(tables *grammar.Tables, stream *bitstream.Stream) *Parser {
	return &Parser{tables: tables, stream: stream}
}

// Stream returns the underlying bitstream, so callers can reposition it
// (e.g. for interworking rewinds) between words.
func (p *Parser) Stream() *bitstream.Stream { return p.stream }

// CodingRange returns the [start, end) bit range of the most recently
// parsed (successful or resynced) word.
func (p *Parser) CodingRange() (bitstream.Position, bitstream.Position) {
	return p.codingStart, p.wordEnd
}

func (p *Parser) reset() {
	p.codingStart = p.stream.Cursor()
	p.stack = append(p.stack[:0], bufferEntry{state: 0, start: p.codingStart, end: p.codingStart})
	if cap(p.reduced) < p.tables.NumVariables+1 {
		p.reduced = make([]grammar.ReducedSymbol, p.tables.NumVariables+1)
	} else {
		p.reduced = p.reduced[:p.tables.NumVariables+1]
		for i := range p.reduced {
			p.reduced[i] = grammar.ReducedSymbol{}
		}
	}
	p.actions = p.actions[:0]
	p.finalAction = 0
	p.altStack = p.altStack[:0]
	p.lastReducedVar = 0
}

// ParseWord parses exactly one word. user is opaque context forwarded to
// every semantic-action and final-action callback (typically a pointer to
// the instruction under construction). On success it returns the action
// context the callbacks ran against; on failure the stream is resynced per
// spec §4.3 step 4 (advanced by MinInsnLen bits from the word's start) and
// the caller is expected to materialise a BAD instruction over
// CodingRange().
func (p *Parser) ParseWord(user interface{}) (*grammar.ActionContext, error) {
	if p.stream.Remaining() < p.tables.MinInsnLen {
		return nil, errs.New(errs.EndOfStream, errs.ErrDisassFsmEndOfStreamReached,
			"not enough bits remain for a minimum-length instruction")
	}

	p.reset()

	for {
		top := p.stack[len(p.stack)-1]
		if int(top.state) < 0 || int(top.state) >= len(p.tables.States) {
			return nil, fmt.Errorf("parser: state %d out of range (%d states)", top.state, len(p.tables.States))
		}
		st := &p.tables.States[top.state]

		switch st.Kind {
		case grammar.Final:
			return p.finish(user)

		case grammar.Reduce:
			p.doReduce(st.Reduce)
			p.altStack = p.altStack[:0]

		case grammar.Shift:
			if err := p.doShift(st.Shift); err != nil {
				if ok := p.fallback(); ok {
					continue
				}
				return nil, p.fail(err)
			}

		case grammar.ShiftReduce:
			snap := p.snapshot(st.Reduce)
			if err := p.doShift(st.Shift); err != nil {
				p.restore(snap)
				p.doReduce(st.Reduce)
				p.altStack = p.altStack[:0]
			} else {
				p.altStack = append(p.altStack, snap)
			}

		default:
			return nil, fmt.Errorf("parser: unknown state kind %v", st.Kind)
		}
	}
}

func (p *Parser) finish(user interface{}) (*grammar.ActionContext, error) {
	ctx := &grammar.ActionContext{Reduced: p.reduced, User: user}
	for _, aid := range p.actions {
		if aid > 0 && int(aid) <= len(p.tables.Actions) {
			if fn := p.tables.Actions[aid-1]; fn != nil {
				fn(ctx)
			}
		}
	}
	if p.finalAction > 0 && int(p.finalAction) <= len(p.tables.FinalActions) {
		if fn := p.tables.FinalActions[p.finalAction-1]; fn != nil {
			fn(ctx)
		}
	}
	p.stream.Commit()
	p.wordEnd = p.stream.Cursor()
	return ctx, nil
}

// fallback pops and replays the most recent shift-reduce snapshot, as
// spec §4.3's Shift-Reduce rule requires for a failure discovered after the
// shift-reduce state itself. It reports whether a snapshot was available.
func (p *Parser) fallback() bool {
	if len(p.altStack) == 0 {
		return false
	}
	snap := p.altStack[len(p.altStack)-1]
	p.altStack = p.altStack[:len(p.altStack)-1]
	p.restore(snap)
	p.doReduce(snap.reduce)
	p.altStack = p.altStack[:0]
	return true
}

func (p *Parser) fail(cause error) error {
	var eos *bitstream.ErrEndOfStream
	if stderrors.As(cause, &eos) {
		return errs.Wrap(errs.EndOfStream, errs.ErrDisassFsmEndOfStreamReached, cause,
			"end of stream reached while parsing a word")
	}
	p.resync()
	return errs.Wrap(errs.NoTransitionMatch, errs.ErrDisassFsmNoMatchFound, cause,
		"no transition matched")
}

// resync advances the stream by MinInsnLen bits from the word's start,
// without committing a word, so the caller can emit a BAD instruction
// spanning CodingRange() and resume parsing right after it.
func (p *Parser) resync() {
	p.stream.Rewind()
	target := p.codingStart.Add(p.tables.MinInsnLen)
	if target.Sub(bitstream.Position{}) > p.stream.Len() {
		target = bitstream.Position{Byte: p.stream.Len() / 8, Bit: uint8(p.stream.Len() % 8)}
	}
	_ = p.stream.Seek(target)
	p.wordEnd = target
}

func (p *Parser) snapshot(reduce *grammar.ReduceDetails) snapshot {
	return snapshot{
		stack:          append([]bufferEntry(nil), p.stack...),
		reduced:        append([]grammar.ReducedSymbol(nil), p.reduced...),
		actions:        append([]grammar.SemanticActionID(nil), p.actions...),
		lastReducedVar: p.lastReducedVar,
		transEnd:       p.stream.TransitionEnd(),
		reduce:         reduce,
	}
}

func (p *Parser) restore(s snapshot) {
	p.stack = append(p.stack[:0], s.stack...)
	p.reduced = append(p.reduced[:0], s.reduced...)
	p.actions = append(p.actions[:0], s.actions...)
	p.lastReducedVar = s.lastReducedVar
	p.stream.Rewind()
	_ = p.stream.Seek(s.transEnd)
}

// doShift executes one Shift (or the shift half of a ShiftReduce) state.
func (p *Parser) doShift(d *grammar.ShiftDetails) error {
	if p.lastReducedVar != 0 {
		idx := int(p.lastReducedVar)
		if idx >= len(d.VariableTransition) || d.VariableTransition[idx] == grammar.StateNone {
			return errs.New(errs.NoTransitionMatch, errs.ErrDisassFsmNoMatchFound,
				fmt.Sprintf("no variable-transition entry for symbol %d", idx))
		}
		next := d.VariableTransition[idx]
		prevEnd := p.stream.TransitionEnd()
		length := 0
		if idx < len(p.reduced) {
			length = p.reduced[idx].Length
		}
		p.stack = append(p.stack, bufferEntry{state: next, isVariable: true, length: length, start: prevEnd, end: prevEnd})

		extra := 0
		if idx < len(d.ShiftAfterVariable) {
			extra = d.ShiftAfterVariable[idx]
		}
		if extra > 0 {
			start := p.stream.TransitionEnd()
			if err := p.stream.Advance(extra); err != nil {
				return err
			}
			end := p.stream.TransitionEnd()
			p.stack = append(p.stack, bufferEntry{state: next, length: extra, start: start, end: end})
		}
		p.lastReducedVar = 0
		return nil
	}

	sub := d.Subtable
	for sub != nil {
		res, err := sub.Step(p.stream)
		if err != nil {
			return err
		}
		if res.Failed {
			if d.ElseState != grammar.StateNone {
				end := p.stream.TransitionEnd()
				p.stack = append(p.stack, bufferEntry{state: d.ElseState, start: end, end: end})
				return nil
			}
			return errs.New(errs.NoTransitionMatch, errs.ErrDisassFsmNoMatchFound, "no subtable entry matched")
		}
		if res.NextSubtable != nil {
			sub = res.NextSubtable
			continue
		}
		start := p.stream.TransitionEnd()
		if err := p.stream.Advance(res.TransLen); err != nil {
			return err
		}
		end := p.stream.TransitionEnd()
		p.stack = append(p.stack, bufferEntry{state: res.NextState, length: res.TransLen, start: start, end: end})
		return nil
	}
	return errs.New(errs.NoTransitionMatch, errs.ErrDisassFsmNoMatchFound, "shift state has no subtable")
}

// doReduce executes a Reduce (or the reduce half of a ShiftReduce/fallback)
// state: it pops the RHS entries off the buffer stack in reverse of their
// declared order, fills reduced-symbol slots for tokens, discards constant
// bit-fields, and leaves already-reduced variables' slots untouched.
func (p *Parser) doReduce(rd *grammar.ReduceDetails) {
	totalBits := 0
	for i := len(rd.Ops) - 1; i >= 0; i-- {
		if len(p.stack) <= 1 {
			break
		}
		op := rd.Ops[i]
		entry := p.stack[len(p.stack)-1]
		p.stack = p.stack[:len(p.stack)-1]
		totalBits += entry.end.Sub(entry.start)

		switch op.Kind {
		case grammar.OpToken:
			v, n, err := p.stream.ValueInRange(entry.start, entry.end, op.Endianness)
			if err == nil && int(op.SymbolID) < len(p.reduced) {
				p.reduced[op.SymbolID] = grammar.ReducedSymbol{Value: v, Length: n}
			}
		case grammar.OpVariable, grammar.OpConstant:
			// variable: slot was already filled when it was itself reduced.
			// constant: bit-field discarded per spec.
		}
	}

	for len(p.stack) > 1 {
		top := p.stack[len(p.stack)-1]
		topLen := top.end.Sub(top.start)
		st := p.tables.States[top.state]
		if topLen == 0 && st.FirstTestedBit < totalBits {
			p.stack = p.stack[:len(p.stack)-1]
			continue
		}
		break
	}

	p.lastReducedVar = rd.LHS
	if rd.Action != 0 {
		p.actions = append(p.actions, rd.Action)
	}
	if rd.FinalAction != 0 {
		p.finalAction = rd.FinalAction
	}
}

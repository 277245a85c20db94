// internal/detect/escape.go
package detect

// ActionKind says what a TriggerDetector did with a byte.
type ActionKind int

const (
	// ActionPass forwards Action.Bytes to the remote side.
	ActionPass ActionKind = iota
	// ActionBuffer holds the byte as a possible trigger prefix.
	ActionBuffer
	// ActionTrigger means the full sequence was typed.
	ActionTrigger
)

func (k ActionKind) String() string {
	switch k {
	case ActionPass:
		return "pass"
	case ActionBuffer:
		return "buffer"
	case ActionTrigger:
		return "trigger"
	default:
		return "unknown"
	}
}

type Action struct {
	Kind  ActionKind
	Bytes []byte
}

// TriggerDetector matches one configured byte sequence in a keystroke stream.
type TriggerDetector struct {
	seq     []byte
	matched int
}

// NewTriggerDetector returns a detector for seq. An empty seq disables it.
func NewTriggerDetector(seq []byte) *TriggerDetector {
	return &TriggerDetector{seq: append([]byte(nil), seq...)}
}

func (d *TriggerDetector) Enabled() bool {
	return len(d.seq) > 0
}

// Feed advances the state machine by one byte.
func (d *TriggerDetector) Feed(b byte) Action {
	if len(d.seq) == 0 {
		return Action{Kind: ActionPass, Bytes: []byte{b}}
	}

	if b == d.seq[d.matched] {
		d.matched++
		if d.matched == len(d.seq) {
			d.matched = 0
			return Action{Kind: ActionTrigger}
		}
		return Action{Kind: ActionBuffer}
	}

	out := make([]byte, 0, d.matched+1)
	out = append(out, d.seq[:d.matched]...)
	out = append(out, b)
	d.matched = 0
	return Action{Kind: ActionPass, Bytes: out}
}

// Flush returns any held prefix and resets to the idle state.
func (d *TriggerDetector) Flush() []byte {
	if d.matched == 0 {
		return nil
	}
	out := append([]byte(nil), d.seq[:d.matched]...)
	d.matched = 0
	return out
}

// Trigger identifies which in-band action fired.
type Trigger int

const (
	TriggerNone Trigger = iota
	TriggerSnippet
	TriggerSaveBookmark
)

func (t Trigger) String() string {
	switch t {
	case TriggerSnippet:
		return "snippet"
	case TriggerSaveBookmark:
		return "save-bookmark"
	default:
		return "none"
	}
}

type escState int

const (
	escNormal escState = iota
	escAfterEscape
	escInCSI
	escInSS3
)

const esc = 0x1b

// EscapeFilter runs the snippet and bookmark detectors over stdin, in that
// order, and keeps bytes of CSI/SS3 sequences (cursor and function keys) away
// from both.
type EscapeFilter struct {
	snippet  *TriggerDetector
	bookmark *TriggerDetector
	state    escState
}

func NewEscapeFilter(snippetSeq, bookmarkSeq []byte) *EscapeFilter {
	return &EscapeFilter{
		snippet:  NewTriggerDetector(snippetSeq),
		bookmark: NewTriggerDetector(bookmarkSeq),
	}
}

// Event is one unit of filter output: bytes to forward, or a fired trigger.
type Event struct {
	Pass    []byte
	Trigger Trigger
}

// Feed consumes one keystroke byte and returns the resulting events in stream
// order. A byte held as a possible trigger prefix yields no events.
func (f *EscapeFilter) Feed(b byte) []Event {
	switch f.state {
	case escAfterEscape:
		switch b {
		case '[':
			f.state = escInCSI
		case 'O':
			f.state = escInSS3
		default:
			f.state = escNormal
		}
		return []Event{{Pass: []byte{b}}}
	case escInCSI:
		if b >= 0x40 && b <= 0x7e {
			f.state = escNormal
		}
		return []Event{{Pass: []byte{b}}}
	case escInSS3:
		f.state = escNormal
		return []Event{{Pass: []byte{b}}}
	}

	if b == esc {
		f.state = escAfterEscape
		return []Event{{Pass: append(f.Flush(), b)}}
	}

	a := f.snippet.Feed(b)
	switch a.Kind {
	case ActionBuffer:
		return nil
	case ActionTrigger:
		var events []Event
		if held := f.bookmark.Flush(); len(held) > 0 {
			events = append(events, Event{Pass: held})
		}
		return append(events, Event{Trigger: TriggerSnippet})
	}

	var events []Event
	var pass []byte
	for _, c := range a.Bytes {
		next := f.bookmark.Feed(c)
		switch next.Kind {
		case ActionPass:
			pass = append(pass, next.Bytes...)
		case ActionTrigger:
			if len(pass) > 0 {
				events = append(events, Event{Pass: pass})
				pass = nil
			}
			events = append(events, Event{Trigger: TriggerSaveBookmark})
		}
	}
	if len(pass) > 0 {
		events = append(events, Event{Pass: pass})
	}
	return events
}

// Write feeds a whole chunk and returns the events with adjacent pass-through
// bytes merged.
func (f *EscapeFilter) Write(chunk []byte) []Event {
	var events []Event
	for _, b := range chunk {
		for _, ev := range f.Feed(b) {
			if ev.Trigger == TriggerNone && len(events) > 0 && events[len(events)-1].Trigger == TriggerNone {
				last := &events[len(events)-1]
				last.Pass = append(last.Pass, ev.Pass...)
				continue
			}
			events = append(events, ev)
		}
	}
	return events
}

// Flush releases bytes held by either detector in stream order. The bookmark
// detector only ever holds bytes the snippet detector already released, so
// its bytes come first.
func (f *EscapeFilter) Flush() []byte {
	out := f.bookmark.Flush()
	return append(out, f.snippet.Flush()...)
}

package terminal

import (
	"sync/atomic"

	"github.com/ricochet1k/termemu"
)

const EventBufferSize = 256

type EventKind int

const (
	EventBell EventKind = iota
	EventRegionChanged
	EventScrollLines
	EventCursorMoved
)

type Event struct {
	Kind    EventKind
	Region  termemu.Region
	Reason  termemu.ChangeReason
	X       int
	Y       int
	ScrollY int
}

// Frontend receives screen callbacks from termemu and forwards the ones the
// renderer needs as events. It never blocks the emulator: when the channel
// is full the event is dropped and the frontend is marked stale so the
// consumer can resync with a full snapshot.
type Frontend struct {
	events chan<- Event
	done   <-chan struct{}
	stale  atomic.Bool
}

func NewFrontend(events chan<- Event, done <-chan struct{}) *Frontend {
	return &Frontend{events: events, done: done}
}

func (f *Frontend) Bell() {
	f.emit(Event{Kind: EventBell})
}

func (f *Frontend) RegionChanged(r termemu.Region, reason termemu.ChangeReason) {
	f.emit(Event{Kind: EventRegionChanged, Region: r, Reason: reason})
}

func (f *Frontend) ScrollLines(y int) {
	f.emit(Event{Kind: EventScrollLines, ScrollY: y})
}

func (f *Frontend) CursorMoved(x, y int) {
	f.emit(Event{Kind: EventCursorMoved, X: x, Y: y})
}

// Rows are rendered as plain text and the remote shell owns the window
// title, so style and view changes are not forwarded.
func (f *Frontend) StyleChanged(termemu.Style)                   {}
func (f *Frontend) ViewFlagChanged(termemu.ViewFlag, bool)       {}
func (f *Frontend) ViewIntChanged(termemu.ViewInt, int)          {}
func (f *Frontend) ViewStringChanged(termemu.ViewString, string) {}

// TakeStale reports whether events were dropped since the last call.
func (f *Frontend) TakeStale() bool {
	return f.stale.Swap(false)
}

func (f *Frontend) emit(event Event) {
	if f == nil || f.events == nil {
		return
	}
	if f.done != nil {
		select {
		case <-f.done:
			return
		default:
		}
	}

	select {
	case f.events <- event:
	default:
		f.stale.Store(true)
	}
}

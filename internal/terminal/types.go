package terminal

// Region is a half-open rectangle of screen cells.
type Region struct {
	X  int
	Y  int
	X2 int
	Y2 int
}

type Cursor struct {
	X int
	Y int
}

// Snapshot is the full visible screen. Lines hold one row each, styled with
// SGR escapes.
type Snapshot struct {
	Rows   int
	Cols   int
	Lines  []string
	Cursor Cursor
}

type Diff struct {
	Region Region
	Lines  []string
	Reason string
}

type UpdateKind int

const (
	UpdateSnapshot UpdateKind = iota
	UpdateDiff
	UpdateCursor
	UpdateBell
)

type Update struct {
	Kind     UpdateKind
	Snapshot *Snapshot
	Diff     *Diff
	Cursor   *Cursor
}

type InputKind int

const (
	InputText InputKind = iota
	InputRaw
	InputResize
	InputControl
)

type ResizeInput struct {
	Cols int
	Rows int
}

type ControlSignal int

const (
	ControlInterrupt ControlSignal = iota
	ControlEOF
	ControlSuspend
)

type Input struct {
	Kind    InputKind
	Text    string
	Raw     []byte
	Resize  *ResizeInput
	Control ControlSignal
}

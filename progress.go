// progress.go: Hierarchical progress tracking with cooperative cancellation.
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package cipherman

import (
	"fmt"
	"strconv"
	"sync"
	"time"

	timecache "github.com/agilira/go-timecache"
)

// ProgressStatus is the lifecycle state of a progress node.
type ProgressStatus int

const (
	ProgressInactive ProgressStatus = iota
	ProgressRunning
	ProgressCompleted
	ProgressCancelled
	ProgressHanging // waiting on a sub-node
)

// String returns the status name.
func (s ProgressStatus) String() string {
	switch s {
	case ProgressInactive:
		return "INACTIVE"
	case ProgressRunning:
		return "RUNNING"
	case ProgressCompleted:
		return "COMPLETED"
	case ProgressCancelled:
		return "CANCELLED"
	case ProgressHanging:
		return "HANGING"
	default:
		return fmt.Sprintf("ProgressStatus(%d)", int(s))
	}
}

// Formatter renders a progress amount for display.
type Formatter func(int64) string

// DefaultUnit is the unit used when none is given.
const DefaultUnit = "steps"

func formatInt(v int64) string {
	return strconv.FormatInt(v, 10)
}

// Progress is a node of a progress tree.
//
// A long operation reports through the node it was handed. When it needs to
// delegate a phase it calls StartOrSub, which either starts the node itself
// (if idle) or parks it in HANGING and returns a running child. Completing the
// child resumes the parent. Pollers read Current, Total, Title and friends,
// which always resolve to the deepest active node.
//
// Cancellation is a flag orthogonal to the status: Cancel sets it on the node
// and every active descendant, and the next Step on any of them returns
// ErrInterrupted.
//
// All nodes of one tree share a mutex, so a UI goroutine may poll while a
// worker steps.
type Progress struct {
	mu *sync.Mutex

	current   int64
	total     int64
	title     string
	unit      string
	formatter Formatter
	lastMsg   string
	status    ProgressStatus
	canceled  bool
	startedAt time.Time

	parent *Progress
	sub    *Progress
}

// ProgressSnapshot is a consistent view of the deepest active node.
type ProgressSnapshot struct {
	Title      string
	Unit       string
	LastMsg    string
	Current    int64
	Total      int64
	CurrentStr string
	TotalStr   string
	Status     ProgressStatus
	Canceled   bool
	Depth      int
	Elapsed    time.Duration
}

// NewProgress creates an inactive root node. A total of 0 means unbounded.
func NewProgress(total int64, title string) *Progress {
	return &Progress{
		mu:        &sync.Mutex{},
		total:     total,
		title:     title,
		unit:      DefaultUnit,
		formatter: formatInt,
		status:    ProgressInactive,
	}
}

func (p *Progress) active() *Progress {
	n := p
	for n.sub != nil {
		n = n.sub
	}
	return n
}

func (p *Progress) stateError(op string) error {
	return newError(ErrProgressState, ErrCodeProgressState,
		fmt.Sprintf("%s: status is %s", op, p.status))
}

func (p *Progress) start(total int64, formatter Formatter, unit string) error {
	if p.status != ProgressInactive {
		return p.stateError("start")
	}
	if formatter == nil {
		formatter = formatInt
	}
	if unit == "" {
		unit = DefaultUnit
	}
	p.canceled = false
	p.current = 0
	p.total = total
	p.formatter = formatter
	p.unit = unit
	p.startedAt = timecache.CachedTime()
	p.status = ProgressRunning
	return nil
}

// Start moves an inactive node to RUNNING, resetting counters and clearing
// cancellation. A nil formatter renders plain integers; an empty unit means
// DefaultUnit.
func (p *Progress) Start(total int64, formatter Formatter, unit string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.start(total, formatter, unit)
}

// StartOrSub starts p and returns it if p is inactive. If p is running it
// becomes HANGING and a new running child is returned. The child inherits
// p's title when title is empty.
func (p *Progress) StartOrSub(total int64, title string, formatter Formatter, unit string) (*Progress, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.status == ProgressInactive {
		if err := p.start(total, formatter, unit); err != nil {
			return nil, err
		}
		return p, nil
	}
	if p.status != ProgressRunning {
		return nil, p.stateError("start_or_sub")
	}
	if title == "" {
		title = p.title
	}
	child := &Progress{mu: p.mu, title: title, status: ProgressInactive, parent: p}
	if err := child.start(total, formatter, unit); err != nil {
		return nil, err
	}
	p.status = ProgressHanging
	p.sub = child
	return child, nil
}

// Step advances the node by amount and records msg. It returns
// ErrInterrupted once the node has been cancelled.
func (p *Progress) Step(amount int64, msg string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.canceled {
		return newError(ErrInterrupted, ErrCodeInterrupted, "progress cancelled")
	}
	if p.status != ProgressRunning {
		return p.stateError("step")
	}
	p.current += amount
	p.lastMsg = msg
	return nil
}

func (p *Progress) reset() error {
	if p.status != ProgressRunning {
		return p.stateError("reset")
	}
	p.current = 0
	p.status = ProgressInactive
	return nil
}

// Reset returns a running node to INACTIVE.
func (p *Progress) Reset() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.reset()
}

// Restart is Reset followed by Start.
func (p *Progress) Restart(total int64, formatter Formatter, unit string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.reset(); err != nil {
		return err
	}
	return p.start(total, formatter, unit)
}

// Complete marks a running node COMPLETED and resumes a hanging parent.
func (p *Progress) Complete() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.status != ProgressRunning {
		return p.stateError("complete")
	}
	p.status = ProgressCompleted
	if p.parent != nil && p.parent.status == ProgressHanging {
		return p.parent.resume()
	}
	return nil
}

// abandon ends p and its descendants without completing them. Running nodes
// go back to INACTIVE, cancelled nodes stay CANCELLED, and a hanging parent
// resumes.
func (p *Progress) abandon() {
	if p.sub != nil {
		p.sub.abandon()
	}
	if p.status == ProgressRunning {
		p.current = 0
		p.status = ProgressInactive
	}
	if p.parent != nil && p.parent.status == ProgressHanging && p.parent.sub == p {
		_ = p.parent.resume()
	}
}

// Abandon gives up on a node that will not complete, typically on an error
// path. The tree above it carries on as if the node had completed.
func (p *Progress) Abandon() {
	if p == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.abandon()
}

func (p *Progress) resume() error {
	if p.status != ProgressHanging {
		return p.stateError("resume")
	}
	if p.sub == nil {
		return newError(ErrProgressState, ErrCodeProgressState, "resume: no sub progress")
	}
	if p.sub.running() {
		return newError(ErrProgressState, ErrCodeProgressState, "resume: sub progress is still running")
	}
	p.sub = nil
	p.status = ProgressRunning
	return nil
}

// Resume brings a hanging node back to RUNNING after its child finished.
// Complete calls it automatically.
func (p *Progress) Resume() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.resume()
}

func (p *Progress) cancel() {
	if p.sub != nil {
		p.sub.cancel()
	}
	p.canceled = true
	if p.status == ProgressRunning {
		p.status = ProgressCancelled
	}
}

// Cancel sets the cancellation flag on p and its active descendants.
func (p *Progress) Cancel() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cancel()
}

func (p *Progress) running() bool {
	return p.status == ProgressRunning || p.status == ProgressHanging
}

// Status returns the node's own status (not the deepest node's).
func (p *Progress) Status() ProgressStatus {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.status
}

// Running reports RUNNING or HANGING.
func (p *Progress) Running() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running()
}

// Completed reports COMPLETED.
func (p *Progress) Completed() bool {
	return p.Status() == ProgressCompleted
}

// Hanging reports HANGING.
func (p *Progress) Hanging() bool {
	return p.Status() == ProgressHanging
}

// Canceled reports whether Cancel has been called since the last Start.
// A nil node is never cancelled.
func (p *Progress) Canceled() bool {
	if p == nil {
		return false
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.canceled
}

// Current returns the deepest active node's amount.
func (p *Progress) Current() int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.active().current
}

// Total returns the deepest active node's total.
func (p *Progress) Total() int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.active().total
}

// CurrentString renders Current with the active node's formatter.
func (p *Progress) CurrentString() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := p.active()
	return n.format(n.current)
}

// TotalString renders Total with the active node's formatter.
func (p *Progress) TotalString() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := p.active()
	return n.format(n.total)
}

// Unit returns the deepest active node's unit.
func (p *Progress) Unit() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.active().unit
}

// Title returns the deepest active node's title.
func (p *Progress) Title() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.active().title
}

// LastMessage returns the deepest active node's last step message.
func (p *Progress) LastMessage() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.active().lastMsg
}

// Elapsed returns the time since the deepest active node started.
func (p *Progress) Elapsed() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.active().elapsed()
}

// Nodes returns the chain of nodes from p down to the deepest active one.
func (p *Progress) Nodes() []*Progress {
	p.mu.Lock()
	defer p.mu.Unlock()
	var nodes []*Progress
	for n := p; n != nil; n = n.sub {
		nodes = append(nodes, n)
	}
	return nodes
}

// Snapshot reads the deepest active node under one lock.
func (p *Progress) Snapshot() ProgressSnapshot {
	p.mu.Lock()
	defer p.mu.Unlock()

	depth := 0
	n := p
	for n.sub != nil {
		n = n.sub
		depth++
	}
	return ProgressSnapshot{
		Title:      n.title,
		Unit:       n.unit,
		LastMsg:    n.lastMsg,
		Current:    n.current,
		Total:      n.total,
		CurrentStr: n.format(n.current),
		TotalStr:   n.format(n.total),
		Status:     n.status,
		Canceled:   n.canceled,
		Depth:      depth,
		Elapsed:    n.elapsed(),
	}
}

func (p *Progress) format(v int64) string {
	if p.formatter == nil {
		return formatInt(v)
	}
	return p.formatter(v)
}

func (p *Progress) elapsed() time.Duration {
	if p.startedAt.IsZero() {
		return 0
	}
	return timecache.CachedTime().Sub(p.startedAt)
}

// orNewProgress substitutes a private root for a nil progress.
func orNewProgress(p *Progress) *Progress {
	if p == nil {
		return NewProgress(0, "")
	}
	return p
}

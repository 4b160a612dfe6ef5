// Package profiler implements the CPU profiler: a trace-based call-tree
// aggregator that listens to the Tracer's call/return events and produces
// Chrome-compatible profile trees with per-node timings and sample
// sequences (spec.md §4.3).
package profiler

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"apex-build/internal/errs"
	"apex-build/internal/tracer"
)

// ProfileHeader is the {typeId, uid, title} summary returned by Start, Stop,
// and listed by GetProfileHeaders.
type ProfileHeader struct {
	TypeID string `json:"typeId"`
	UID    string `json:"uid"`
	Title  string `json:"title"`
}

// Profile is the finalized tree returned by GetProfile.
type Profile struct {
	Head     Node    `json:"head"`
	IdleTime float64 `json:"idleTime"`
	Samples  []int64 `json:"samples"`
}

// Node is one call-tree node in the wire shape spec.md §4.3 mandates.
type Node struct {
	FunctionName   string  `json:"functionName"`
	URL            string  `json:"url"`
	LineNumber     int     `json:"lineNumber"`
	TotalTime      float64 `json:"totalTime"`
	SelfTime       float64 `json:"selfTime"`
	NumberOfCalls  int     `json:"numberOfCalls"`
	Visible        bool    `json:"visible"`
	CallUID        int64   `json:"callUID"`
	Children       []Node  `json:"children"`
	ID             int64   `json:"id"`
}

// trace is one accumulating call-tree node during recording.
type trace struct {
	id         int64
	info       tracer.CallInfo
	children   map[tracer.CallInfo]*trace
	totalTime  time.Duration
	numCalls   int
	inCall     bool
	startedAt  time.Time
}

func (t *trace) childrenDuration() time.Duration {
	var sum time.Duration
	for _, c := range t.children {
		sum += c.totalTime
	}
	return sum
}

// session is one Profiler.start..stop recording, and implements
// tracer.CallListener so the Tracer drives its aggregation directly.
type session struct {
	uid        string
	title      string
	startTime  time.Time
	duration   *time.Duration
	selfPrefix string

	mu       sync.Mutex
	root     map[tracer.CallInfo]*trace
	samples  []int64
	idSeq    int64
}

// OnCall locates or creates the Trace child of parentHandle (or of the
// session root, if this is a top-level call in its chain), stamps its start
// time, and records the sample (spec.md §4.3 "Aggregation").
func (s *session) OnCall(info tracer.CallInfo, parentHandle any) any {
	if s.selfPrefix != "" && strings.HasPrefix(info.ScriptID, s.selfPrefix) {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var children map[tracer.CallInfo]*trace
	if parentHandle == nil {
		children = s.root
	} else {
		parent, ok := parentHandle.(*trace)
		if !ok {
			return nil
		}
		if parent.children == nil {
			parent.children = make(map[tracer.CallInfo]*trace)
		}
		children = parent.children
	}

	tr, ok := children[info]
	if !ok {
		s.idSeq++
		tr = &trace{id: s.idSeq, info: info}
		children[info] = tr
	}
	s.samples = append(s.samples, tr.id)
	tr.startedAt = time.Now()
	tr.inCall = true
	tr.numCalls++
	return tr
}

// OnReturn closes out the Trace handed back by OnCall, accumulating wall
// time into TotalTime.
func (s *session) OnReturn(_ tracer.CallInfo, handle any) {
	if handle == nil {
		return
	}
	tr, ok := handle.(*trace)
	if !ok {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	tr.totalTime += time.Since(tr.startedAt)
	tr.inCall = false
}

// Profiler owns the history of recording sessions and the single
// currently-recording one, if any.
type Profiler struct {
	tr         *tracer.Tracer
	selfPrefix string

	mu       sync.Mutex
	sessions []*session
	current  *session
}

// New constructs a Profiler bound to tr. selfSourcePrefix excludes the
// profiler's own frames from recording (spec.md §4.3 "Self-exclusion").
func New(tr *tracer.Tracer, selfSourcePrefix string) *Profiler {
	return &Profiler{tr: tr, selfPrefix: selfSourcePrefix}
}

// Start begins a new recording session, named name if non-empty or its uid
// otherwise, and installs it as a Tracer listener.
func (p *Profiler) Start(name string) ProfileHeader {
	p.mu.Lock()
	defer p.mu.Unlock()

	uid := strconv.Itoa(len(p.sessions) + 1)
	title := name
	if title == "" {
		title = uid
	}
	s := &session{
		uid:        uid,
		title:      title,
		startTime:  time.Now(),
		root:       make(map[tracer.CallInfo]*trace),
		selfPrefix: p.selfPrefix,
	}
	p.sessions = append(p.sessions, s)
	p.current = s
	p.tr.AddListener(s)
	return ProfileHeader{TypeID: "CPU", UID: uid, Title: title}
}

// Stop finalizes the current session, stamping its duration and detaching
// it from the Tracer.
func (p *Profiler) Stop() (ProfileHeader, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.current == nil {
		return ProfileHeader{}, fmt.Errorf("%w: no recording in progress", errs.ErrTerminationGuard)
	}
	s := p.current
	p.tr.RemoveListener(s)
	d := time.Since(s.startTime)

	s.mu.Lock()
	s.duration = &d
	s.mu.Unlock()

	p.current = nil
	return ProfileHeader{TypeID: "CPU", UID: s.uid, Title: s.title}, nil
}

// GetProfileHeaders lists every session ever started, in recording order.
func (p *Profiler) GetProfileHeaders() []ProfileHeader {
	p.mu.Lock()
	defer p.mu.Unlock()
	headers := make([]ProfileHeader, 0, len(p.sessions))
	for _, s := range p.sessions {
		headers = append(headers, ProfileHeader{TypeID: "CPU", UID: s.uid, Title: s.title})
	}
	return headers
}

// GetProfile finalizes (if the session is still live or already stopped)
// and returns the tree recorded under uid.
func (p *Profiler) GetProfile(uid string) (Profile, error) {
	p.mu.Lock()
	var found *session
	for _, s := range p.sessions {
		if s.uid == uid {
			found = s
			break
		}
	}
	p.mu.Unlock()
	if found == nil {
		return Profile{}, fmt.Errorf("%w: profile uid %q", errs.ErrLookupMiss, uid)
	}
	return buildProfile(found), nil
}

func buildProfile(s *session) Profile {
	s.mu.Lock()
	defer s.mu.Unlock()

	var duration time.Duration
	if s.duration != nil {
		duration = *s.duration
	} else {
		duration = time.Since(s.startTime)
	}

	root := &trace{info: tracer.CallInfo{FunctionName: "(root)"}, children: s.root}
	head := toNode(root, true)

	var rootChildrenTotal time.Duration
	for _, c := range s.root {
		rootChildrenTotal += c.totalTime
	}
	idleTime := duration - rootChildrenTotal
	if idleTime < 0 {
		idleTime = 0
	}

	samples := make([]int64, len(s.samples))
	copy(samples, s.samples)

	return Profile{
		Head:     head,
		IdleTime: msFloat(idleTime),
		Samples:  samples,
	}
}

// toNode converts an in-progress trace into its wire Node, recursing into
// children in a stable (id-ordered) sequence. A node still inCall at
// finalization gets its functionName suffixed " (did not return)" (spec.md
// §4.3).
func toNode(t *trace, isRoot bool) Node {
	children := make([]*trace, 0, len(t.children))
	for _, c := range t.children {
		children = append(children, c)
	}
	sort.Slice(children, func(i, j int) bool { return children[i].id < children[j].id })

	nodeChildren := make([]Node, 0, len(children))
	for _, c := range children {
		nodeChildren = append(nodeChildren, toNode(c, false))
	}

	name := t.info.FunctionName
	if t.inCall && !isRoot {
		name += " (did not return)"
	}

	selfTime := t.totalTime - t.childrenDuration()
	if selfTime < 0 {
		selfTime = 0
	}

	return Node{
		FunctionName:  name,
		URL:           t.info.ScriptID,
		LineNumber:    t.info.LineNumber,
		TotalTime:     msFloat(t.totalTime),
		SelfTime:      msFloat(selfTime),
		NumberOfCalls: t.numCalls,
		Visible:       true,
		CallUID:       t.id,
		Children:      nodeChildren,
		ID:            t.id,
	}
}

func msFloat(d time.Duration) float64 {
	return float64(d.Microseconds()) / 1000.0
}

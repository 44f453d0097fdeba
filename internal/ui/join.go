package ui

import (
	"fmt"
	"strings"
	"sync"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
)

// JoinState is the stage of a room session as seen by the join command.
type JoinState int

const (
	JoinConnecting JoinState = iota
	JoinWaiting
	JoinQueued
	JoinPaired
	JoinConnected
	JoinPeerLeft
	JoinError
)

// JoinUpdate is sent from the signaling goroutines to move the view along.
type JoinUpdate struct {
	State    JoinState
	Room     string
	Peer     string
	Position int
	// Initiator is set with JoinPaired.
	Initiator bool
	Message   string
}

// JoinModel is the Bubble Tea model behind `rtcp2p join`.
type JoinModel struct {
	identity string
	room     string
	peer     string
	state    JoinState
	position int
	offerer  bool
	message  string
	log      []string

	spinner    spinner.Model
	updateChan chan JoinUpdate
	done       chan struct{}
	quitting   bool
}

// NewJoinModel creates the model for identity.
func NewJoinModel(identity string) *JoinModel {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = SpinnerStyle

	return &JoinModel{
		identity:   identity,
		state:      JoinConnecting,
		spinner:    s,
		updateChan: make(chan JoinUpdate, 32),
		done:       make(chan struct{}),
	}
}

func (m *JoinModel) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, m.waitForUpdates())
}

func (m *JoinModel) waitForUpdates() tea.Cmd {
	return func() tea.Msg {
		select {
		case u := <-m.updateChan:
			return u
		case <-m.done:
			return nil
		}
	}
}

func (m *JoinModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			m.quitting = true
			return m, tea.Quit
		}

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case JoinUpdate:
		m.apply(msg)
		if m.state == JoinError {
			return m, tea.Quit
		}
		return m, m.waitForUpdates()
	}
	return m, nil
}

func (m *JoinModel) apply(u JoinUpdate) {
	if u.Room != "" {
		m.room = u.Room
	}
	m.state = u.State
	m.message = u.Message

	switch u.State {
	case JoinWaiting:
		m.record("joined " + m.room)
	case JoinQueued:
		m.position = u.Position
		m.record(fmt.Sprintf("queued at position %d", u.Position))
	case JoinPaired:
		m.peer = u.Peer
		m.offerer = u.Initiator
		m.record("paired with " + u.Peer)
	case JoinConnected:
		m.record("peer connection up with " + m.peer)
	case JoinPeerLeft:
		m.record(u.Peer + " left")
		m.peer = ""
	}
}

func (m *JoinModel) record(line string) {
	m.log = append(m.log, line)
	if len(m.log) > 8 {
		m.log = m.log[len(m.log)-8:]
	}
}

func (m *JoinModel) View() string {
	if m.quitting {
		return ""
	}

	var b strings.Builder
	b.WriteString(TitleStyle.Render(fmt.Sprintf("%s %s", IconPeer, m.identity)))
	b.WriteString("\n")
	if m.room != "" {
		b.WriteString(fmt.Sprintf("%s Room: %s\n\n", IconRoom, BoldStyle.Render(m.room)))
	}

	switch m.state {
	case JoinConnecting:
		b.WriteString(fmt.Sprintf("%s Connecting...\n", m.spinner.View()))
	case JoinWaiting, JoinPeerLeft:
		b.WriteString(fmt.Sprintf("%s Waiting for a peer\n", m.spinner.View()))
	case JoinQueued:
		b.WriteString(fmt.Sprintf("%s Room is full, position %d in queue\n", IconWaiting, m.position))
	case JoinPaired:
		role := "answering"
		if m.offerer {
			role = "offering"
		}
		b.WriteString(fmt.Sprintf("%s Paired with %s (%s)\n", m.spinner.View(), BoldStyle.Render(m.peer), role))
	case JoinConnected:
		b.WriteString(SuccessStyle.Render(fmt.Sprintf("%s Connected to %s", IconSuccess, m.peer)) + "\n")
	case JoinError:
		b.WriteString(ErrorStyle.Render(fmt.Sprintf("%s %s", IconError, m.message)) + "\n")
	}

	if len(m.log) > 0 {
		b.WriteString("\n" + MutedStyle.Render(strings.Join(m.log, "\n")) + "\n")
	}
	b.WriteString("\n" + MutedStyle.Render("Press q to leave"))
	return b.String()
}

// JoinUI runs a JoinModel program in the background.
type JoinUI struct {
	model   *JoinModel
	program *tea.Program
	opts    []tea.ProgramOption
	wg      sync.WaitGroup
	once    sync.Once
	exited  chan struct{}
}

// NewJoinUI creates the UI; opts are passed to tea.NewProgram.
func NewJoinUI(identity string, opts ...tea.ProgramOption) *JoinUI {
	return &JoinUI{
		model:  NewJoinModel(identity),
		opts:   opts,
		exited: make(chan struct{}),
	}
}

// Start runs the program until the user quits or Stop is called.
func (ui *JoinUI) Start() {
	ui.program = tea.NewProgram(ui.model, ui.opts...)
	ui.wg.Add(1)
	go func() {
		defer ui.wg.Done()
		defer close(ui.exited)
		if _, err := ui.program.Run(); err != nil {
			fmt.Printf("UI error: %v\n", err)
		}
	}()
}

// Exited is closed when the program stops, e.g. after the user pressed q.
func (ui *JoinUI) Exited() <-chan struct{} { return ui.exited }

// Send queues an update; it is dropped if the view is not keeping up.
func (ui *JoinUI) Send(u JoinUpdate) {
	select {
	case ui.model.updateChan <- u:
	default:
	}
}

// Stop quits the program and waits for it to exit.
func (ui *JoinUI) Stop() {
	ui.once.Do(func() {
		close(ui.model.done)
		if ui.program != nil {
			ui.program.Quit()
		}
	})
	ui.wg.Wait()
}

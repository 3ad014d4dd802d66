package main

import (
	"fmt"
	"io"
	"sync"

	"github.com/billychen0894/spareTalk/internal/client"
)

// terminalView prints confirmed messages once, in timeline order.
type terminalView struct {
	mu      sync.Mutex
	out     io.Writer
	printed map[string]struct{}
}

func newTerminalView(out io.Writer) *terminalView {
	return &terminalView{out: out, printed: make(map[string]struct{})}
}

func (v *terminalView) StatusChanged(s client.Status) {
	v.mu.Lock()
	defer v.mu.Unlock()
	switch s {
	case client.StatusConnecting:
		fmt.Fprintln(v.out, "* connecting...")
	case client.StatusMatching:
		fmt.Fprintln(v.out, "* waiting for a partner...")
	case client.StatusChatting:
		fmt.Fprintln(v.out, "* connected, say hi!")
	case client.StatusPeerLeft:
		fmt.Fprintln(v.out, "* your partner left. Type /new to find someone else.")
	case client.StatusIdle:
		fmt.Fprintln(v.out, "* not in a chat. Type /new to find a partner.")
	}
}

func (v *terminalView) TimelineChanged(entries []client.Entry) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if len(entries) == 0 {
		v.printed = make(map[string]struct{})
		return
	}
	for _, e := range entries {
		if e.Provisional {
			continue
		}
		if _, ok := v.printed[e.ID]; ok {
			continue
		}
		v.printed[e.ID] = struct{}{}
		who := "them"
		if e.Mine {
			who = "you"
		}
		fmt.Fprintf(v.out, "[%s %s] %s\n", e.Timestamp.Local().Format("15:04"), who, e.Body)
	}
}

func (v *terminalView) Notice(text string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	fmt.Fprintf(v.out, "* %s\n", text)
}

func (v *terminalView) Error(err error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	fmt.Fprintf(v.out, "! %v\n", err)
}

// Package renderer provides the embedded page contexts profile scans run
// in: a headless Chrome renderer and a static HTTP renderer.
package renderer

import (
	"log"
	"sync"
)

// mailbox is the host end of a page's one-way message channel. Messages
// posted after close are dropped.
type mailbox struct {
	messages chan string
	mu       sync.Mutex
	closed   bool
}

func newMailbox(size int) *mailbox {
	return &mailbox{messages: make(chan string, size)}
}

// post queues msg without blocking the page.
func (m *mailbox) post(msg string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	select {
	case m.messages <- msg:
	default:
		log.Printf("[renderer] message dropped, mailbox full")
	}
}

func (m *mailbox) close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.closed {
		m.closed = true
		close(m.messages)
	}
}

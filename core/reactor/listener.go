package reactor

import (
	"net"
	"os"

	"golang.org/x/sys/unix"
)

// Listener wraps the OS listening socket the reactor polls for
// readiness. Acquiring the raw fd via ln.File() and flipping it
// non-blocking mirrors the engine's accept-loop setup in this
// codebase's Go ancestry.
//
// ln.File() returns a dup of the underlying socket; that dup, not the
// original, is what fd refers to. The dup's *os.File must be kept
// alive for as long as fd is in use — closing it closes fd too.
type Listener struct {
	ln   net.Listener
	file *os.File
	fd   int
}

// Listen binds addr and returns the raw, non-blocking listener fd the
// reactor registers with its Poller.
func Listen(addr string) (*Listener, error) {
	tcpAddr, err := net.ResolveTCPAddr("tcp", addr)
	if err != nil {
		return nil, err
	}
	ln, err := net.ListenTCP("tcp", tcpAddr)
	if err != nil {
		return nil, err
	}
	file, err := ln.File()
	if err != nil {
		ln.Close()
		return nil, err
	}
	fd := int(file.Fd())

	if err := unix.SetNonblock(fd, true); err != nil {
		file.Close()
		ln.Close()
		return nil, err
	}

	return &Listener{ln: ln, file: file, fd: fd}, nil
}

// FD returns the raw listening socket descriptor.
func (l *Listener) FD() int { return l.fd }

// Addr reports the bound address.
func (l *Listener) Addr() net.Addr { return l.ln.Addr() }

// Close closes the dup'd fd via its owning *os.File, then the
// net.Listener wrapper.
func (l *Listener) Close() error {
	l.file.Close()
	return l.ln.Close()
}

// Package reactor implements the event loop (C10) of spec §4.7: a single
// goroutine that serializes every mutation of mesh.World, mirroring
// tinc's single-threaded select() loop in net.c's event_loop(). All
// other goroutines (per-connection readers, the UDP socket, the tap
// device) only perform raw I/O and hand complete frames to this loop
// over channels; see event.go.
package reactor

import (
	"fmt"
	"net"
	"os"
	"strconv"

	"golang.org/x/sys/unix"
)

// listenFDsStart is the first inherited file descriptor, matching
// systemd's sd_listen_fds() convention (and spec §6's "starting at
// fd 3").
const listenFDsStart = 3

// InheritedListeners reports the TCP listeners passed down via the
// LISTEN_FDS environment variable (spec §6: "If launched with LISTEN_FDS
// environment set, inherit that many sockets starting at fd 3 rather
// than binding fresh"), fixing the source bug spec §9 calls out in
// setup_myself: every inherited fd is addressed by the loop index i
// consistently, rather than mixing it up with listen_sockets.
//
// Returns (nil, nil) — not an error — when LISTEN_FDS is unset or zero,
// so callers fall back to binding fresh listeners.
func InheritedListeners() ([]net.Listener, error) {
	raw := os.Getenv("LISTEN_FDS")
	if raw == "" {
		return nil, nil
	}
	count, err := strconv.Atoi(raw)
	if err != nil || count < 0 {
		return nil, fmt.Errorf("reactor: malformed LISTEN_FDS=%q", raw)
	}
	if count == 0 {
		return nil, nil
	}

	listeners := make([]net.Listener, 0, count)
	for i := 0; i < count; i++ {
		fd := listenFDsStart + i
		unix.CloseOnExec(fd)

		file := os.NewFile(uintptr(fd), "listen-fd-"+strconv.Itoa(i))
		if file == nil {
			return nil, fmt.Errorf("reactor: inherited fd %d (index %d) is not valid", fd, i)
		}

		l, err := net.FileListener(file)
		file.Close()
		if err != nil {
			return nil, fmt.Errorf("reactor: inherited fd %d (index %d): %w", fd, i, err)
		}
		listeners = append(listeners, l)
	}
	return listeners, nil
}

// Listen either adopts LISTEN_FDS-inherited sockets or binds fresh ones
// for each of addrs, per spec §6's socket-activation fallback.
func Listen(addrs []string) ([]net.Listener, error) {
	if inherited, err := InheritedListeners(); err != nil {
		return nil, err
	} else if len(inherited) > 0 {
		return inherited, nil
	}

	listeners := make([]net.Listener, 0, len(addrs))
	for _, addr := range addrs {
		l, err := net.Listen("tcp", addr)
		if err != nil {
			for _, prior := range listeners {
				prior.Close()
			}
			return nil, err
		}
		listeners = append(listeners, l)
	}
	return listeners, nil
}

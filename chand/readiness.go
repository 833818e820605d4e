package main

import (
	"fmt"
	"net"
	"os"
)

// signalReady sends the ambient readiness signal: a single "READY=1\n"
// datagram to the socket named by
// NOTIFY_SOCKET, matching the systemd sd_notify wire convention without
// depending on a systemd client library (the protocol is a single
// datagram write with no reply, not worth a dependency). A missing
// NOTIFY_SOCKET is not an error — chand runs unsupervised in tests and
// under the local diagnostics harness.
func signalReady() error {
	addr := os.Getenv("NOTIFY_SOCKET")
	if addr == "" {
		return nil
	}

	conn, err := net.Dial("unixgram", addr)
	if err != nil {
		return fmt.Errorf("dialing NOTIFY_SOCKET %q: %w", addr, err)
	}
	defer conn.Close()

	_, err = conn.Write([]byte("READY=1\n"))
	if err != nil {
		return fmt.Errorf("writing readiness notification: %w", err)
	}

	return nil
}

package main

import (
	"bufio"
	"fmt"
	"net"
	"time"

	"github.com/sarda-devesh/dorylus/go/gnn"
)

// configureWeightServer issues one INFO call telling the weight server how
// many gradient pushes to expect before applying an averaged update
// (spec.md §4.3). This node's own backward-pass chunk count is the
// expected round size; a deployment that shares one weight server across
// multiple graph-server nodes would sum each node's contribution instead,
// out of scope for the single-host cluster this build targets (see
// DESIGN.md).
func configureWeightServer(weightAddr string, expectedTotal int) error {
	conn, err := net.DialTimeout("tcp", weightAddr, 2*time.Second)
	if err != nil {
		return fmt.Errorf("dial weight server: %w", err)
	}
	defer conn.Close()

	hdr := gnn.RequestHeader{Op: gnn.OpInfo, Field1: uint32(expectedTotal)}
	if err := hdr.WriteTo(conn); err != nil {
		return err
	}
	ack, err := gnn.ReadAck(bufio.NewReader(conn))
	if err != nil {
		return err
	}
	if ack != gnn.StatusOK {
		return fmt.Errorf("weight server rejected INFO: status %d", ack)
	}
	return nil
}

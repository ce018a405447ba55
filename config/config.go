// Package config holds the frozen configuration record every other
// package reads from; no file or environment parsing is provided — a
// Config value is constructed in Go and handed to peer.Peer.
package config

import (
	"errors"
	"fmt"
	"net"
	"sync/atomic"
	"time"
)

// ErrConfigLocked is returned by any mutating method called after Lock.
var ErrConfigLocked = errors.New("config: locked after Start")

// UnreliableSizeBehaviour controls what an unreliable channel does with a
// message that exceeds the current MTU.
type UnreliableSizeBehaviour int

const (
	// NormalFragmentation splits the oversize message like a reliable one.
	NormalFragmentation UnreliableSizeBehaviour = iota
	// DropAboveMTU discards the message and reports Dropped.
	DropAboveMTU
	// IgnoreMTU sends the oversize datagram anyway, risking IP fragmentation.
	IgnoreMTU
)

// Config is the frozen set of options a peer is constructed with. Call
// Validate then Lock before passing it to peer.Peer.Start; Start calls Lock
// itself if the caller hasn't.
type Config struct {
	AppIdentifier string

	LocalAddress     *net.UDPAddr
	BroadcastAddress *net.UDPAddr
	DualStack        bool

	MaximumConnections      int
	MaximumTransmissionUnit int
	AutoExpandMTU           bool
	ExpandMTUFrequency      time.Duration
	ExpandMTUFailAttempts   int

	PingInterval             time.Duration
	ConnectionTimeout        time.Duration
	ResendHandshakeInterval  time.Duration
	MaximumHandshakeAttempts int

	ReceiveBufferSize int
	SendBufferSize    int

	UnreliableSizeBehaviour UnreliableSizeBehaviour

	AcceptIncomingConnections bool
	AutoFlushSendQueue        bool
	EnableUPnP                bool
	UseMessageRecycling       bool
	// RequireConnectionApproval routes incoming handshakes through
	// RespondedAwaitingApproval instead of straight to RespondedConnect,
	// per the Approve()/Deny() states spec.md's connection diagram names.
	RequireConnectionApproval bool

	DisabledMessageTypes uint32

	// Simulation knobs, for exercising the reliability engine under
	// adverse network conditions without a real lossy link.
	SimulatedLoss       float64
	SimulatedDuplicates float64
	MinLatency          time.Duration
	RandomLatency       time.Duration

	// FragmentReassemblyTTL bounds how long a partially-received fragment
	// group is kept before being discarded (spec.md's open question on
	// reassembly memory growth; resolved here as a configurable field).
	FragmentReassemblyTTL time.Duration

	NetworkThreadName string

	locked atomic.Bool
}

// DefaultConfig returns a Config with conservative defaults matching
// spec.md §6 (1408-byte default payload MTU, six handshake attempts,
// fragment TTL of 30s).
func DefaultConfig() *Config {
	return &Config{
		MaximumConnections:        64,
		MaximumTransmissionUnit:   1408,
		AutoExpandMTU:             true,
		ExpandMTUFrequency:        2 * time.Second,
		ExpandMTUFailAttempts:     3,
		PingInterval:              1 * time.Second,
		ConnectionTimeout:         10 * time.Second,
		ResendHandshakeInterval:   500 * time.Millisecond,
		MaximumHandshakeAttempts:  6,
		ReceiveBufferSize:         1 << 20,
		SendBufferSize:            1 << 20,
		UnreliableSizeBehaviour:   NormalFragmentation,
		AcceptIncomingConnections: true,
		AutoFlushSendQueue:        true,
		UseMessageRecycling:       true,
		FragmentReassemblyTTL:     30 * time.Second,
		NetworkThreadName:         "kestrel-network",
	}
}

// Validate enforces the cross-field invariants spec.md §6 documents.
func (c *Config) Validate() error {
	if c.AppIdentifier == "" {
		return errors.New("config: AppIdentifier must be non-empty")
	}
	if c.MaximumTransmissionUnit < 1 || c.MaximumTransmissionUnit > 8191 {
		return fmt.Errorf("config: MaximumTransmissionUnit %d out of range [1,8191]", c.MaximumTransmissionUnit)
	}
	if c.ConnectionTimeout < c.PingInterval {
		return fmt.Errorf("config: ConnectionTimeout (%s) must be >= PingInterval (%s)", c.ConnectionTimeout, c.PingInterval)
	}
	if c.SimulatedLoss < 0 || c.SimulatedLoss > 1 {
		return fmt.Errorf("config: SimulatedLoss %f out of range [0,1]", c.SimulatedLoss)
	}
	if c.SimulatedDuplicates < 0 || c.SimulatedDuplicates > 1 {
		return fmt.Errorf("config: SimulatedDuplicates %f out of range [0,1]", c.SimulatedDuplicates)
	}
	if c.MaximumHandshakeAttempts < 1 {
		return errors.New("config: MaximumHandshakeAttempts must be >= 1")
	}
	return nil
}

// Lock freezes the config; fields whose runtime change would violate an
// invariant already enforced by Validate must not be mutated afterward.
func (c *Config) Lock() { c.locked.Store(true) }

// Locked reports whether Lock has been called.
func (c *Config) Locked() bool { return c.locked.Load() }

// checkUnlocked is called by setter-style helpers that mutate fields after
// construction; direct field assignment on an already-locked Config is a
// caller bug this package cannot intercept, so setters are the only
// enforcement point.
func (c *Config) checkUnlocked() error {
	if c.Locked() {
		return ErrConfigLocked
	}
	return nil
}

// SetMaximumTransmissionUnit updates the MTU before Start; returns
// ErrConfigLocked afterward.
func (c *Config) SetMaximumTransmissionUnit(mtu int) error {
	if err := c.checkUnlocked(); err != nil {
		return err
	}
	c.MaximumTransmissionUnit = mtu
	return nil
}

package jogarm

import (
	"sync"
	"sync/atomic"
)

// Hub is the shared state between the ingest handlers and the worker loops.
// Every field has its own guard; replace writes wholesale and snapshot returns
// a copy, so no caller ever holds a reference into the hub.
type Hub struct {
	cmdMu       sync.RWMutex
	cmd         TwistCommand
	cmdReceived bool

	jointsMu       sync.RWMutex
	joints         JointState
	jointsReceived bool

	trajMu sync.RWMutex
	traj   JointTrajectory

	zeroCommand       atomic.Bool
	imminentCollision atomic.Bool
}

// NewHub returns an empty hub.
func NewHub() *Hub {
	return &Hub{}
}

func (h *Hub) SetCommand(cmd TwistCommand) {
	h.cmdMu.Lock()
	defer h.cmdMu.Unlock()
	h.cmd = cmd
	h.cmdReceived = true
}

// Command returns the latest command and whether one has ever arrived.
func (h *Hub) Command() (TwistCommand, bool) {
	h.cmdMu.RLock()
	defer h.cmdMu.RUnlock()
	return h.cmd, h.cmdReceived
}

func (h *Hub) SetJointState(js JointState) {
	js = js.Clone()
	h.jointsMu.Lock()
	defer h.jointsMu.Unlock()
	h.joints = js
	h.jointsReceived = true
}

// JointState returns a copy of the latest raw feedback and whether any has arrived.
func (h *Hub) JointState() (JointState, bool) {
	h.jointsMu.RLock()
	defer h.jointsMu.RUnlock()
	return h.joints.Clone(), h.jointsReceived
}

func (h *Hub) SetTrajectory(traj JointTrajectory) {
	traj = traj.Clone()
	h.trajMu.Lock()
	defer h.trajMu.Unlock()
	h.traj = traj
}

// Trajectory returns a copy of the latest computed trajectory.
func (h *Hub) Trajectory() JointTrajectory {
	h.trajMu.RLock()
	defer h.trajMu.RUnlock()
	return h.traj.Clone()
}

func (h *Hub) SetZeroCommand(zero bool) {
	h.zeroCommand.Store(zero)
}

func (h *Hub) ZeroCommand() bool {
	return h.zeroCommand.Load()
}

func (h *Hub) SetImminentCollision(collision bool) {
	h.imminentCollision.Store(collision)
}

func (h *Hub) ImminentCollision() bool {
	return h.imminentCollision.Load()
}

// Ready reports whether both a command and joint feedback have arrived.
func (h *Hub) Ready() bool {
	_, haveCmd := h.Command()
	h.jointsMu.RLock()
	haveJoints := h.jointsReceived
	h.jointsMu.RUnlock()
	return haveCmd && haveJoints
}

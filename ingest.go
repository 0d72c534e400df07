package jogarm

import (
	"time"
)

// CommandHandler stores incoming twists in the hub.
type CommandHandler struct {
	hub        *Hub
	inputFrame string
	now        func() time.Time
}

func NewCommandHandler(hub *Hub, inputFrame string) *CommandHandler {
	return &CommandHandler{hub: hub, inputFrame: inputFrame, now: time.Now}
}

// Handle replaces the hub's command. The declared frame is always replaced by
// the configured input frame, and an unstamped command is stamped on arrival.
func (h *CommandHandler) Handle(cmd TwistCommand) {
	cmd.FrameID = h.inputFrame
	if cmd.Stamp.IsZero() {
		cmd.Stamp = h.now()
	}
	h.hub.SetCommand(cmd)
	h.hub.SetZeroCommand(cmd.IsZero())
}

// FeedbackHandler stores joint feedback in the hub.
type FeedbackHandler struct {
	hub *Hub
}

func NewFeedbackHandler(hub *Hub) *FeedbackHandler {
	return &FeedbackHandler{hub: hub}
}

func (h *FeedbackHandler) Handle(js JointState) {
	h.hub.SetJointState(js)
}

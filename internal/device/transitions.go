// SPDX-License-Identifier: MIT

package device

// transitionKey is a (current state, event) pair.
type transitionKey struct {
	from  State
	event EventType
}

// transitions is the complete legal (state, event) -> state relation.
// admin.decommission is not listed: it is a wildcard handled by Next.
var transitions = map[transitionKey]State{
	{StateProvisioning, EventDPCEnrolled}:        StateActive,
	{StateProvisioning, EventProvisioningFailed}: StateDecommissioned,

	{StateActive, EventPaymentOverdue}:    StateGracePeriod,
	{StateActive, EventPaymentCompleted}:  StatePaidOff,
	{StateActive, EventAdminSuspend}:      StateSuspended,
	{StateActive, EventAdminReportStolen}: StateStolenLocked,

	{StateGracePeriod, EventPaymentReceived}: StateActive,
	{StateGracePeriod, EventGraceExpired}:    StateSoftLocked,

	{StateSoftLocked, EventPaymentReceived}:   StateActive,
	{StateSoftLocked, EventEscalationTimeout}: StateHardLocked,

	{StateHardLocked, EventPaymentReceived}:   StateActive,
	{StateHardLocked, EventAdminSuspend}:      StateSuspended,
	{StateHardLocked, EventAdminReportStolen}: StateStolenLocked,

	{StateSuspended, EventAdminReinstate}: StateActive,

	{StateStolenLocked, EventAdminRecover}: StateSuspended,
}

// Next resolves the state a device in `from` enters when `event` is applied.
// admin.decommission terminates any state. The second return is false when
// the pair is not a legal transition.
func Next(from State, event EventType) (State, bool) {
	if event == EventAdminDecommission {
		return StateDecommissioned, true
	}
	to, ok := transitions[transitionKey{from, event}]
	return to, ok
}

// stateCommands maps an entered state to the command queued for the DPC.
// States absent from the map queue nothing (GRACE_PERIOD warns via policy
// only; PROVISIONING has no enrolled DPC to command).
var stateCommands = map[State]Command{
	StateActive:         CommandUnlock,
	StatePaidOff:        CommandUnlock,
	StateSoftLocked:     CommandLock,
	StateHardLocked:     CommandLock,
	StateSuspended:      CommandLock,
	StateStolenLocked:   CommandLock,
	StateDecommissioned: CommandWipe,
}

// CommandFor returns the command emitted on entering state, if any.
func CommandFor(state State) (Command, bool) {
	cmd, ok := stateCommands[state]
	return cmd, ok
}

// Package rbac decides which operations a server mode allows.
package rbac

type Mode string
type Action string

const (
	ModeEdit Mode = "edit"
	ModeRun  Mode = "run"
)

const (
	ActionRead     Action = "read"
	ActionEvent    Action = "event"
	ActionPresence Action = "presence"
	ActionBuild    Action = "build"
	ActionState    Action = "state"
	ActionVersion  Action = "version"
)

func Can(mode Mode, action Action) bool {
	switch mode {
	case ModeEdit:
		return true
	case ModeRun:
		return action == ActionRead || action == ActionEvent || action == ActionPresence
	default:
		return false
	}
}

func Normalize(mode string) Mode {
	switch Mode(mode) {
	case ModeEdit, ModeRun:
		return Mode(mode)
	default:
		return ModeRun
	}
}

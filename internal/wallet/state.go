package wallet

// State 表示会话状态机所处阶段。
type State string

const (
	// StateDisconnected 表示无会话。
	StateDisconnected State = "DISCONNECTED"
	// StateConnecting 表示握手进行中。
	StateConnecting State = "CONNECTING"
	// StateConnected 表示会话已建立且已注册事件订阅。
	StateConnected State = "CONNECTED"
)

var allStates = []State{StateDisconnected, StateConnecting, StateConnected}

func (s State) String() string {
	switch s {
	case StateDisconnected, StateConnecting, StateConnected:
		return string(s)
	default:
		return string(StateDisconnected)
	}
}

package core

// Event is produced by a chat transport and consumed by the session dispatch loop.
type Event interface {
	event()
}

type Connected struct{}

type Disconnected struct {
	Err error
}

type SendError struct {
	Err error
}

type ChatEvent struct {
	Message ChatMessage
}

type UserNoticeEvent struct {
	Message ChatMessage
}

// ClearMsgEvent references a single deleted message by id.
type ClearMsgEvent struct {
	Header
	TargetID string
	Login    string
	Text     string
}

type ClearChatEvent struct {
	Entry ClearChat
}

type NoticeEvent struct {
	Header
	Code string
	Text string
}

type RoomStateEvent struct {
	State RoomState
}

// UserStateEvent acknowledges the viewer on the write path.
type UserStateEvent struct {
	EmoteSets []string
	Color     string
	Name      string
}

func (Connected) event()       {}
func (Disconnected) event()    {}
func (SendError) event()       {}
func (ChatEvent) event()       {}
func (UserNoticeEvent) event() {}
func (ClearMsgEvent) event()   {}
func (ClearChatEvent) event()  {}
func (NoticeEvent) event()     {}
func (RoomStateEvent) event()  {}
func (UserStateEvent) event()  {}

// TransportObserver counts transport activity. Implementations must be nil-safe.
type TransportObserver interface {
	ObserveTransport(transport, event string)
}

package state

import (
	"errors"

	"github.com/agentworkforce/relaychat/internal/chat"
	"github.com/agentworkforce/relaychat/internal/transport"
)

// Event names published on the notification bus, one per concern.
const (
	EventInit                = "INIT"                   // engine initialized; payload: bool (restored session)
	EventLoginPending        = "LOGIN_PENDING"          // login attempt started
	EventLoginSuccess        = "LOGIN_SUCCESS"          // credential accepted
	EventLoginFailure        = "LOGIN_FAILURE"          // credential rejected or transport problem; payload: ErrorInfo
	EventLogout              = "LOGOUT"                 // state has been reset
	EventChangeActiveChannel = "CHANGE_ACTIVE_CHANNEL"  // payload: channel id
	EventChangeActiveUser    = "CHANGE_ACTIVE_USER"     // payload: username
	EventSendMessagePending  = "SEND_MESSAGE_PENDING"   // payload: SendEvent
	EventSendMessageSuccess  = "SEND_MESSAGE_SUCCESS"   // payload: SendEvent
	EventSendMessageFailure  = "SEND_MESSAGE_FAILURE"   // payload: SendEvent with Error set
	EventAddChannel          = "ADD_CHANNEL"            // payload: ChannelInfo
	EventAddChatUser         = "ADD_CHAT_USER"          // payload: username
	EventAddMessage          = "ADD_MESSAGE"            // payload: chat.Message
	EventAddSystemMessage    = "ADD_SYSTEM_MESSAGE"     // payload: SystemMessage
	EventRemoveChannel       = "REMOVE_CHANNEL"         // payload: channel id
	EventUserJoinedChannel   = "USER_JOINED_CHANNEL"    // payload: ChannelMember
	EventUserLeftChannel     = "USER_LEFT_CHANNEL"      // payload: ChannelMember
	EventFetchPending        = "FETCH_MESSAGES_PENDING" // payload: []string polled usernames
	EventFetchSuccess        = "FETCH_MESSAGES_SUCCESS" // payload: []string polled usernames
	EventFetchFailure        = "FETCH_MESSAGES_FAILURE" // payload: ErrorInfo
)

// Invalid-state conditions: operating on an unknown user or channel, or on
// active-selection state with no user selected. These are programmer errors at
// the boundary and fail loudly.
var (
	ErrUnknownUser    = errors.New("unknown user")
	ErrUnknownChannel = errors.New("unknown channel")
	ErrNoActiveUser   = errors.New("no active user")
)

// ChannelInfo is the ADD_CHANNEL payload: a detached description of the
// channel, never a reference into the collections.
type ChannelInfo struct {
	User string           `json:"user"`
	Name string           `json:"name"`
	ID   int64            `json:"id"`
	Type chat.ChannelType `json:"type"`
}

// ChannelMember identifies a third-party user joining or leaving a channel.
type ChannelMember struct {
	Channel int64  `json:"channel"`
	User    string `json:"user"`
}

// SystemMessage is a locally generated note for one channel, or for all
// channels when Channel is zero.
type SystemMessage struct {
	Text    string `json:"msg"`
	Channel int64  `json:"channel,omitempty"`
	Kind    string `json:"type,omitempty"`
}

// SendEvent accompanies the send-message lifecycle events.
type SendEvent struct {
	Channel int64      `json:"channel"`
	Text    string     `json:"msg"`
	Error   *ErrorInfo `json:"error,omitempty"`
}

// ErrorInfo is the plain error record handed to subscribers.
type ErrorInfo struct {
	Status int    `json:"status,omitempty"`
	Msg    string `json:"msg"`
}

// NewErrorInfo flattens an error into the notification payload shape,
// preserving the remote status code when one is known.
func NewErrorInfo(err error) ErrorInfo {
	var terr *transport.Error
	if errors.As(err, &terr) {
		return ErrorInfo{Status: terr.StatusCode, Msg: terr.Msg}
	}
	return ErrorInfo{Msg: err.Error()}
}

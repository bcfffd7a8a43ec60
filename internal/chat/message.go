package chat

// Message is one chat message as mirrored locally. The ID is assigned by the
// remote service and is unique within a channel. Messages are never mutated
// after creation, so they travel by value.
type Message struct {
	ID      int64  `json:"id"`
	User    string `json:"user"`
	Time    int64  `json:"time"`
	Text    string `json:"msg"`
	Channel int64  `json:"channel"`
}

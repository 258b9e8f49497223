package subscriber

// Subscriber is one live connection's receive side. Push must not
// block; it reports true when the connection is closed so the room can
// drop it inline.
type Subscriber interface {
	Push(childId string, data []byte) (closed bool)
	// UserId identifies the authenticated identity bound to the
	// connection, used for targeted eviction.
	UserId() string
}

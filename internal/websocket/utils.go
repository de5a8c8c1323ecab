package websocket

import (
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait = 10 * time.Second
	readWait  = 5 * time.Minute
)

// WriteTyped sends a response payload over the WebSocket.
func WriteTyped(conn *websocket.Conn, v ResponsePayload) error {
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteJSON(v)
}

// WriteEvent sends a bare event tied to a request.
func WriteEvent(conn *websocket.Conn, event Event, reqID, status string) error {
	return WriteTyped(conn, ResponsePayload{Event: event, ReqID: reqID, Status: status})
}

// WriteError sends an error event tied to a request.
func WriteError(conn *websocket.Conn, reqID, errMsg string) error {
	return WriteTyped(conn, ResponsePayload{
		Event: EventError,
		ReqID: reqID,
		Error: errMsg,
	})
}

// ReadJSON reads and decodes a message into the provided structure.
// It sets a read deadline.
func ReadJSON(conn *websocket.Conn, v any) error {
	conn.SetReadDeadline(time.Now().Add(readWait))
	return conn.ReadJSON(v)
}

// WriteRequest sends a client frame.
func WriteRequest(conn *websocket.Conn, v RequestPayload) error {
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteJSON(v)
}

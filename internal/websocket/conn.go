package websocket

import (
	"github.com/gorilla/websocket"
)

// gorillaConn satisfies Connection with an upgraded socket. The embedded
// connection already has every method except the string RemoteAddr.
type gorillaConn struct {
	*websocket.Conn
}

func (c gorillaConn) RemoteAddr() string {
	if addr := c.Conn.RemoteAddr(); addr != nil {
		return addr.String()
	}
	return ""
}

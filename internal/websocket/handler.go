package websocket

import (
	"github.com/gofiber/websocket/v2"
)

// ServeWs attaches an upgraded connection to its room.
func ServeWs(hub *Hub, c *websocket.Conn, roomID string, clientID int) {
	client := &Client{Hub: hub, Conn: c, RoomID: roomID, ClientID: clientID, Send: make(chan []byte, 256)}
	client.Hub.register <- client

	go client.writePump()
	client.readPump() // runs on the handler goroutine
}

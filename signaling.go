package main

import (
	"net/http"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// StateSocketHandler streams servo state to the client and accepts commands back.
func StateSocketHandler(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		ENV.Logger.Print("upgrade:", err)
		return
	}

	ENV.Conductor.Serve(r.Context(), conn)
}

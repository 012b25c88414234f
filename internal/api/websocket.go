package api

import (
	"log"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// websocket streams the full event firehose (ticks, order lifecycle, node
// health) to the dashboard.
func (s *Server) websocket(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Printf("ws upgrade error: %v", err)
		return
	}
	defer conn.Close()

	if s.Bus == nil {
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"error":"bus not ready"}`))
		return
	}

	stream, unsub := s.Bus.SubscribeAll(256)
	defer unsub()

	for msg := range stream {
		payload := gin.H{"topic": msg.Topic, "data": msg.Payload}
		if err := conn.WriteJSON(payload); err != nil {
			log.Printf("ws write error: %v", err)
			return
		}
	}
}

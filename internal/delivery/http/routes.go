package http

import (
	"net/http"

	wsDelivery "staffchat/internal/delivery/websocket"

	"github.com/go-chi/chi/v5"
)

func MapHttpRoutes(r *chi.Mux, httpHandler *HttpHandler, websocketHandler *wsDelivery.WebsocketHandler, authMiddleware *AuthMiddleware) {
	r.Get("/health", http.HandlerFunc(httpHandler.Health))
	r.Get("/ws", http.HandlerFunc(websocketHandler.HandleWebSocket))

	// Protected routes
	r.Group(func(r chi.Router) {
		r.Use(authMiddleware.Authenticate)

		r.Route("/chat", func(r chi.Router) {
			r.Get("/messages", http.HandlerFunc(httpHandler.GetMessages))
			r.Post("/messages", http.HandlerFunc(httpHandler.SendMessage))
			r.Get("/unread", http.HandlerFunc(httpHandler.GetUnread))
			r.Post("/read", http.HandlerFunc(httpHandler.MarkAsRead))
		})
	})
}

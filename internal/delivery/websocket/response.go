package websocket

type IdentifiedResponse struct {
	UserId       int64  `json:"userId"`
	ConnectionId string `json:"connectionId"`
}

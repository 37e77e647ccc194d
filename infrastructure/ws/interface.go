package ws

import "context"

// Exclusion names connections a fan-out must skip: every connection of
// UserId (when non-zero) and the single connection Connection (when set).
type Exclusion struct {
	UserId     int64  `json:"userId,omitempty"`
	Connection string `json:"connection,omitempty"`
}

func (e Exclusion) skips(c *UserClient) bool {
	if e.Connection != "" && c.Id == e.Connection {
		return true
	}
	return e.UserId != 0 && c.UserId() == e.UserId
}

type IHub interface {
	Run(ctx context.Context)
	RegisterClient(client *UserClient) int
	UnregisterClient(client *UserClient)
	LiveConnectionsFor(userId int64) []*UserClient
	SendToUser(ctx context.Context, userId int64, message []byte, exceptConnection string) (int, error)
	SendToConnection(client *UserClient, message []byte) bool
	Broadcast(ctx context.Context, message []byte, exclude Exclusion) (int, error)
	GetClientCount() int
	OnClientRegister(callback func(client *UserClient, firstConnection bool))
	OnClientUnregister(callback func(client *UserClient, lastConnection bool))
}

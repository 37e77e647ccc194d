package entity

type TokenClaims struct {
	UserId   int64  `json:"userId"`
	Username string `json:"username"`
}

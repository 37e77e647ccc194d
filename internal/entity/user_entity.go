package entity

type User struct {
	Id       int64  `bson:"_id" json:"id" db:"id"`
	Username string `bson:"username" json:"username" db:"username"`
	Name     string `bson:"name" json:"name" db:"name"`
}

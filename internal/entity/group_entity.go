package entity

import "time"

type Group struct {
	Id        int64     `bson:"_id" json:"id"`
	Name      string    `bson:"name" json:"name"`
	MemberIds []int64   `bson:"memberIds" json:"memberIds"`
	CreatedBy int64     `bson:"createdBy" json:"createdBy"`
	CreatedAt time.Time `bson:"createdAt" json:"createdAt"`
}

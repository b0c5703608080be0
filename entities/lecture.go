package entities

import "github.com/google/uuid"

type Lecture struct {
	Id    uuid.UUID `json:"id"`
	Title string    `json:"title"`
}

func (Lecture) TableName() string {
	return "lectures"
}

package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Task is a single to-do item owned by exactly one user. JSON and BSON names
// match so a client-supplied sort field reaches the store unchanged.
type Task struct {
	ID          primitive.ObjectID `json:"_id"         bson:"_id,omitempty"`
	Description string             `json:"description" bson:"description"`
	Completed   bool               `json:"completed"   bson:"completed"`
	Owner       string             `json:"owner"       bson:"owner"`
	CreatedAt   time.Time          `json:"createdAt"   bson:"createdAt"`
	UpdatedAt   time.Time          `json:"updatedAt"   bson:"updatedAt"`
}

// CreateTaskRequest is the JSON body for POST /tasks. Any other key,
// including owner, is ignored.
type CreateTaskRequest struct {
	Description string `json:"description"`
	Completed   bool   `json:"completed"`
}

// TaskUpdate is a partial task change. Nil fields are left untouched.
type TaskUpdate struct {
	Description *string `json:"description"`
	Completed   *bool   `json:"completed"`
}

// Apply copies the present fields onto t.
func (u TaskUpdate) Apply(t *Task) {
	if u.Description != nil {
		t.Description = *u.Description
	}
	if u.Completed != nil {
		t.Completed = *u.Completed
	}
}

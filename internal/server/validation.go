package server

import (
	"sync"

	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
	"github.com/go-playground/validator/v10/non-standard/validators"
)

var registerOnce sync.Once

// registerValidators adds the notblank tag to gin's validator
func registerValidators() {
	registerOnce.Do(func() {
		if v, ok := binding.Validator.Engine().(*validator.Validate); ok {
			_ = v.RegisterValidation("notblank", validators.NotBlank)
		}
	})
}

// CreateTaskRequest is the body of POST /api/tasks
type CreateTaskRequest struct {
	Task   string `json:"task" binding:"required,notblank"`
	UserID string `json:"user_id" binding:"required,notblank"`
}

// validationMessage turns binding errors into a short client message
func validationMessage(err error) string {
	verrs, ok := err.(validator.ValidationErrors)
	if !ok || len(verrs) == 0 {
		return "invalid request body"
	}
	fe := verrs[0]
	field := fe.Field()
	switch field {
	case "Task":
		field = "task"
	case "UserID":
		field = "user_id"
	}
	switch fe.Tag() {
	case "required", "notblank":
		return field + " is required"
	}
	return field + " is invalid"
}

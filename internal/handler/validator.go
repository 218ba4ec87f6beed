package handler

import (
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

// ValidationError turns validator.ValidationErrors into one readable
// message for API responses.
func ValidationError(err error) string {
	if err == nil {
		return ""
	}

	validationErrors, ok := err.(validator.ValidationErrors)
	if !ok {
		return "invalid request"
	}

	var errorMsgs []string
	for _, e := range validationErrors {
		switch e.Tag() {
		case "required":
			errorMsgs = append(errorMsgs, fmt.Sprintf("Field '%s' is required", e.Field()))
		case "email":
			errorMsgs = append(errorMsgs, fmt.Sprintf("Field '%s' must be a valid email address", e.Field()))
		case "max":
			errorMsgs = append(errorMsgs, fmt.Sprintf("Field '%s' must be at most %s characters", e.Field(), e.Param()))
		default:
			errorMsgs = append(errorMsgs, fmt.Sprintf("Field '%s' failed on the '%s' tag", e.Field(), e.Tag()))
		}
	}

	return strings.Join(errorMsgs, ", ")
}

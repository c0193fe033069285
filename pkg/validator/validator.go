package validator

import (
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

// FormatValidationError flattens gin binding errors into one
// human-readable message.
func FormatValidationError(err error) string {
	if validationErrors, ok := err.(validator.ValidationErrors); ok {
		var messages []string
		for _, fieldError := range validationErrors {
			messages = append(messages, getFieldErrorMessage(fieldError))
		}
		return strings.Join(messages, "; ")
	}
	return err.Error()
}

func getFieldErrorMessage(fe validator.FieldError) string {
	field := getFieldName(fe.Field())

	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", field)
	case "uuid":
		return fmt.Sprintf("%s must be a valid uuid", field)
	case "min":
		return fmt.Sprintf("%s must be at least %s", field, fe.Param())
	case "max":
		return fmt.Sprintf("%s must be at most %s", field, fe.Param())
	default:
		return fmt.Sprintf("%s is invalid", field)
	}
}

func getFieldName(field string) string {
	fieldNames := map[string]string{
		"Type":      "event type",
		"ProjectID": "project_id",
		"ActorID":   "actor_id",
		"TaskID":    "task_id",
		"Category":  "category",
	}

	if name, ok := fieldNames[field]; ok {
		return name
	}
	return field
}

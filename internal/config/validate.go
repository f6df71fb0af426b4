package config

import (
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"

	"meeting-summarizer/internal/domain"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// ValidateSettings checks user settings before they are persisted or used.
func ValidateSettings(settings domain.Settings) error {
	err := validate.Struct(settings)
	if err == nil {
		return nil
	}

	verrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return fmt.Errorf("validate settings: %w", err)
	}

	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fmt.Sprintf("%s failed %q", fe.Namespace(), fe.Tag()))
	}
	return fmt.Errorf("invalid settings: %s", strings.Join(msgs, "; "))
}

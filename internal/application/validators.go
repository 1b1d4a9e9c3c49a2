package application

import (
	"slices"

	"github.com/go-playground/validator/v10"

	"github.com/Ridwanabdusalam/cleanlab/infrastructure/llm"
	"github.com/Ridwanabdusalam/cleanlab/infrastructure/scoring"
)

// registerConfigValidators adds the custom tags used by Config:
//
//	provider  the value names a registered model provider
//	template  the value parses as a reflection prompt template
func registerConfigValidators(v *validator.Validate) error {
	if err := v.RegisterValidation("provider", validateProvider); err != nil {
		return err
	}
	return v.RegisterValidation("template", validateTemplate)
}

func validateProvider(fl validator.FieldLevel) bool {
	return slices.Contains(llm.Providers(), fl.Field().String())
}

func validateTemplate(fl validator.FieldLevel) bool {
	_, err := scoring.ParseTemplate(fl.Field().String())
	return err == nil
}

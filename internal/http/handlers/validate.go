package handlers

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"

	"carstudio/internal/domain"
)

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	_ = v.RegisterValidation("processing_mode", func(fl validator.FieldLevel) bool {
		_, err := domain.ParseMode(fl.Field().String())
		return err == nil
	})
	_ = v.RegisterValidation("floor_effect", func(fl validator.FieldLevel) bool {
		value := domain.FloorEffect(strings.ToLower(strings.TrimSpace(fl.Field().String())))
		for _, f := range domain.ValidFloorEffects {
			if f == value {
				return true
			}
		}
		return false
	})
	_ = v.RegisterValidation("tint_color", func(fl validator.FieldLevel) bool {
		value := domain.TintColor(strings.ToLower(strings.TrimSpace(fl.Field().String())))
		for _, c := range domain.ValidTintColors {
			if c == value {
				return true
			}
		}
		return false
	})
	return v
}

// formatValidationErrors renders validator errors as "field: rule" pairs.
func formatValidationErrors(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	parts := make([]string, 0, len(verrs))
	for _, e := range verrs {
		parts = append(parts, fmt.Sprintf("%s: %s", strings.ToLower(e.Field()), e.Tag()))
	}
	sort.Strings(parts)
	return "invalid fields: " + strings.Join(parts, ", ")
}

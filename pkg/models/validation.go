package models

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"

	"github.com/ekaya-inc/catalog-mirror/pkg/apperrors"
)

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

func recordValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
	})
	return validate
}

// validateRecord runs struct-tag validation and folds failures into a single
// error wrapping apperrors.ErrInvalidRecord.
func validateRecord(record any) error {
	err := recordValidator().Struct(record)
	if err == nil {
		return nil
	}

	var validationErrs validator.ValidationErrors
	if !errors.As(err, &validationErrs) {
		return fmt.Errorf("%w: %v", apperrors.ErrInvalidRecord, err)
	}

	msgs := make([]string, 0, len(validationErrs))
	for _, fe := range validationErrs {
		msgs = append(msgs, fmt.Sprintf("%s failed %q", fe.Field(), fe.Tag()))
	}
	return fmt.Errorf("%w: %s", apperrors.ErrInvalidRecord, strings.Join(msgs, ", "))
}

// README: Input validation for conversation steps.
package conversation

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"

	"go.uber.org/zap"

	"drillflow/internal/modules/order"
	"drillflow/internal/modules/user"
	"drillflow/internal/types"
)

const (
	minNameLen        = 2
	minAddressLen     = 10
	minDescriptionLen = 5
)

var phonePattern = regexp.MustCompile(`^\+7\d{10}$`)

// ValidationError rejects one step's input; the session stays on that step.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// Is lets callers treat conversational rejects like any other validation failure.
func (e *ValidationError) Is(target error) bool {
	return target == order.ErrValidation
}

func invalid(field, msg string) *ValidationError {
	return &ValidationError{Field: field, Message: msg}
}

// ServiceClassifier maps free text onto a catalogue entry. It returns ""
// when the text matches nothing.
type ServiceClassifier interface {
	Classify(ctx context.Context, userID types.ID, text string) (string, error)
}

type validator struct {
	maxRadiusKm int
	classifier  ServiceClassifier
	logger      *zap.Logger
}

// check validates input for field and returns its normalised form. editField
// is the target of the field-edit flow.
func (v validator) check(ctx context.Context, userID types.ID, field, editField, input string) (string, *ValidationError) {
	input = strings.TrimSpace(input)
	switch field {
	case FieldName:
		return v.name(input)
	case FieldPhone:
		return v.phone(input)
	case FieldSpecialization:
		return v.specialization(input)
	case FieldRadius:
		return v.radius(input)
	case FieldService:
		return v.service(ctx, userID, input)
	case FieldAddress:
		if utf8.RuneCountInString(input) < minAddressLen {
			return "", invalid(FieldAddress, fmt.Sprintf("адрес должен содержать не менее %d символов", minAddressLen))
		}
		return input, nil
	case FieldDescription:
		if utf8.RuneCountInString(input) < minDescriptionLen {
			return "", invalid(FieldDescription, fmt.Sprintf("описание должно содержать не менее %d символов", minDescriptionLen))
		}
		return input, nil
	case FieldRating:
		n, err := strconv.Atoi(input)
		if err != nil || n < order.MinScore || n > order.MaxScore {
			return "", invalid(FieldRating, "оценка должна быть числом от 1 до 5")
		}
		return strconv.Itoa(n), nil
	case FieldValue:
		return v.editValue(ctx, userID, editField, input)
	}
	return "", invalid(field, "неизвестное поле")
}

func (v validator) editValue(ctx context.Context, userID types.ID, target, input string) (string, *ValidationError) {
	switch target {
	case user.FieldName:
		return v.name(input)
	case user.FieldPhone:
		return v.phone(input)
	case user.FieldRadius:
		return v.radius(input)
	case user.FieldSpecialization:
		return v.specialization(input)
	}
	return "", invalid(FieldValue, fmt.Sprintf("поле %q нельзя изменить", target))
}

func (v validator) name(input string) (string, *ValidationError) {
	if utf8.RuneCountInString(input) < minNameLen {
		return "", invalid(FieldName, "имя слишком короткое")
	}
	return input, nil
}

func (v validator) phone(input string) (string, *ValidationError) {
	compact := strings.NewReplacer(" ", "", "-", "", "(", "", ")", "").Replace(input)
	if !phonePattern.MatchString(compact) {
		return "", invalid(FieldPhone, "номер должен быть в формате +7XXXXXXXXXX")
	}
	return compact, nil
}

func (v validator) radius(input string) (string, *ValidationError) {
	n, err := strconv.Atoi(input)
	if err != nil || n < 1 || n > v.maxRadiusKm {
		return "", invalid(FieldRadius, fmt.Sprintf("радиус должен быть целым числом от 1 до %d", v.maxRadiusKm))
	}
	return strconv.Itoa(n), nil
}

// specialization accepts a comma separated list of catalogue entries.
func (v validator) specialization(input string) (string, *ValidationError) {
	specs, err := user.ParseSpecializations(input)
	if err != nil {
		return "", invalid(FieldSpecialization, "выберите услуги из списка: "+strings.Join(user.ServiceCatalogue, ", "))
	}
	return strings.Join(specs, ","), nil
}

func (v validator) service(ctx context.Context, userID types.ID, input string) (string, *ValidationError) {
	if entry, ok := user.CatalogueEntry(input); ok {
		return entry, nil
	}
	if v.classifier != nil && input != "" {
		entry, err := v.classifier.Classify(ctx, userID, input)
		if err != nil {
			v.logger.Warn("service classification failed", zap.String("user_id", string(userID)), zap.Error(err))
		} else if canonical, ok := user.CatalogueEntry(entry); ok {
			return canonical, nil
		}
	}
	return "", invalid(FieldService, "выберите услугу из списка: "+strings.Join(user.ServiceCatalogue, ", "))
}

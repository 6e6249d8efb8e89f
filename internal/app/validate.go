package app

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/go-playground/validator/v10/non-standard/validators"

	"handyhub/internal/domain"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	_ = v.RegisterValidation("notblank", validators.NotBlank)
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "" || name == "-" {
			return f.Name
		}
		return name
	})
	return v
}

type createEngagementCmd struct {
	ClientID    string `json:"clientId" validate:"required"`
	ProviderID  string `json:"providerId" validate:"required,nefield=ClientID"`
	DetailsText string `json:"detailsText" validate:"notblank,max=10000"`
}

type appendMessageCmd struct {
	SenderID string `json:"senderId" validate:"required"`
	Text     string `json:"text" validate:"notblank,max=4000"`
}

type submitReviewCmd struct {
	Rating  int    `json:"rating" validate:"gte=1,lte=5"`
	Comment string `json:"comment" validate:"notblank,max=4000"`
}

// check runs struct validation and converts failures to a ValidationError.
func check(cmd any) error {
	err := validate.Struct(cmd)
	if err == nil {
		return nil
	}
	var ves validator.ValidationErrors
	if !errors.As(err, &ves) {
		return domain.Invalid("%v", err)
	}
	msgs := make([]string, 0, len(ves))
	for _, fe := range ves {
		msgs = append(msgs, fmt.Sprintf("%s %s", fe.Field(), msgForTag(fe)))
	}
	return domain.Invalid("%s", strings.Join(msgs, "; "))
}

func msgForTag(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required", "notblank":
		return "must not be empty"
	case "max":
		return fmt.Sprintf("must be at most %s characters", fe.Param())
	case "gte":
		return fmt.Sprintf("must be at least %s", fe.Param())
	case "lte":
		return fmt.Sprintf("must be at most %s", fe.Param())
	case "nefield":
		return "must differ from " + lowerFirst(strings.TrimSuffix(fe.Param(), "ID")+"Id")
	default:
		return fmt.Sprintf("failed on '%s'", fe.Tag())
	}
}

func lowerFirst(s string) string {
	if s == "" {
		return s
	}
	return strings.ToLower(s[:1]) + s[1:]
}

package checkout

import (
	"reflect"
	"regexp"
	"strings"

	"github.com/go-faster/errors"
	"github.com/go-playground/validator/v10"

	"github.com/xenking/giftshop/internal/domain/profile"
)

// Form is the contact and delivery data entered during checkout.
type Form struct {
	FullName   string `json:"full_name" validate:"required,max=200"`
	Email      string `json:"email" validate:"required,email,max=254"`
	Phone      string `json:"phone" validate:"required"`
	Street     string `json:"street" validate:"required,max=200"`
	City       string `json:"city" validate:"required,max=100"`
	PostalCode string `json:"postal_code" validate:"required,len=4,number"`
	Country    string `json:"country" validate:"required,oneof=SI AT HU"`
}

// Address returns the delivery address part of the form.
func (f Form) Address() profile.Address {
	return profile.Address{
		Street:     f.Street,
		City:       f.City,
		PostalCode: f.PostalCode,
		Country:    f.Country,
	}
}

func (f Form) normalized() Form {
	f.FullName = strings.TrimSpace(f.FullName)
	f.Email = strings.ToLower(strings.TrimSpace(f.Email))
	f.Phone = strings.Join(strings.Fields(f.Phone), "")
	f.Street = strings.TrimSpace(f.Street)
	f.City = strings.TrimSpace(f.City)
	f.PostalCode = strings.TrimSpace(f.PostalCode)
	f.Country = strings.ToUpper(strings.TrimSpace(f.Country))
	return f
}

// FieldErrors maps a form field to a reason code.
type FieldErrors map[string]string

// Field reason codes.
const (
	ReasonRequired          = "required"
	ReasonInvalidEmail      = "invalid_email"
	ReasonInvalidPhone      = "invalid_phone"
	ReasonInvalidPostalCode = "invalid_postal_code"
	ReasonUnsupported       = "unsupported_country"
	ReasonTooLong           = "too_long"
	ReasonInvalid           = "invalid"
)

// phonePatterns holds the accepted phone shapes per country, in international
// or national notation.
var phonePatterns = map[string]*regexp.Regexp{
	"SI": regexp.MustCompile(`^(\+386|00386|0)[1-9][0-9]{7}$`),
	"AT": regexp.MustCompile(`^(\+43|0043|0)[1-9][0-9]{3,12}$`),
	"HU": regexp.MustCompile(`^(\+36|0036|06)[1-9][0-9]{7,8}$`),
}

var formValidator = newFormValidator()

func newFormValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		tag, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if tag == "" {
			return f.Name
		}
		return tag
	})
	v.RegisterStructValidation(func(sl validator.StructLevel) {
		f := sl.Current().Interface().(Form)
		re, ok := phonePatterns[f.Country]
		// An unsupported country is reported on country alone.
		if f.Phone == "" || !ok {
			return
		}
		if !re.MatchString(f.Phone) {
			sl.ReportError(f.Phone, "phone", "Phone", "phone", f.Country)
		}
	}, Form{})
	return v
}

// ValidateForm normalizes f and validates every field. A nil FieldErrors
// means the form is complete.
func ValidateForm(f Form) (Form, FieldErrors) {
	f = f.normalized()

	err := formValidator.Struct(f)
	if err == nil {
		return f, nil
	}
	var errs validator.ValidationErrors
	if !errors.As(err, &errs) {
		return f, FieldErrors{"form": ReasonInvalid}
	}

	out := make(FieldErrors, len(errs))
	for _, fe := range errs {
		if _, seen := out[fe.Field()]; seen {
			continue
		}
		out[fe.Field()] = reasonFor(fe)
	}
	return f, out
}

func reasonFor(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return ReasonRequired
	case "email":
		return ReasonInvalidEmail
	case "phone":
		return ReasonInvalidPhone
	case "len", "number":
		if fe.Field() == "postal_code" {
			return ReasonInvalidPostalCode
		}
	case "oneof":
		return ReasonUnsupported
	case "max":
		return ReasonTooLong
	}
	return ReasonInvalid
}

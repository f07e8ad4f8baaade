package sensor

import (
	"errors"
	"reflect"
	"regexp"
	"strings"
	"sync"

	"github.com/go-playground/locales/en"
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	en_translations "github.com/go-playground/validator/v10/translations/en"

	"github.com/henriblancke/dagster/internal/ir"
)

// sensorNamePattern restricts sensor names to identifier characters so they
// are safe as store keys, Redis key suffixes and URL path segments.
var sensorNamePattern = regexp.MustCompile(`^[A-Za-z0-9_][A-Za-z0-9_.-]*$`)

var (
	validateOnce sync.Once
	validate     *validator.Validate
	translator   ut.Translator
)

// definitionValidator returns the shared validator, building it on first use.
func definitionValidator() (*validator.Validate, ut.Translator) {
	validateOnce.Do(func() {
		enLoc := en.New()
		uni := ut.New(enLoc, enLoc)
		trans, _ := uni.GetTranslator("en")

		v := validator.New(validator.WithRequiredStructEnabled())

		// Report json names so messages match config keys.
		v.RegisterTagNameFunc(func(fld reflect.StructField) string {
			tag := fld.Tag.Get("json")
			if tag == "-" || tag == "" {
				return fld.Name
			}
			if idx := strings.Index(tag, ","); idx >= 0 {
				tag = tag[:idx]
			}
			return tag
		})
		_ = en_translations.RegisterDefaultTranslations(v, trans)

		_ = v.RegisterValidation("sensor_name", func(fl validator.FieldLevel) bool {
			return sensorNamePattern.MatchString(fl.Field().String())
		})
		registerMessage(v, trans, "sensor_name", "{0} may only contain letters, digits, '_', '.' and '-'")

		_ = v.RegisterValidation("run_status", func(fl validator.FieldLevel) bool {
			_, err := ir.EventTypeForStatus(ir.RunStatus(fl.Field().String()))
			return err == nil
		})
		registerMessage(v, trans, "run_status", "{0} must be a run status with a lifecycle event")

		validate = v
		translator = trans
	})
	return validate, translator
}

func registerMessage(v *validator.Validate, trans ut.Translator, tag, text string) {
	_ = v.RegisterTranslation(tag, trans,
		func(ut ut.Translator) error {
			return ut.Add(tag, text, true)
		},
		func(ut ut.Translator, fe validator.FieldError) string {
			msg, _ := ut.T(tag, fe.Field())
			return msg
		},
	)
}

// validateDefinition runs struct-tag validation over d and converts the first
// failure into an *InvalidDefinitionError.
func validateDefinition(d *Definition) error {
	v, trans := definitionValidator()
	err := v.Struct(d)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		return newDefinitionError(d.Name, fe.Field(), fe.Translate(trans), nil)
	}
	return newDefinitionError(d.Name, "", "validation failed", err)
}

package validator

import (
	"errors"
	"reflect"
	"strings"
	"sync"

	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/locales/en"
	ut "github.com/go-playground/universal-translator"
	govalidator "github.com/go-playground/validator/v10"
	en_translations "github.com/go-playground/validator/v10/translations/en"
)

var (
	setupOnce sync.Once
	trans     ut.Translator
)

// Setup registers JSON field names and English translations on Gin's
// binding engine. It is safe to call more than once; Struct and Bind call it
// themselves.
func Setup() {
	setupOnce.Do(register)
}

func register() {
	v, ok := binding.Validator.Engine().(*govalidator.Validate)
	if !ok {
		return
	}
	v.RegisterTagNameFunc(jsonFieldName)

	enLocale := en.New()
	trans, _ = ut.New(enLocale, enLocale).GetTranslator("en")
	_ = en_translations.RegisterDefaultTranslations(v, trans)
}

// jsonFieldName reports fields the way clients see them (q_id, req_id).
func jsonFieldName(fld reflect.StructField) string {
	name, _, _ := strings.Cut(fld.Tag.Get("json"), ",")
	if name == "-" {
		return ""
	}
	return name
}

// TranslateErrors maps field name to message. Errors that are not
// validation errors (bad JSON) land under "detail".
func TranslateErrors(err error) map[string]string {
	var ve govalidator.ValidationErrors
	if !errors.As(err, &ve) {
		return map[string]string{"detail": err.Error()}
	}
	fields := make(map[string]string, len(ve))
	for _, fe := range ve {
		fields[fe.Field()] = fe.Translate(trans)
	}
	return fields
}

// Struct validates an already-decoded value (a WebSocket frame, say) with the
// same engine and translations as request binding.
func Struct(v any) map[string]string {
	Setup()
	if err := binding.Validator.ValidateStruct(v); err != nil {
		return TranslateErrors(err)
	}
	return nil
}

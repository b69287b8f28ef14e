package dto

import (
	"html"
	"net/url"
	"reflect"
	"regexp"
	"strings"

	"rfid-wallet-ledger/internal/core/domain"

	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
)

var (
	// Reader firmware prints UIDs as bare hex or colon/dash separated bytes;
	// issued test cards use labels like CARD-001.
	cardUIDRe = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9:_.\-]{2,63}$`)
	phoneRe   = regexp.MustCompile(`^[0-9]{7,15}$`)
)

func init() {
	if v, ok := binding.Validator.Engine().(*validator.Validate); ok {
		RegisterValidators(v)
	}
}

// RegisterValidators adds card_uid, webhook_url, pin and phone.
func RegisterValidators(v *validator.Validate) {
	_ = v.RegisterValidation("card_uid", func(fl validator.FieldLevel) bool {
		return cardUIDRe.MatchString(fl.Field().String())
	})
	_ = v.RegisterValidation("webhook_url", validateWebhookURL)
	_ = v.RegisterValidation("pin", func(fl validator.FieldLevel) bool {
		return domain.ValidatePinFormat(fl.Field().String())
	})
	_ = v.RegisterValidation("phone", func(fl validator.FieldLevel) bool {
		return phoneRe.MatchString(domain.NormalizePhone(fl.Field().String()))
	})
}

// validateWebhookURL accepts an absolute http(s) URL without embedded
// credentials or fragment. Empty passes so the field can be cleared.
func validateWebhookURL(fl validator.FieldLevel) bool {
	raw := fl.Field().String()
	if raw == "" {
		return true
	}
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" || u.User != nil || u.Fragment != "" {
		return false
	}
	return u.Scheme == "http" || u.Scheme == "https"
}

// SanitizeStruct trims whitespace and HTML-escapes every exported string
// field (including *string) of a struct pointer.
func SanitizeStruct(v any) {
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Ptr || rv.Elem().Kind() != reflect.Struct {
		return
	}
	sanitizeFields(rv.Elem())
}

func sanitizeFields(rv reflect.Value) {
	for i := 0; i < rv.NumField(); i++ {
		f := rv.Field(i)
		if !f.CanSet() {
			continue
		}
		switch f.Kind() {
		case reflect.String:
			f.SetString(sanitize(f.String()))
		case reflect.Ptr:
			if f.IsNil() {
				continue
			}
			elem := f.Elem()
			if elem.Kind() == reflect.String {
				elem.SetString(sanitize(elem.String()))
			}
		}
	}
}

func sanitize(s string) string {
	return html.EscapeString(strings.TrimSpace(s))
}

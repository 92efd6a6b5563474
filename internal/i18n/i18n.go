// Package i18n holds the Persian texts shown to riders next to every
// error code, and the Persian translations of validator rule failures.
package i18n

import (
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/go-playground/locales/fa"
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	fatranslations "github.com/go-playground/validator/v10/translations/fa"
)

// messages maps an error code to its text.  {0} is filled by Message.
var messages = map[string]string{
	"invalid_body":        "درخواست ارسال‌شده قابل خواندن نیست",
	"validation_failed":   "اطلاعات واردشده معتبر نیست",
	"trip_not_running":    "این سفر در تاریخ انتخاب‌شده حرکت ندارد",
	"not_found":           "مورد درخواستی پیدا نشد",
	"seats_taken":         "صندلی‌های {0} قبلاً رزرو شده‌اند؛ صندلی دیگری انتخاب کنید",
	"limit_exceeded":      "برای این سفر فقط {0} صندلی دیگر می‌توانید رزرو کنید",
	"limit_reached":       "سقف صندلی‌های مجاز شما برای این سفر پر شده است",
	"conflict":            "وضعیت بلیت اجازه این کار را نمی‌دهد",
	"forbidden":           "اجازه انجام این کار را ندارید",
	"unauthorized":        "لطفاً ابتدا وارد حساب خود شوید",
	"invalid_credentials": "ایمیل یا رمز عبور نادرست است",
	"email_exists":        "این ایمیل قبلاً ثبت شده است",
	"too_many_requests":   "تعداد درخواست‌ها زیاد است؛ کمی بعد دوباره تلاش کنید",
	"internal":            "خطایی در سرور رخ داد؛ دوباره تلاش کنید",
}

func newTranslator() ut.Translator {
	locale := fa.New()
	trans, _ := ut.New(locale, locale).GetTranslator(locale.Locale())
	return trans
}

var translator = sync.OnceValue(func() ut.Translator {
	trans := newTranslator()
	for code, text := range messages {
		if err := trans.Add(code, text, false); err != nil {
			panic(fmt.Sprintf("i18n: %s: %v", code, err))
		}
	}
	return trans
})

// Message returns the text for code, or the internal error text for an
// unknown code.
func Message(code string, params ...string) string {
	if s, err := translator().T(code, params...); err == nil {
		return s
	}
	s, _ := translator().T("internal")
	return s
}

// SeatsTaken names the seats that are no longer free.
func SeatsTaken(seats []string) string {
	return Message("seats_taken", strings.Join(seats, "، "))
}

// LimitExceeded tells a rider how many more seats they may book.
func LimitExceeded(remaining int) string {
	if remaining <= 0 {
		return Message("limit_reached")
	}
	return Message("limit_exceeded", persianNumber(remaining))
}

// ValidationTranslator installs the Persian rule messages on v and returns
// the translator that FieldError.Translate needs.  Each validator gets its
// own translator since a rule text can be added only once.
func ValidationTranslator(v *validator.Validate) (ut.Translator, error) {
	trans := newTranslator()
	if err := fatranslations.RegisterDefaultTranslations(v, trans); err != nil {
		return nil, err
	}
	return trans, nil
}

func persianNumber(n int) string {
	var b strings.Builder
	for _, r := range strconv.Itoa(n) {
		if r >= '0' && r <= '9' {
			r = '۰' + (r - '0')
		}
		b.WriteRune(r)
	}
	return b.String()
}

package i18n

import (
	"strings"
	"sync/atomic"
)

var locale atomic.Value

func init() {
	locale.Store("en")
}

// SetLocale selects the catalogue used by Translate. Only "fa" has one;
// any other value leaves messages untouched.
func SetLocale(l string) {
	l = strings.ToLower(strings.TrimSpace(l))
	if l == "" {
		l = "en"
	}
	locale.Store(l)
}

func Locale() string {
	return locale.Load().(string)
}

var translations = map[string]string{
	"invalid request":                          "درخواست نامعتبر است",
	"invalid payload":                          "داده ارسالی نامعتبر است",
	"unknown event":                            "رویداد ناشناخته است",
	"failed to generate token":                 "خطا در تولید توکن",
	"missing authorization token":              "توکن احراز هویت ارسال نشده است",
	"invalid token":                            "توکن نامعتبر است",
	"failed to validate user":                  "خطا در اعتبارسنجی کاربر",
	"user not found":                           "کاربر یافت نشد",
	"unauthorized":                             "دسترسی غیرمجاز",
	"forbidden":                                "دسترسی غیرمجاز",
	"not found":                                "یافت نشد",
	"conversation not found":                   "مکالمه یافت نشد",
	"group not found":                          "گروه یافت نشد",
	"failed to fetch messages":                 "خطا در دریافت پیام ها",
	"failed to fetch conversations":            "خطا در دریافت مکالمه ها",
	"failed to fetch groups":                   "خطا در دریافت گروه ها",
	"failed to fetch users":                    "خطا در دریافت کاربران",
	"failed to create message":                 "خطا در ایجاد پیام",
	"failed to create conversation":            "خطا در ایجاد مکالمه",
	"failed to create group":                   "خطا در ایجاد گروه",
	"recipient_id or group_id required":        "شناسه گیرنده یا گروه الزامی است",
	"message text or attachments required":     "متن پیام یا پیوست الزامی است",
	"cannot create conversation with yourself": "نمی توانید با خودتان مکالمه ایجاد کنید",
	"user is already a member":                 "کاربر قبلا عضو گروه است",
	"only the admin can add members":           "فقط مدیر گروه می تواند عضو اضافه کند",
	"websocket upgrade failed":                 "خطا در برقراری اتصال وب سوکت",
	"rate limiter error":                       "خطا در محدودسازی درخواست ها",
	"rate limit exceeded":                      "تعداد درخواست ها بیش از حد مجاز است",
	"internal server error":                    "خطای داخلی سرور",
	"email already registered":                 "این ایمیل قبلا ثبت شده است",
	"invalid email or password":                "ایمیل یا رمز عبور اشتباه است",
	"password must be at least 6 characters":   "رمز عبور باید حداقل ۶ کاراکتر باشد",
	"name must be between 1 and 64 characters": "نام باید بین ۱ تا ۶۴ کاراکتر باشد",
	"invalid email address":                    "آدرس ایمیل نامعتبر است",
	"message is required":                      "متن پیام الزامی است",
	"call signal is invalid":                   "سیگنال تماس نامعتبر است",
}

var prefixTranslations = map[string]string{
	"authentication failed:": "احراز هویت ناموفق بود",
	"invalid input:":         "ورودی نامعتبر است",
	"not found:":             "یافت نشد",
	"forbidden:":             "دسترسی غیرمجاز",
	"validation failed:":     "داده ارسالی نامعتبر است",
	"invalid call signal:":   "سیگنال تماس نامعتبر است",
	"failed to":              "خطای داخلی سرور",
}

// Translate returns the Persian form of message when the "fa" locale is
// active. Unknown messages are returned unchanged.
func Translate(message string) string {
	if Locale() != "fa" {
		return message
	}
	if translated, ok := translations[message]; ok {
		return translated
	}
	for prefix, translated := range prefixTranslations {
		if strings.HasPrefix(message, prefix) {
			return translated
		}
	}
	return message
}

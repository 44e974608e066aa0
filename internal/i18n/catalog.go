// Package i18n holds the Arabic/English strings used for auth notifications.
package i18n

import (
	"golang.org/x/text/language"

	domainauth "github.com/darstays/stayportal/internal/domain/auth"
)

// Message keys.
const (
	KeySignInSuccess  = "auth.sign_in.success"
	KeySignUpSuccess  = "auth.sign_up.success"
	KeySignOutSuccess = "auth.sign_out.success"
	KeySignOutFailed  = "auth.sign_out.failed"
	KeyRoleRefreshed  = "auth.role.refreshed"
)

// ErrorKey returns the message key for an auth error kind.
func ErrorKey(kind domainauth.ErrorKind) string {
	return "auth.error." + string(kind)
}

//nolint:gochecknoglobals // static read-only tables
var (
	supported = []language.Tag{language.Arabic, language.English}
	matcher   = language.NewMatcher(supported)

	tables = map[language.Tag]map[string]string{
		language.English: {
			KeySignInSuccess:  "Signed in successfully",
			KeySignUpSuccess:  "Account created. Check your email to confirm it.",
			KeySignOutSuccess: "Signed out",
			KeySignOutFailed:  "Signed out on this device; the server could not be reached",
			KeyRoleRefreshed:  "Permissions updated",

			ErrorKey(domainauth.ErrInvalidCredentials): "Invalid email or password",
			ErrorKey(domainauth.ErrUnconfirmedEmail):   "Please confirm your email before signing in",
			ErrorKey(domainauth.ErrAlreadyRegistered):  "This email is already registered",
			ErrorKey(domainauth.ErrWeakSecret):         "Password must be at least 6 characters",
			ErrorKey(domainauth.ErrRateLimited):        "Too many attempts. Please try again later",
			ErrorKey(domainauth.ErrNetworkFailure):     "Connection error. Check your internet connection",
		},
		language.Arabic: {
			KeySignInSuccess:  "تم تسجيل الدخول بنجاح",
			KeySignUpSuccess:  "تم إنشاء الحساب. يرجى تأكيد بريدك الإلكتروني",
			KeySignOutSuccess: "تم تسجيل الخروج",
			KeySignOutFailed:  "تم تسجيل الخروج من هذا الجهاز؛ تعذر الوصول إلى الخادم",
			KeyRoleRefreshed:  "تم تحديث الصلاحيات",

			ErrorKey(domainauth.ErrInvalidCredentials): "البريد الإلكتروني أو كلمة المرور غير صحيحة",
			ErrorKey(domainauth.ErrUnconfirmedEmail):   "يرجى تأكيد بريدك الإلكتروني قبل تسجيل الدخول",
			ErrorKey(domainauth.ErrAlreadyRegistered):  "هذا البريد الإلكتروني مسجل مسبقاً",
			ErrorKey(domainauth.ErrWeakSecret):         "يجب أن تتكون كلمة المرور من 6 أحرف على الأقل",
			ErrorKey(domainauth.ErrRateLimited):        "محاولات كثيرة. يرجى المحاولة لاحقاً",
			ErrorKey(domainauth.ErrNetworkFailure):     "خطأ في الاتصال. تحقق من اتصالك بالإنترنت",
		},
	}
)

// Catalog resolves message keys for one language.
type Catalog struct {
	tag language.Tag
}

// New returns a catalog for the best supported match of lang (a BCP 47 tag or an
// Accept-Language header value). Unparseable input falls back to fallback.
func New(lang, fallback string) Catalog {
	for _, candidate := range []string{lang, fallback} {
		if candidate == "" {
			continue
		}
		tags, _, err := language.ParseAcceptLanguage(candidate)
		if err != nil || len(tags) == 0 {
			continue
		}
		_, idx, conf := matcher.Match(tags...)
		if conf != language.No {
			return Catalog{tag: supported[idx]}
		}
	}
	return Catalog{tag: language.Arabic}
}

// Lang returns the catalog's base language code ("ar" or "en").
func (c Catalog) Lang() string {
	base, _ := c.tag.Base()
	return base.String()
}

// Dir returns the text direction for the catalog's language.
func (c Catalog) Dir() string {
	if c.tag == language.Arabic {
		return "rtl"
	}
	return "ltr"
}

// Text returns the localized string for key, or key itself when missing.
func (c Catalog) Text(key string) string {
	if s, ok := tables[c.tag][key]; ok {
		return s
	}
	return key
}

// Error localizes an auth error. Kinds without a mapping (Unknown) return the backend
// message verbatim.
func (c Catalog) Error(ae *domainauth.AuthError) string {
	if ae == nil {
		return ""
	}
	if s, ok := tables[c.tag][ErrorKey(ae.Kind)]; ok {
		return s
	}
	return ae.Message
}

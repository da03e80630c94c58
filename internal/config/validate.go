package config

import (
	"errors"
	"fmt"
	"strings"

	goldap "github.com/go-ldap/ldap/v3"
	"github.com/go-playground/validator/v10"

	"github.com/isometry/ldapfence/internal/ldap"
)

// Validate checks struct tag constraints and the cross-field rules that
// depend on which features are enabled.
func Validate(cfg *Config) error {
	v := validator.New(validator.WithRequiredStructEnabled())
	if err := v.RegisterValidation("dn", isDN); err != nil {
		return err
	}
	v.RegisterStructValidation(validateConfig, Config{})
	v.RegisterStructValidation(validateLDAP, LDAPConfig{})

	err := v.Struct(cfg)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}

	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, describe(fe))
	}
	return fmt.Errorf("%s: %w", strings.Join(msgs, "; "), err)
}

// isDN reports whether the field parses as a distinguished name.
func isDN(fl validator.FieldLevel) bool {
	_, err := goldap.ParseDN(fl.Field().String())
	return err == nil
}

func validateConfig(sl validator.StructLevel) {
	cfg := sl.Current().Interface().(Config)
	if !cfg.Enabled {
		return
	}
	if strings.TrimSpace(cfg.Root.Username) == "" {
		sl.ReportError(cfg.Root.Username, "Root.Username", "username", "required_when_enabled", "")
	}
	if strings.TrimSpace(cfg.Root.Password) == "" {
		sl.ReportError(cfg.Root.Password, "Root.Password", "password", "required_when_enabled", "")
	}
}

func validateLDAP(sl validator.StructLevel) {
	cfg := sl.Current().Interface().(LDAPConfig)
	if !cfg.Enabled {
		return
	}

	required := []struct {
		value string
		field string
	}{
		{cfg.Host, "Host"},
		{cfg.User.Base, "User.Base"},
		{cfg.User.Filter, "User.Filter"},
	}
	if len(cfg.Group.CN) > 0 {
		required = append(required,
			struct{ value, field string }{cfg.Group.Base, "Group.Base"},
			struct{ value, field string }{cfg.Group.Filter, "Group.Filter"},
		)
	}
	for _, r := range required {
		if strings.TrimSpace(r.value) == "" {
			sl.ReportError(r.value, r.field, r.field, "required_when_ldap_enabled", "")
		}
	}

	if cfg.User.Filter != "" && !strings.Contains(cfg.User.Filter, ldap.TokenUsername) {
		sl.ReportError(cfg.User.Filter, "User.Filter", "User.Filter", "contains_username_token", "")
	}
	if len(cfg.Group.CN) > 0 && cfg.Group.Filter != "" && !strings.Contains(cfg.Group.Filter, ldap.TokenMemberDN) {
		sl.ReportError(cfg.Group.Filter, "Group.Filter", "Group.Filter", "contains_member_dn_token", "")
	}

	if cfg.Bind.Method == string(ldap.BindMethodKerberos) && cfg.Kerberos.Realm == "" {
		sl.ReportError(cfg.Kerberos.Realm, "Kerberos.Realm", "Kerberos.Realm", "required_for_kerberos", "")
	}
}

// describe turns a validation failure into a config-key oriented message.
func describe(fe validator.FieldError) string {
	key := configKey(fe.Namespace())
	switch fe.Tag() {
	case "required", "required_when_enabled", "required_when_ldap_enabled", "required_for_kerberos":
		return fmt.Sprintf("%s is required", key)
	case "oneof":
		return fmt.Sprintf("%s must be one of [%s]", key, fe.Param())
	case "contains_username_token":
		return fmt.Sprintf("%s must contain %s", key, ldap.TokenUsername)
	case "contains_member_dn_token":
		return fmt.Sprintf("%s must contain %s", key, ldap.TokenMemberDN)
	case "dn":
		return fmt.Sprintf("%s must be a valid distinguished name", key)
	case "url":
		return fmt.Sprintf("%s must be a URL", key)
	default:
		if fe.Param() != "" {
			return fmt.Sprintf("%s failed %s=%s", key, fe.Tag(), fe.Param())
		}
		return fmt.Sprintf("%s failed %s", key, fe.Tag())
	}
}

// configKey maps a validator namespace such as Config.LDAP.User.Base to the
// configuration key ldap.user.base.
func configKey(namespace string) string {
	parts := strings.Split(namespace, ".")
	if len(parts) > 1 {
		parts = parts[1:]
	}
	for i, p := range parts {
		parts[i] = toSnake(p)
	}
	return strings.Join(parts, ".")
}

var keyOverrides = map[string]string{
	"LDAP":               "ldap",
	"SSL":                "ssl",
	"SkipTLSVerify":      "skip_tls_verify",
	"DN":                 "dn",
	"SPN":                "spn",
	"CN":                 "cn",
	"EscapeFilterValues": "escape_filter_values",
}

func toSnake(s string) string {
	// strip slice index, e.g. BypassPaths[0]
	name, index, _ := strings.Cut(s, "[")
	if index != "" {
		index = "[" + index
	}

	if o, ok := keyOverrides[name]; ok {
		return o + index
	}

	var b strings.Builder
	for i, r := range name {
		if r >= 'A' && r <= 'Z' {
			if i > 0 {
				b.WriteByte('_')
			}
			r += 'a' - 'A'
		}
		b.WriteRune(r)
	}
	return b.String() + index
}

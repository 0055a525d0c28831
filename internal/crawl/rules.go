package crawl

import (
	"fmt"
	"regexp"
	"strings"
)

// Rule excludes tables whose unqualified name matches it.
type Rule struct {
	re *regexp.Regexp
}

// Exact returns a rule matching name literally.
func Exact(name string) Rule {
	return Rule{re: regexp.MustCompile("^" + regexp.QuoteMeta(name) + "$")}
}

// Pattern returns a rule matching the whole name against a regular
// expression.
func Pattern(expr string) (Rule, error) {
	re, err := regexp.Compile("^(?:" + expr + ")$")
	if err != nil {
		return Rule{}, fmt.Errorf("invalid exclusion pattern %q: %w", expr, err)
	}
	return Rule{re: re}, nil
}

// Match reports whether the rule excludes name.
func (r Rule) Match(name string) bool {
	return r.re != nil && r.re.MatchString(name)
}

func (r Rule) String() string {
	if r.re == nil {
		return ""
	}
	return strings.TrimSuffix(strings.TrimPrefix(r.re.String(), "^"), "$")
}

// DefaultRules skips bookkeeping tables that migration frameworks and app
// runtimes leave behind in embedded databases.
func DefaultRules() []Rule {
	rules := []Rule{
		// Django
		Exact("auth_group"),
		Exact("auth_group_permissions"),
		Exact("auth_permission"),
		Exact("auth_user"),
		Exact("auth_user_groups"),
		Exact("auth_user_user_permissions"),
		Exact("otp_totp_totpdevice"),
		// Liquibase
		Exact("DATABASECHANGELOG"),
		// Flyway
		Exact("SCHEMA_VERSION"),
		// Entity Framework Core
		Exact("_EFMigrationsHistory"),
		Exact("android_metadata"),
	}
	for _, expr := range []string{"django_.*", "sqlite_.*"} {
		r, _ := Pattern(expr)
		rules = append(rules, r)
	}
	return rules
}

// ParseRules compiles user supplied patterns.
func ParseRules(exprs []string) ([]Rule, error) {
	rules := make([]Rule, 0, len(exprs))
	for _, expr := range exprs {
		r, err := Pattern(expr)
		if err != nil {
			return nil, err
		}
		rules = append(rules, r)
	}
	return rules, nil
}

func excluded(rules []Rule, name string) bool {
	for _, r := range rules {
		if r.Match(name) {
			return true
		}
	}
	return false
}
